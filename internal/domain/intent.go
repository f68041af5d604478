package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
)

// LoginIntent is the payload bound to an email login token: who gets logged
// in, into which guard, and under what conditions. The zero value is not a
// valid intent; build one with NewLoginIntent.
//
// A LoginIntent never changes after construction. Accessors that expose the
// metadata return copies.
type LoginIntent struct {
	guard    string
	id       any
	remember bool
	intended string
	metadata map[string]string
}

// NewLoginIntent validates and normalizes the identity key. Integer keys of
// any width are stored as int64, an Identifiable is reduced to its
// identifier, and an empty intended path means "no redirect target".
func NewLoginIntent(guard string, id any, remember bool, intended string, metadata map[string]string) (LoginIntent, error) {
	key, err := NormalizeIdentity(id)
	if err != nil {
		return LoginIntent{}, err
	}

	md := make(map[string]string, len(metadata))
	maps.Copy(md, metadata)

	return LoginIntent{
		guard:    guard,
		id:       key,
		remember: remember,
		intended: intended,
		metadata: md,
	}, nil
}

// NormalizeIdentity reduces id to a string or an int64.
func NormalizeIdentity(id any) (any, error) {
	switch v := id.(type) {
	case Identifiable:
		return NormalizeIdentity(v.AuthIdentifier())
	case string:
		if v == "" {
			return nil, ErrInvalidIdentity
		}
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return uintIdentity(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return uintIdentity(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		return nil, ErrInvalidIdentity
	default:
		return nil, ErrInvalidIdentity
	}
}

func uintIdentity(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, ErrInvalidIdentity
	}
	return int64(v), nil
}

func (i LoginIntent) Guard() string  { return i.guard }
func (i LoginIntent) ID() any        { return i.id }
func (i LoginIntent) Remember() bool { return i.remember }

// Intended returns the post-login redirect target, or "" when none was set.
func (i LoginIntent) Intended() string { return i.intended }

// IDString renders the identity key for places that only carry strings,
// such as session cookies.
func (i LoginIntent) IDString() string {
	switch v := i.id.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	default:
		return ""
	}
}

// Metadata returns the value stored under key, or def when absent.
func (i LoginIntent) Metadata(key, def string) string {
	if v, ok := i.metadata[key]; ok {
		return v
	}
	return def
}

// MetadataMap returns a copy of all metadata.
func (i LoginIntent) MetadataMap() map[string]string {
	md := make(map[string]string, len(i.metadata))
	maps.Copy(md, i.metadata)
	return md
}

// Equal compares two intents field by field.
func (i LoginIntent) Equal(other LoginIntent) bool {
	return i.guard == other.guard &&
		i.id == other.id &&
		i.remember == other.remember &&
		i.intended == other.intended &&
		maps.Equal(i.metadata, other.metadata)
}

// ToMap returns the flat structural form of the intent. A missing intended
// path is represented by a nil value.
func (i LoginIntent) ToMap() map[string]any {
	var intended any
	if i.intended != "" {
		intended = i.intended
	}
	return map[string]any{
		"guard":    i.guard,
		"id":       i.id,
		"remember": i.remember,
		"intended": intended,
		"metadata": i.MetadataMap(),
	}
}

// LoginIntentFromMap rebuilds an intent from the output of ToMap.
func LoginIntentFromMap(m map[string]any) (LoginIntent, error) {
	guard, ok := m["guard"].(string)
	if !ok {
		return LoginIntent{}, fmt.Errorf("login intent: guard must be a string")
	}
	remember, _ := m["remember"].(bool)

	var intended string
	switch v := m["intended"].(type) {
	case nil:
	case string:
		intended = v
	default:
		return LoginIntent{}, fmt.Errorf("login intent: intended must be a string or nil")
	}

	var metadata map[string]string
	switch v := m["metadata"].(type) {
	case nil:
	case map[string]string:
		metadata = v
	case map[string]any:
		metadata = make(map[string]string, len(v))
		for k, raw := range v {
			s, ok := raw.(string)
			if !ok {
				return LoginIntent{}, fmt.Errorf("login intent: metadata %q must be a string", k)
			}
			metadata[k] = s
		}
	default:
		return LoginIntent{}, fmt.Errorf("login intent: metadata must be a map")
	}

	return NewLoginIntent(guard, m["id"], remember, intended, metadata)
}

type loginIntentJSON struct {
	Guard    string            `json:"guard"`
	ID       any               `json:"id"`
	Remember bool              `json:"remember"`
	Intended *string           `json:"intended"`
	Metadata map[string]string `json:"metadata"`
}

func (i LoginIntent) MarshalJSON() ([]byte, error) {
	out := loginIntentJSON{
		Guard:    i.guard,
		ID:       i.id,
		Remember: i.remember,
		Metadata: i.MetadataMap(),
	}
	if i.intended != "" {
		intended := i.intended
		out.Intended = &intended
	}
	return json.Marshal(out)
}

func (i *LoginIntent) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var in loginIntentJSON
	if err := dec.Decode(&in); err != nil {
		return fmt.Errorf("decode login intent: %w", err)
	}

	var intended string
	if in.Intended != nil {
		intended = *in.Intended
	}

	decoded, err := NewLoginIntent(in.Guard, in.ID, in.Remember, intended, in.Metadata)
	if err != nil {
		return fmt.Errorf("decode login intent: %w", err)
	}
	*i = decoded
	return nil
}

func (i LoginIntent) String() string {
	b, err := i.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}
