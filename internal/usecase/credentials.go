package usecase

import (
	"maps"
	"slices"
	"strings"
)

// CredentialSpec selects which request fields identify the requester and
// adds literal values on top, for example {"active": "true"}.
type CredentialSpec struct {
	Fields    []string
	Overrides map[string]string
}

// Merge copies the selected fields from request and applies the overrides.
// Overrides win over request values with the same name. Absent fields are
// skipped.
func (s CredentialSpec) Merge(request map[string]string) map[string]string {
	creds := make(map[string]string, len(s.Fields)+len(s.Overrides))
	for _, f := range s.Fields {
		if v, ok := request[f]; ok {
			creds[f] = v
		}
	}
	maps.Copy(creds, s.Overrides)
	return creds
}

// fingerprintParts renders creds in a stable order.
func fingerprintParts(guard string, creds map[string]string) []string {
	parts := []string{guard}
	for _, k := range slices.Sorted(maps.Keys(creds)) {
		parts = append(parts, k+"="+strings.TrimSpace(creds[k]))
	}
	return parts
}
