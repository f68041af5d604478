package signedurl

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var ErrUnknownRoute = errors.New("signed url: unknown route")

// Destination renders the final link given the signed query parameters.
type Destination interface {
	URL(params url.Values) (string, error)
}

// DestinationFunc lets a callback build the link.
type DestinationFunc func(params url.Values) (string, error)

func (f DestinationFunc) URL(params url.Values) (string, error) {
	return f(params)
}

// ToPath points links at path under baseURL. Extra query values are merged
// into the link; the signed parameters always win on conflict.
func ToPath(baseURL, path string, query url.Values) Destination {
	return DestinationFunc(func(params url.Values) (string, error) {
		u, err := url.Parse(baseURL)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		ref, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("parse path: %w", err)
		}
		u = u.ResolveReference(ref)

		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		for k, vs := range params {
			q[k] = vs
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	})
}

// Routes maps route names to paths under a base URL.
type Routes struct {
	baseURL string
	paths   map[string]string
}

func NewRoutes(baseURL string, paths map[string]string) *Routes {
	return &Routes{baseURL: baseURL, paths: paths}
}

// Path returns the path registered for name.
func (r *Routes) Path(name string) (string, bool) {
	p, ok := r.paths[name]
	return p, ok
}

// ToRoute points links at a named route.
func ToRoute(routes *Routes, name string, query url.Values) Destination {
	return DestinationFunc(func(params url.Values) (string, error) {
		path, ok := routes.Path(name)
		if !ok {
			return "", fmt.Errorf("route %q: %w", name, ErrUnknownRoute)
		}
		return ToPath(routes.baseURL, path, query).URL(params)
	})
}

// Builder signs tokens and renders them into destinations.
type Builder struct {
	signer *Signer
}

func NewBuilder(signer *Signer) *Builder {
	return &Builder{signer: signer}
}

// Build returns a link carrying token and store, valid until expiresAt.
func (b *Builder) Build(dest Destination, token, store string, expiresAt time.Time) (string, error) {
	signature, err := b.signer.Sign(token, store, expiresAt)
	if err != nil {
		return "", err
	}
	params := url.Values{
		ParamToken:     {token},
		ParamStore:     {store},
		ParamSignature: {signature},
	}
	return dest.URL(params)
}
