// Package credential defines the common shape upstream clients use to
// fetch a fresh authentication value per request, regardless of whether
// it's backed by static-key rotation or an OAuth access token.
package credential

import "context"

// Source returns the credential value to attach to the next outbound
// request. Implementations (rotator.Rotator.Next, oauth.Manager.AccessToken)
// may cache, rotate, or refresh internally; callers must call Source fresh
// for every request rather than caching its result themselves.
type Source func(ctx context.Context) (string, error)

// StaticRotator adapts a key rotator's Next() (which needs no context) to
// the Source shape.
func StaticRotator(next func() string) Source {
	return func(ctx context.Context) (string, error) {
		return next(), nil
	}
}
