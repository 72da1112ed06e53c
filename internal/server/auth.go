package server

import (
	"context"
	"net/http"

	"github.com/foliopilot/foliopilot/internal/errs"
)

// User is the authenticated caller of a request.
type User struct {
	ID   string
	Tier string
}

// Authenticator resolves the caller of a request. Session handling is
// deployment-specific; the server only needs an identity and a tier.
type Authenticator interface {
	CurrentUser(r *http.Request) (*User, error)
}

// StaticAuthenticator admits every request as a fixed user. It backs
// single-user deployments and tests.
type StaticAuthenticator struct {
	User User
}

func (a StaticAuthenticator) CurrentUser(*http.Request) (*User, error) {
	u := a.User
	if u.ID == "" {
		return nil, errs.New(errs.Unauthenticated, "not authenticated")
	}
	return &u, nil
}

type ctxKey int

const userKey ctxKey = iota

// userFrom returns the authenticated user stored by the auth middleware.
func userFrom(ctx context.Context) *User {
	u, _ := ctx.Value(userKey).(*User)
	return u
}

// requireUser authenticates the request and stores the user on the
// context. Failures are written as 401 before the handler runs.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := s.auth.CurrentUser(r)
		if err != nil || u == nil {
			writeError(w, errs.New(errs.Unauthenticated, "not authenticated"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}
