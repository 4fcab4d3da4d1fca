package httpapi

import (
	"net/http"

	"datanerd/internal/errs"
)

// Role orders the access levels: admin covers query covers read.
type Role int

const (
	RoleRead Role = iota
	RoleQuery
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleQuery:
		return "query"
	default:
		return "read"
	}
}

// RoleHook resolves the caller's role from the request. A nil hook leaves
// every endpoint open; the server logs a warning at construction in that
// case. Hook errors surface as Unauthorized unless they already carry the
// RateLimited kind.
type RoleHook func(r *http.Request) (Role, error)

// require wraps a handler with a minimum role check.
func (s *Server) require(min Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.hook == nil {
			next(w, r)
			return
		}
		role, err := s.hook(r)
		if err != nil {
			if errs.Is(err, errs.KindRateLimited) {
				s.writeError(w, r, err)
				return
			}
			s.writeError(w, r, errs.Wrap(err, errs.KindUnauthorized, "Access denied"))
			return
		}
		if role < min {
			s.writeError(w, r, errs.New(errs.KindUnauthorized, "Access denied").
				WithHint("this endpoint requires the "+min.String()+" role"))
			return
		}
		next(w, r)
	}
}
