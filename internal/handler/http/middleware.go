package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/utafrali/cartsync/internal/domain"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
	"github.com/utafrali/cartsync/pkg/httputil"
	"github.com/utafrali/cartsync/pkg/logger"
	"github.com/utafrali/cartsync/pkg/middleware"
)

// Identity headers.
const (
	HeaderUserID  = "X-User-ID"
	HeaderGuestID = "X-Guest-ID"
)

type subjectKey struct{}

// IdentityConfig controls how a request is mapped to a subject.
type IdentityConfig struct {
	// TrustUserHeader accepts X-User-ID as set by an upstream gateway that
	// has already authenticated the caller.
	TrustUserHeader bool
	// AllowGuests accepts X-Guest-ID for anonymous sessions.
	AllowGuests bool
}

// Identity resolves the caller to a subject: a bearer token validated by
// middleware.OptionalAuth, then X-User-ID, then X-Guest-ID. Requests with
// none of these are rejected with 401.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := resolveSubject(r, cfg)
			if !ok {
				httputil.WriteError(w, r, apperrors.Unauthorized("authentication required: send a bearer token or "+HeaderGuestID), nil)
				return
			}
			if err := subject.Validate(); err != nil {
				httputil.WriteError(w, r, err, nil)
				return
			}
			ctx := context.WithValue(r.Context(), subjectKey{}, subject)
			ctx = logger.WithSubject(ctx, subject.Key())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveSubject(r *http.Request, cfg IdentityConfig) (domain.Subject, bool) {
	if id := middleware.UserIDFromContext(r.Context()); id != "" {
		return domain.User(id), true
	}
	if cfg.TrustUserHeader {
		if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
			return domain.User(id), true
		}
	}
	if cfg.AllowGuests {
		if id := strings.TrimSpace(r.Header.Get(HeaderGuestID)); id != "" {
			return domain.GuestSession(id), true
		}
	}
	return domain.Subject{}, false
}

// SubjectFromContext returns the subject stored by Identity.
func SubjectFromContext(ctx context.Context) (domain.Subject, bool) {
	s, ok := ctx.Value(subjectKey{}).(domain.Subject)
	return s, ok
}

// subjectRateKey limits per subject, falling back to the client address.
func subjectRateKey(r *http.Request) string {
	if s, ok := SubjectFromContext(r.Context()); ok {
		return s.Key()
	}
	return r.RemoteAddr
}

// ContentTypeJSON rejects bodies that are not declared as JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
