package v1alpha1

import (
	"net/http"

	"github.com/google/uuid"

	api "github.com/serverkit/installer/api/v1alpha1"
)

// sessionFromRequest returns the session named by the request header or, if
// absent, by the session cookie.
func (h *ServiceHandler) sessionFromRequest(r *http.Request) string {
	if s := r.Header.Get(api.SessionHeader); s != "" {
		return s
	}
	if c, err := r.Cookie(h.sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// submissionSession is sessionFromRequest for submissions: a request without
// a session gets a new one. fresh reports whether it was just created.
func (h *ServiceHandler) submissionSession(r *http.Request) (session string, fresh bool) {
	if session = h.sessionFromRequest(r); session != "" {
		return session, false
	}
	return uuid.NewString(), true
}

// handSession returns the session of an accepted submission to the client,
// as a header and, when it is new, as a cookie.
func (h *ServiceHandler) handSession(w http.ResponseWriter, session string, fresh bool) {
	if fresh {
		http.SetCookie(w, &http.Cookie{
			Name:     h.sessionCookie,
			Value:    session,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set(api.SessionHeader, session)
}
