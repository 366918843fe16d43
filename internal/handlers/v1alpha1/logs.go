package v1alpha1

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/serverkit/installer/internal/service"
)

func (h *ServiceHandler) Logs(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "id")

	content, err := h.supportSrv.Logs(r.Context(), session, chi.URLParam(r, "channel"))
	if err != nil {
		switch err.(type) {
		case *service.ErrInvalidLogChannel:
			renderError(w, r, http.StatusBadRequest, err.Error())
		case *service.ErrJobNotFound:
			renderError(w, r, http.StatusNotFound, err.Error())
		default:
			zap.S().Named("logs_handler").Errorw("failed to read logs", "session", session, "error", err)
			renderError(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}

// Support sends the support bundle of a session as a zip download. The bundle
// is built in memory so that a failure can still be reported as JSON.
func (h *ServiceHandler) Support(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "id")

	var buf bytes.Buffer
	if err := h.supportSrv.WriteBundle(r.Context(), session, &buf); err != nil {
		switch err.(type) {
		case *service.ErrJobNotFound:
			renderError(w, r, http.StatusNotFound, err.Error())
		default:
			zap.S().Named("logs_handler").Errorw("failed to build support bundle", "session", session, "error", err)
			renderError(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.supportSrv.BundleName(session)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
