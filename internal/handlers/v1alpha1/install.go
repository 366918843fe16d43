package v1alpha1

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/handlers/v1alpha1/mappers"
	"github.com/serverkit/installer/internal/service"
)

func (h *ServiceHandler) Install(w http.ResponseWriter, r *http.Request) {
	logger := zap.S().Named("install_handler")

	var body api.InstallConfig
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		message := "invalid request body: " + err.Error()
		if errors.Is(err, io.EOF) {
			message = "No data received"
		}
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, mappers.RejectedInstallToApi(message))
		return
	}

	session, fresh := h.submissionSession(r)
	info, err := h.jobSrv.Submit(r.Context(), session, mappers.InstallConfigFromApi(body))
	if err != nil {
		status := http.StatusInternalServerError
		switch err.(type) {
		case *service.ErrSubmission:
			status = http.StatusBadRequest
		case *service.ErrJobInProgress:
			status = http.StatusConflict
		case *service.ErrSpawn:
			status = http.StatusServiceUnavailable
		default:
			logger.Errorw("failed to submit installation", "session", session, "error", err)
		}
		render.Status(r, status)
		render.JSON(w, r, mappers.RejectedInstallToApi(err.Error()))
		return
	}

	h.handSession(w, session, fresh)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, mappers.InstallResponseToApi(info))
}

func (h *ServiceHandler) Progress(w http.ResponseWriter, r *http.Request) {
	h.renderProgress(w, r, h.sessionFromRequest(r))
}

func (h *ServiceHandler) SessionProgress(w http.ResponseWriter, r *http.Request) {
	h.renderProgress(w, r, chi.URLParam(r, "id"))
}

func (h *ServiceHandler) renderProgress(w http.ResponseWriter, r *http.Request, session string) {
	if session == "" {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, mappers.ProgressToApi(service.NotFoundResult()))
		return
	}

	result, err := h.jobSrv.Poll(r.Context(), session)
	if err != nil {
		switch err.(type) {
		case *service.ErrJobNotFound:
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, mappers.ProgressToApi(result))
		default:
			zap.S().Named("install_handler").Errorw("failed to poll installation", "session", session, "error", err)
			renderError(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}

	render.JSON(w, r, mappers.ProgressToApi(result))
}
