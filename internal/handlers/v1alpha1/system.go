package v1alpha1

import (
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/handlers/v1alpha1/mappers"
	"github.com/serverkit/installer/internal/service"
)

func (h *ServiceHandler) Requirements(w http.ResponseWriter, r *http.Request) {
	report, err := h.requirementsSrv.Check(r.Context())
	if err != nil {
		zap.S().Named("requirements_handler").Errorw("failed to check requirements", "error", err)
		renderError(w, r, http.StatusInternalServerError, "failed to check requirements: "+err.Error())
		return
	}
	render.JSON(w, r, mappers.RequirementsToApi(report))
}

func (h *ServiceHandler) TestDatabase(w http.ResponseWriter, r *http.Request) {
	var body api.DatabaseConfig
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, api.DatabaseTestResponse{Success: false, Message: "invalid request body: " + err.Error()})
		return
	}

	result, err := h.connectivitySrv.Test(r.Context(), mappers.DatabaseConfigFromApi(body))
	if err != nil {
		switch err.(type) {
		case *service.ErrSubmission:
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, api.DatabaseTestResponse{Success: false, Message: err.Error()})
		default:
			renderError(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}
	render.JSON(w, r, mappers.DatabaseTestToApi(result))
}
