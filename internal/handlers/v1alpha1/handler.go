package v1alpha1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/internal/service"
	"github.com/serverkit/installer/pkg/requestid"
)

const defaultStreamInterval = time.Second

type ServiceHandler struct {
	jobSrv          *service.JobService
	connectivitySrv *service.ConnectivityService
	supportSrv      *service.SupportService
	requirementsSrv *service.RequirementsService

	sessionCookie  string
	streamInterval time.Duration
}

type HandlerOption func(h *ServiceHandler)

func WithSessionCookie(name string) HandlerOption {
	return func(h *ServiceHandler) {
		if name != "" {
			h.sessionCookie = name
		}
	}
}

func WithStreamInterval(d time.Duration) HandlerOption {
	return func(h *ServiceHandler) {
		if d > 0 {
			h.streamInterval = d
		}
	}
}

func NewServiceHandler(
	jobSrv *service.JobService,
	connectivitySrv *service.ConnectivityService,
	supportSrv *service.SupportService,
	requirementsSrv *service.RequirementsService,
	opts ...HandlerOption,
) *ServiceHandler {
	h := &ServiceHandler{
		jobSrv:          jobSrv,
		connectivitySrv: connectivitySrv,
		supportSrv:      supportSrv,
		requirementsSrv: requirementsSrv,
		sessionCookie:   api.SessionCookie,
		streamInterval:  defaultStreamInterval,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes mounts the API on r.
func (h *ServiceHandler) Routes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/install", h.Install)
		r.Get("/install/progress", h.Progress)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/progress", h.SessionProgress)
			r.Get("/stream", h.Stream)
			r.Get("/logs/{channel}", h.Logs)
			r.Get("/support", h.Support)
		})

		r.Get("/requirements", h.Requirements)
		r.Post("/requirements", h.Requirements)
		r.Post("/database/test", h.TestDatabase)
	})
}

func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	var id *string
	if rid := requestid.FromContext(r.Context()); rid != "" {
		id = &rid
	}
	render.Status(r, status)
	render.JSON(w, r, api.Error{Message: message, RequestId: id})
}
