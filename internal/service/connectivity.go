package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/serverkit/installer/internal/handlers/validator"
	"github.com/serverkit/installer/internal/joblog"
	"github.com/serverkit/installer/internal/store/model"
)

const connectivityTimeout = 30 * time.Second

// Prober checks that the administrative database account can do what an
// installation needs.
type Prober interface {
	Probe(ctx context.Context, cfg model.DatabaseConfig) error
}

type ConnectivityResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ConnectivityService struct {
	prober    Prober
	validator *validator.Validator
}

func NewConnectivityService(prober Prober) *ConnectivityService {
	return &ConnectivityService{prober: prober, validator: validator.NewInstallValidator()}
}

// Test runs the probe against cfg. A failing probe is a normal result, not an
// error: the error return is reserved for invalid input.
func (s *ConnectivityService) Test(ctx context.Context, cfg *model.DatabaseConfig) (*ConnectivityResult, error) {
	if cfg == nil {
		return nil, NewErrSubmission("database configuration is required")
	}
	if err := s.validator.Struct(cfg); err != nil {
		return nil, NewErrSubmission("%s", err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectivityTimeout)
	defer cancel()

	if err := s.prober.Probe(ctx, *cfg); err != nil {
		message := joblog.MaskValues(err.Error(), cfg.RootPassword, cfg.Password)
		zap.S().Named("connectivity_service").Infow("database probe failed", "host", cfg.Host, "error", message)
		return &ConnectivityResult{Success: false, Message: "Database connection failed: " + message}, nil
	}

	return &ConnectivityResult{
		Success: true,
		Message: "Database connection successful. The administrative account can create databases and users.",
	}, nil
}
