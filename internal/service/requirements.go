package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/serverkit/installer/internal/requirements"
)

type RequirementsService struct {
	checker *requirements.Checker
}

func NewRequirementsService(checker *requirements.Checker) *RequirementsService {
	return &RequirementsService{checker: checker}
}

func (s *RequirementsService) Check(ctx context.Context) (*requirements.Report, error) {
	report, err := s.checker.Run(ctx)
	if err != nil {
		return nil, err
	}
	if !report.CanProceed {
		zap.S().Named("requirements_service").Infow("requirements not met", "blocking", report.Blocking)
	}
	return &report, nil
}
