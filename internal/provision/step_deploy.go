package provision

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/serverkit/installer/pkg/artifacts"
)

type deployStep struct {
	source     artifacts.Source
	installDir string
}

func NewDeployStep(source artifacts.Source, installDir string) Step {
	return &deployStep{source: source, installDir: installDir}
}

func (s *deployStep) Name() string { return "deploy" }

func (s *deployStep) Description() string { return "Deploying application files" }

func (s *deployStep) Run(ctx context.Context, env *Env) error {
	if s.source == nil {
		return errors.New("no artifact source configured")
	}
	dir := installDir(env.Config, s.installDir)

	if env.DryRun {
		objects, err := s.source.List(ctx)
		if err != nil {
			return errors.Wrapf(err, "listing %s artifacts", s.source.Type())
		}
		env.Report.Info("Dry run: application files not copied", map[string]any{
			"source":      s.source.Type(),
			"files":       len(objects),
			"install_dir": dir,
		})
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}

	env.Report.Info("Copying application files", map[string]any{"source": s.source.Type(), "install_dir": dir})
	files, size, err := artifacts.Fetch(ctx, s.source, dir)
	if err != nil {
		return errors.Wrap(err, "deploying application files")
	}
	if files == 0 {
		return errors.Errorf("artifact source %s is empty", s.source.Type())
	}
	env.Report.Info("Application files deployed", map[string]any{"files": files, "bytes": size})
	return nil
}
