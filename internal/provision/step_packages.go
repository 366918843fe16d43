package provision

import (
	"context"
)

type packagesStep struct {
	manager  string
	packages []string
}

func NewPackagesStep(manager string, packages []string) Step {
	if manager == "" {
		manager = "apt-get"
	}
	return &packagesStep{manager: manager, packages: packages}
}

func (s *packagesStep) Name() string { return "packages" }

func (s *packagesStep) Description() string { return "Installing system packages" }

func (s *packagesStep) Run(ctx context.Context, env *Env) error {
	if len(s.packages) == 0 {
		env.Report.Warning("No system packages configured, skipping", nil)
		return nil
	}

	env.Report.Info("Installing system packages", map[string]any{
		"manager":  s.manager,
		"packages": s.packages,
	})

	switch s.manager {
	case "apt-get":
		if err := run(ctx, env, "apt-get", "update", "-q"); err != nil {
			return err
		}
		args := append([]string{"install", "-y", "-q"}, s.packages...)
		return run(ctx, env, "apt-get", args...)
	case "dnf", "yum":
		args := append([]string{"install", "-y", "-q"}, s.packages...)
		return run(ctx, env, s.manager, args...)
	case "apk":
		args := append([]string{"add", "--no-cache"}, s.packages...)
		return run(ctx, env, "apk", args...)
	default:
		args := append([]string{"install"}, s.packages...)
		return run(ctx, env, s.manager, args...)
	}
}
