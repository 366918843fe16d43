// Package requirements checks that the host can run an installation before the
// wizard lets the user submit one.
package requirements

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/serverkit/installer/internal/opa"
	"github.com/serverkit/installer/internal/sysinfo"
)

type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
)

type Category string

const (
	CategorySystem  Category = "system"
	CategoryCommand Category = "command"
	CategoryService Category = "service"
)

const (
	commandPrefix = "cmd_"
	servicePrefix = "service_"

	mb = 1024 * 1024
	gb = 1024 * mb
)

// CategoryOf derives the category of a check from its key.
func CategoryOf(key string) Category {
	switch {
	case strings.HasPrefix(key, commandPrefix):
		return CategoryCommand
	case strings.HasPrefix(key, servicePrefix):
		return CategoryService
	default:
		return CategorySystem
	}
}

type Check struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Status   Status   `json:"status"`
	Critical bool     `json:"critical"`
	Message  string   `json:"message"`
}

type Report struct {
	Checks     map[string]Check `json:"checks"`
	CanProceed bool             `json:"canProceed"`
	Blocking   []string         `json:"blocking"`
	Warnings   []string         `json:"warnings"`
}

// ByCategory groups the checks of the report the way the wizard displays
// them.
func (r Report) ByCategory() map[Category]map[string]Check {
	out := map[Category]map[string]Check{}
	for key, c := range r.Checks {
		if out[c.Category] == nil {
			out[c.Category] = map[string]Check{}
		}
		out[c.Category][key] = c
	}
	return out
}

type Options struct {
	MinDiskGB   uint64
	MinMemoryMB uint64
	DiskPath    string
	WritableDir string
	Commands    []string
	Services    []string
}

// Gate decides which checks prevent the installation.
type Gate interface {
	Evaluate(ctx context.Context, checks map[string]opa.CheckInput) (opa.Decision, error)
}

type FactsFunc func(ctx context.Context, diskPath string) (sysinfo.Facts, error)

type LookPathFunc func(file string) (string, error)

// ServiceProbe reports whether a system service is active.
type ServiceProbe func(ctx context.Context, name string) (bool, error)

type Checker struct {
	opts     Options
	gate     Gate
	facts    FactsFunc
	lookPath LookPathFunc
	service  ServiceProbe
}

type CheckerOption func(c *Checker)

func WithFacts(fn FactsFunc) CheckerOption {
	return func(c *Checker) {
		c.facts = fn
	}
}

func WithLookPath(fn LookPathFunc) CheckerOption {
	return func(c *Checker) {
		c.lookPath = fn
	}
}

func WithServiceProbe(fn ServiceProbe) CheckerOption {
	return func(c *Checker) {
		c.service = fn
	}
}

func NewChecker(opts Options, gate Gate, options ...CheckerOption) *Checker {
	c := &Checker{
		opts:     opts,
		gate:     gate,
		facts:    sysinfo.Collect,
		lookPath: exec.LookPath,
		service:  systemctlIsActive,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Run performs every check concurrently and asks the gate for the verdict.
func (c *Checker) Run(ctx context.Context) (Report, error) {
	var (
		mu     sync.Mutex
		checks = map[string]Check{}
	)
	add := func(key string, check Check) {
		check.Category = CategoryOf(key)
		mu.Lock()
		checks[key] = check
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		facts, err := c.facts(gctx, c.opts.DiskPath)
		if err != nil {
			zap.S().Named("requirements").Debugw("incomplete host facts", "error", err)
		}
		add("os", c.checkOS(facts))
		add("privileges", c.checkPrivileges(facts))
		add("disk_space", c.checkDisk(facts))
		add("memory", c.checkMemory(facts))
		return nil
	})

	if c.opts.WritableDir != "" {
		g.Go(func() error {
			add("log_directory", c.checkWritable(c.opts.WritableDir))
			return nil
		})
	}

	for _, name := range c.opts.Commands {
		g.Go(func() error {
			add(commandPrefix+name, c.checkCommand(name))
			return nil
		})
	}

	for _, name := range c.opts.Services {
		g.Go(func() error {
			add(servicePrefix+name, c.checkService(gctx, name))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	input := make(map[string]opa.CheckInput, len(checks))
	for k, v := range checks {
		input[k] = opa.CheckInput{Status: string(v.Status), Critical: v.Critical}
	}
	decision, err := c.gate.Evaluate(ctx, input)
	if err != nil {
		return Report{}, fmt.Errorf("evaluating requirements policy: %w", err)
	}

	return Report{
		Checks:     checks,
		CanProceed: len(decision.Blocking) == 0,
		Blocking:   decision.Blocking,
		Warnings:   decision.Warnings,
	}, nil
}

func (c *Checker) checkOS(f sysinfo.Facts) Check {
	check := Check{Name: "Operating system", Critical: true}
	goos := f.OS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos != "linux" {
		check.Status = StatusFail
		check.Message = fmt.Sprintf("%s is not supported, a Linux host is required", goos)
		return check
	}
	check.Status = StatusPass
	check.Message = strings.TrimSpace(fmt.Sprintf("%s %s (%s)", f.Platform, f.PlatformVersion, f.Arch))
	return check
}

func (c *Checker) checkPrivileges(f sysinfo.Facts) Check {
	check := Check{Name: "Administrator privileges", Critical: false}
	if f.IsRoot() {
		check.Status = StatusPass
		check.Message = "running as root"
		return check
	}
	check.Status = StatusWarning
	check.Message = fmt.Sprintf("running as %q, package installation and service reloads may fail", f.User)
	return check
}

func (c *Checker) checkDisk(f sysinfo.Facts) Check {
	check := Check{Name: "Disk space", Critical: true}
	if f.DiskTotal == 0 {
		check.Status = StatusWarning
		check.Message = fmt.Sprintf("could not determine free space on %s", f.DiskPath)
		return check
	}
	free := float64(f.DiskFree) / gb
	if f.DiskFree < c.opts.MinDiskGB*gb {
		check.Status = StatusFail
		check.Message = fmt.Sprintf("%.1f GB free on %s, %d GB required", free, f.DiskPath, c.opts.MinDiskGB)
		return check
	}
	check.Status = StatusPass
	check.Message = fmt.Sprintf("%.1f GB free on %s", free, f.DiskPath)
	return check
}

// checkMemory fails below half of the required memory and warns below the
// requirement itself.
func (c *Checker) checkMemory(f sysinfo.Facts) Check {
	check := Check{Name: "Memory", Critical: true}
	if f.MemoryTotal == 0 {
		check.Status = StatusWarning
		check.Message = "could not determine installed memory"
		return check
	}
	total := f.MemoryTotal / mb
	switch {
	case total < c.opts.MinMemoryMB/2:
		check.Status = StatusFail
		check.Message = fmt.Sprintf("%d MB installed, %d MB required", total, c.opts.MinMemoryMB)
	case total < c.opts.MinMemoryMB:
		check.Status = StatusWarning
		check.Message = fmt.Sprintf("%d MB installed, %d MB recommended", total, c.opts.MinMemoryMB)
	default:
		check.Status = StatusPass
		check.Message = fmt.Sprintf("%d MB installed", total)
	}
	return check
}

func (c *Checker) checkWritable(dir string) Check {
	check := Check{Name: "Log directory", Critical: true}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		check.Status = StatusFail
		check.Message = fmt.Sprintf("cannot create %s: %s", dir, err)
		return check
	}
	f, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		check.Status = StatusFail
		check.Message = fmt.Sprintf("%s is not writable", dir)
		return check
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	check.Status = StatusPass
	check.Message = fmt.Sprintf("%s is writable", filepath.Clean(dir))
	return check
}

func (c *Checker) checkCommand(name string) Check {
	check := Check{Name: fmt.Sprintf("Command %s", name), Critical: true}
	path, err := c.lookPath(name)
	if err != nil {
		check.Status = StatusFail
		check.Message = fmt.Sprintf("%s was not found in PATH", name)
		return check
	}
	check.Status = StatusPass
	check.Message = path
	return check
}

func (c *Checker) checkService(ctx context.Context, name string) Check {
	check := Check{Name: fmt.Sprintf("Service %s", name), Critical: false}
	active, err := c.service(ctx, name)
	switch {
	case err != nil:
		check.Status = StatusWarning
		check.Message = fmt.Sprintf("could not query %s: %s", name, err)
	case !active:
		check.Status = StatusFail
		check.Message = fmt.Sprintf("%s is not running", name)
	default:
		check.Status = StatusPass
		check.Message = fmt.Sprintf("%s is running", name)
	}
	return check
}

func systemctlIsActive(ctx context.Context, name string) (bool, error) {
	err := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", name).Run()
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return false, nil
	}
	return false, err
}
