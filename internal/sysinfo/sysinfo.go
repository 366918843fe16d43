// Package sysinfo gathers host facts reported by the installer: they go to the
// debug log when a job starts, feed the requirement checks and end up in the
// support bundle.
package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

type Facts struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Arch            string `json:"arch"`
	CPUs            int    `json:"cpus"`
	MemoryTotal     uint64 `json:"memory_total"`
	MemoryAvailable uint64 `json:"memory_available"`
	DiskPath        string `json:"disk_path"`
	DiskTotal       uint64 `json:"disk_total"`
	DiskFree        uint64 `json:"disk_free"`
	GoVersion       string `json:"go_version"`
	PID             int    `json:"pid"`
	User            string `json:"user"`
	UID             int    `json:"uid"`
}

// Collect reads the facts of the current host. Facts that cannot be read are
// left zero and reported in the returned error; the rest is still filled.
func Collect(ctx context.Context, diskPath string) (Facts, error) {
	if diskPath == "" {
		diskPath = "/"
	}
	f := Facts{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		DiskPath:  diskPath,
		GoVersion: runtime.Version(),
		PID:       os.Getpid(),
		UID:       os.Geteuid(),
	}

	var errs []error

	if h, err := host.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("host info: %w", err))
	} else {
		f.Hostname = h.Hostname
		f.Platform = h.Platform
		f.PlatformVersion = h.PlatformVersion
		f.KernelVersion = h.KernelVersion
		if h.KernelArch != "" {
			f.Arch = h.KernelArch
		}
	}

	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		errs = append(errs, fmt.Errorf("cpu count: %w", err))
	} else {
		f.CPUs = n
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		f.MemoryTotal = vm.Total
		f.MemoryAvailable = vm.Available
	}

	if du, err := disk.UsageWithContext(ctx, diskPath); err != nil {
		errs = append(errs, fmt.Errorf("disk usage of %s: %w", diskPath, err))
	} else {
		f.DiskTotal = du.Total
		f.DiskFree = du.Free
	}

	if u, err := user.Current(); err == nil {
		f.User = u.Username
	}

	return f, errors.Join(errs...)
}

// IsRoot reports whether the process runs with root privileges.
func (f Facts) IsRoot() bool {
	return f.UID == 0
}

// Map renders the facts as a log context.
func (f Facts) Map() map[string]any {
	return map[string]any{
		"hostname":         f.Hostname,
		"os":               f.OS,
		"platform":         f.Platform,
		"platform_version": f.PlatformVersion,
		"kernel_version":   f.KernelVersion,
		"arch":             f.Arch,
		"cpus":             f.CPUs,
		"memory_total":     f.MemoryTotal,
		"memory_available": f.MemoryAvailable,
		"disk_path":        f.DiskPath,
		"disk_total":       f.DiskTotal,
		"disk_free":        f.DiskFree,
		"go_version":       f.GoVersion,
		"pid":              f.PID,
		"user":             f.User,
	}
}
