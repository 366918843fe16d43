package opa

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
)

//go:embed policies/*.rego
var defaultPolicies embed.FS

// PolicyReader Handle policy discovery and file reading
type PolicyReader struct {
	fsys fs.FS
}

// NewPolicyReader reads policies from the local filesystem.
func NewPolicyReader() *PolicyReader {
	return &PolicyReader{fsys: os.DirFS("/")}
}

// NewEmbeddedPolicyReader reads the policies shipped with the binary.
func NewEmbeddedPolicyReader() *PolicyReader {
	return &PolicyReader{fsys: defaultPolicies}
}

// ReadPolicies Read all .rego policy files from the specified directory
func (pr *PolicyReader) ReadPolicies(policiesDir string) (map[string]string, error) {
	dir := strings.TrimPrefix(path.Clean(policiesDir), "/")
	if dir == "" {
		dir = "."
	}

	entries, err := fs.ReadDir(pr.fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies directory: %w", err)
	}

	policies := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") ||
			strings.HasSuffix(entry.Name(), "_test.rego") {
			continue
		}

		p := path.Join(dir, entry.Name())
		content, err := fs.ReadFile(pr.fsys, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", p, err)
		}

		policies[entry.Name()] = string(content)
		zap.S().Named("opa").Debugf("Read policy: %s", entry.Name())
	}

	if len(policies) == 0 {
		return nil, fmt.Errorf("no .rego policy files found in directory: %s", policiesDir)
	}

	zap.S().Named("opa").Infof("Successfully read %d policy files from: %s", len(policies), policiesDir)
	return policies, nil
}
