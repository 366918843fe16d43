package opa

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const requirementsQuery = "data.installer.requirements"

// CheckInput is the policy view of a single requirement check.
type CheckInput struct {
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Blocking []string
	Warnings []string
}

// Validator handles policy compilation and evaluates requirement checks
type Validator struct {
	preparedQuery rego.PreparedEvalQuery
}

// NewDefaultValidator compiles the policies shipped with the binary.
func NewDefaultValidator() (*Validator, error) {
	policies, err := NewEmbeddedPolicyReader().ReadPolicies("policies")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded policies: %w", err)
	}
	return NewValidator(policies)
}

func NewValidatorFromDir(policiesDir string) (*Validator, error) {
	abs, err := filepath.Abs(policiesDir)
	if err != nil {
		return nil, err
	}

	policies, err := NewPolicyReader().ReadPolicies(filepath.ToSlash(abs))
	if err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}

	return NewValidator(policies)
}

func NewValidator(policies map[string]string) (*Validator, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("no policies provided for validation")
	}

	validator := &Validator{}

	if err := validator.compilePolicies(policies); err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}

	zap.S().Named("opa").Infof("OPA validator initialized with %d policies", len(policies))
	return validator, nil
}

// compilePolicies Compile the provided policy content and prepares the query
func (v *Validator) compilePolicies(policies map[string]string) error {
	compiler := ast.NewCompiler()
	modules := make(map[string]*ast.Module)

	for filename, content := range policies {
		module, err := ast.ParseModuleWithOpts(filename, content, ast.ParserOptions{
			RegoVersion: ast.RegoV1,
		})
		if err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", filename, err)
		}
		modules[filename] = module
	}

	compiler.Compile(modules)
	if compiler.Failed() {
		return fmt.Errorf("policy compilation failed: %v", compiler.Errors)
	}

	r := rego.New(
		rego.Query(requirementsQuery),
		rego.Compiler(compiler),
		rego.SetRegoVersion(ast.RegoV1),
	)

	preparedQuery, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare rego query: %w", err)
	}

	v.preparedQuery = preparedQuery
	return nil
}

// Evaluate returns the names of the checks that block the installation and
// of those that only warn. Both lists are sorted.
func (v *Validator) Evaluate(ctx context.Context, checks map[string]CheckInput) (Decision, error) {
	input := map[string]any{"checks": checks}

	resultSet, err := v.preparedQuery.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("policy evaluation failed: %w", err)
	}

	if len(resultSet) == 0 || len(resultSet[0].Expressions) == 0 {
		zap.S().Named("opa").Debug("No policy results returned")
		return Decision{Blocking: []string{}, Warnings: []string{}}, nil
	}

	doc, ok := resultSet[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("unexpected result type from policy evaluation: %T", resultSet[0].Expressions[0].Value)
	}

	blocking, err := names(doc["blocking"])
	if err != nil {
		return Decision{}, err
	}
	warnings, err := names(doc["warnings"])
	if err != nil {
		return Decision{}, err
	}
	return Decision{Blocking: blocking, Warnings: warnings}, nil
}

func names(v any) ([]string, error) {
	out := []string{}
	if v == nil {
		return out, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected policy value type %T", v)
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected policy entry type %T", item)
		}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
