package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/license-workflow/catalog"
	"github.com/songzhibin97/license-workflow/roles"
	"github.com/songzhibin97/license-workflow/rules"
	"github.com/songzhibin97/license-workflow/types"
	"github.com/songzhibin97/license-workflow/workflow"
)

// document is the on-disk shape of a workflow definition file.
type document struct {
	Catalog   catalog.Definition `yaml:"catalog"`
	Hierarchy roles.Definition   `yaml:"hierarchy"`
	Users     []userDef          `yaml:"users" validate:"dive"`
}

type userDef struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name"`
	Role string `yaml:"role" validate:"required"`
}

// Definition is the validated workflow vocabulary a process runs with.
type Definition struct {
	Catalog   *catalog.Catalog
	Hierarchy *roles.Hierarchy
	Users     []types.User
}

// LoadDefinition reads a definition file. An empty path yields the built-in
// catalog and hierarchy with no users.
func LoadDefinition(path string) (*Definition, error) {
	if path == "" {
		return ParseDefinition(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes and validates a YAML definition. Missing sections
// fall back to the built-in defaults.
func ParseDefinition(data []byte) (*Definition, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	cat, err := catalog.New(doc.Catalog)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	h, err := roles.New(doc.Hierarchy)
	if err != nil {
		return nil, fmt.Errorf("invalid hierarchy: %w", err)
	}
	if err := checkPredicates(h); err != nil {
		return nil, err
	}

	users := make([]types.User, 0, len(doc.Users))
	seen := make(map[string]struct{}, len(doc.Users))
	for _, u := range doc.Users {
		if _, ok := h.Role(u.Role); !ok {
			return nil, fmt.Errorf("user %s: %w: %s", u.ID, roles.ErrUnknownRole, u.Role)
		}
		if _, dup := seen[u.ID]; dup {
			return nil, fmt.Errorf("duplicate user %s", u.ID)
		}
		seen[u.ID] = struct{}{}
		users = append(users, types.User{ID: u.ID, Name: u.Name, RoleCode: u.Role})
	}

	return &Definition{Catalog: cat, Hierarchy: h, Users: users}, nil
}

// checkPredicates compiles every artifact waiver against the fact set the
// transition function supplies, so typos fail at startup.
func checkPredicates(h *roles.Hierarchy) error {
	eval := rules.NewExprEvaluator()
	sample := workflow.Facts(&types.Application{}, workflow.ActionInput{}, types.User{})
	var errs []error
	for _, req := range h.Requirements() {
		if req.SatisfiedWhen == "" {
			continue
		}
		if err := eval.Check(req.SatisfiedWhen, sample); err != nil {
			errs = append(errs, fmt.Errorf("artifact requirement %s/%s: %w", req.Role, req.Action, err))
		}
	}
	return errors.Join(errs...)
}
