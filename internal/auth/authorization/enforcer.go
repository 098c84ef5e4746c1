// Package authorization gates the operator HTTP API with Casbin role-based access control.
package authorization

import (
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
)

const (
	modelFile  = "casbin/model.conf"
	policyFile = "casbin/policy.csv"
)

// Enforcer wraps the Casbin enforcer loaded from the embedded model and policy.
type Enforcer struct {
	enforcer *casbin.Enforcer
	logger   *slog.Logger
}

// NewEnforcer loads the embedded model and policy.
func NewEnforcer(logger *slog.Logger) (*Enforcer, error) {
	modelText, err := CasbinFS.ReadFile(modelFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read casbin model: %w", err)
	}
	policyText, err := CasbinFS.ReadFile(policyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read casbin policy: %w", err)
	}

	m, err := model.NewModelFromString(string(modelText))
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m, stringadapter.NewAdapter(string(policyText)))
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	logger.Debug("casbin enforcer initialized", "model", modelFile, "policy", policyFile)

	return &Enforcer{
		enforcer: enforcer,
		logger:   logger,
	}, nil
}

// Enforce checks if a role can perform an action on a request path.
//
// Example usage:
//
//	allowed, err := e.Enforce(RoleOperator, "/api/v1/dead-letters", ActionRead)
func (e *Enforcer) Enforce(role Role, object string, action Action) (bool, error) {
	subject := FormatRole(role)
	allowed, err := e.enforcer.Enforce(subject, object, string(action))
	if err != nil {
		e.logger.Error("casbin enforcement error", "subject", subject, "object", object, "action", action, "error", err)
		return false, fmt.Errorf("casbin enforcement failed: %w", err)
	}

	e.logger.Debug("casbin enforcement result", "subject", subject, "object", object, "action", action, "allowed", allowed)
	return allowed, nil
}
