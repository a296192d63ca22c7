// Package authz holds the authorization guards for calls, broadcasts and groups.
//
// Role permissions are a casbin RBAC policy over platform roles; group and call
// guards check membership data on the entity itself.
package authz

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"cececho/pkg/types"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Objects and actions of the role policy
const (
	ObjCall      = "call"
	ObjCommunity = "community"
	ObjUser      = "user"

	ActInitiate = "initiate"
	ActCleanup  = "cleanup"
	ActDelete   = "delete"
)

// Enforcer evaluates role permissions.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds an enforcer from the embedded model and policy.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if err := loadPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, err
	}
	return &Enforcer{enforcer: enforcer}, nil
}

func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch {
		case parts[0] == "p" && len(parts) == 4:
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

// Allowed reports whether role may perform act on obj.
func (e *Enforcer) Allowed(role types.Role, obj, act string) (bool, error) {
	ok, err := e.enforcer.Enforce(string(role), obj, act)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	return ok, nil
}

// Authorize returns a FORBIDDEN error unless role may perform act on obj.
func (e *Enforcer) Authorize(role types.Role, obj, act string) error {
	ok, err := e.Allowed(role, obj, act)
	if err != nil {
		return err
	}
	if !ok {
		return types.WrapError(types.CodeForbidden, deniedMessage(obj, act), ErrRoleDenied)
	}
	return nil
}

func deniedMessage(obj, act string) string {
	switch obj + ":" + act {
	case ObjCall + ":" + ActInitiate:
		return "Only faculty and admin can initiate calls"
	case ObjCommunity + ":" + ActCleanup:
		return "Only admins can run the community cleanup"
	default:
		return "You are not allowed to perform this action"
	}
}
