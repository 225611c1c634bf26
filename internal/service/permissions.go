package service

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/citygrid-api/internal/models"
)

//go:embed permissions.yaml
var defaultPermissions []byte

type entitlement struct {
	modules map[models.Module]struct{}
	actions map[models.Action]struct{}
}

// PermissionTable is the immutable role -> {modules, actions} capability map.
type PermissionTable struct {
	roles map[models.Role]entitlement
}

type permissionFile struct {
	Roles map[string]struct {
		Modules []string `yaml:"modules"`
		Actions []string `yaml:"actions"`
	} `yaml:"roles"`
}

// LoadPermissionTable reads the table at path, or the embedded default when path is empty.
func LoadPermissionTable(path string, logger *zap.Logger) (*PermissionTable, error) {
	raw := defaultPermissions
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read permission table: %w", err)
		}
		raw = data
	}
	return ParsePermissionTable(raw, logger)
}

// ParsePermissionTable validates and builds a table from YAML. Unknown roles,
// modules or actions are rejected. A legacy ADMIN key is read as SUPER_ADMIN;
// a file that declares both is ambiguous and rejected.
func ParsePermissionTable(raw []byte, logger *zap.Logger) (*PermissionTable, error) {
	var file permissionFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse permission table: %w", err)
	}

	table := &PermissionTable{roles: make(map[models.Role]entitlement, len(file.Roles))}
	for rawRole, entry := range file.Roles {
		role, err := ParseRole(rawRole, logger)
		if err != nil {
			return nil, fmt.Errorf("permission table: %w", err)
		}
		if _, dup := table.roles[role]; dup {
			return nil, fmt.Errorf("permission table: role %s declared more than once", role)
		}
		ent := entitlement{
			modules: make(map[models.Module]struct{}, len(entry.Modules)),
			actions: make(map[models.Action]struct{}, len(entry.Actions)),
		}
		for _, m := range entry.Modules {
			module := models.Module(strings.ToLower(m))
			if !isKnownModule(module) {
				return nil, fmt.Errorf("permission table: role %s has unknown module %q", role, m)
			}
			ent.modules[module] = struct{}{}
		}
		for _, a := range entry.Actions {
			action := models.Action(strings.ToLower(a))
			if action != models.ActionRead && action != models.ActionWrite && action != models.ActionOverride {
				return nil, fmt.Errorf("permission table: role %s has unknown action %q", role, a)
			}
			ent.actions[action] = struct{}{}
		}
		table.roles[role] = ent
	}
	return table, nil
}

// Allows reports whether role may perform action on module.
func (t *PermissionTable) Allows(role models.Role, module models.Module, action models.Action) bool {
	ent, ok := t.roles[role]
	if !ok {
		return false
	}
	_, moduleOK := ent.modules[module]
	_, actionOK := ent.actions[action]
	return moduleOK && actionOK
}

// CanReadAny reports whether role may read at least one module.
func (t *PermissionTable) CanReadAny(role models.Role) bool {
	ent, ok := t.roles[role]
	if !ok {
		return false
	}
	_, read := ent.actions[models.ActionRead]
	return read && len(ent.modules) > 0
}

// CanRequestOverride reports whether role holds the override action.
func (t *PermissionTable) CanRequestOverride(role models.Role) bool {
	ent, ok := t.roles[role]
	if !ok {
		return false
	}
	_, ok = ent.actions[models.ActionOverride]
	return ok
}

// ParseRole resolves a stored or presented role name to its canonical value.
// The legacy ADMIN name resolves to SUPER_ADMIN and is logged so remaining
// users of the alias can be found and migrated.
func ParseRole(raw string, logger *zap.Logger) (models.Role, error) {
	role := models.Role(strings.ToUpper(strings.TrimSpace(raw)))
	if role == models.RoleLegacyAdmin {
		if logger != nil {
			logger.Warn("legacy role alias resolved", zap.String("alias", string(models.RoleLegacyAdmin)), zap.String("role", string(models.RoleSuperAdmin)))
		}
		return models.RoleSuperAdmin, nil
	}
	if !isCanonicalRole(role) {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

func isCanonicalRole(role models.Role) bool {
	switch role {
	case models.RoleSuperAdmin, models.RoleTrafficOperator, models.RoleUtilityOperator, models.RoleEmergencyResponder, models.RoleAnalyst:
		return true
	}
	return false
}

func isKnownModule(module models.Module) bool {
	for _, m := range models.Modules {
		if m == module {
			return true
		}
	}
	return false
}
