package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allPermissions = []Permission{
	PermViewVehicles, PermCreateReservation, PermEditReservation,
	PermCreateDispatch, PermAssignDispatch, PermCancelDispatch,
	PermResolveConflict, PermForceAssign, PermManageRoles,
	PermToggleMaintenance, PermViewAudit,
}

func TestAdminHasEverything(t *testing.T) {
	for _, p := range allPermissions {
		assert.True(t, RoleAdmin.Has(p), "admin missing %s", p)
	}
}

func TestDispatcherScope(t *testing.T) {
	granted := []Permission{
		PermViewVehicles, PermCreateReservation, PermEditReservation,
		PermCreateDispatch, PermAssignDispatch, PermCancelDispatch,
		PermResolveConflict, PermToggleMaintenance,
	}
	for _, p := range granted {
		assert.True(t, RoleDispatcher.Has(p), "dispatcher missing %s", p)
	}

	// Overrides, user management and the audit trail stay admin-only.
	assert.False(t, RoleDispatcher.Has(PermForceAssign))
	assert.False(t, RoleDispatcher.Has(PermManageRoles))
	assert.False(t, RoleDispatcher.Has(PermViewAudit))
}

func TestViewerAndDriverAreReadOnly(t *testing.T) {
	for _, role := range []Role{RoleViewer, RoleDriver} {
		assert.True(t, role.Has(PermViewVehicles))
		for _, p := range allPermissions[1:] {
			assert.False(t, role.Has(p), "%s should not have %s", role, p)
		}
	}
}

func TestUnknownRoleHasNothing(t *testing.T) {
	ghost := Role("superuser")
	assert.False(t, ghost.IsValid())
	for _, p := range allPermissions {
		assert.False(t, ghost.Has(p))
	}
}

func TestRoleIsValid(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleDispatcher, RoleViewer, RoleDriver} {
		assert.True(t, role.IsValid())
	}
	assert.False(t, Role("").IsValid())
}

func TestPermissionsListMatchesHas(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleDispatcher, RoleViewer, RoleDriver} {
		listed := make(map[Permission]bool)
		for _, p := range role.Permissions() {
			listed[p] = true
		}
		for _, p := range allPermissions {
			assert.Equal(t, role.Has(p), listed[p], "%s / %s", role, p)
		}
	}
}
