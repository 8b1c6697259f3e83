package auth

import (
	"net/http"

	"dispatch-service/pkg/jwt"
)

// Role is a capability set, not a hierarchy: each role maps to a fixed set
// of permission codes below.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleDispatcher Role = "dispatcher"
	RoleViewer     Role = "viewer"
	RoleDriver     Role = "driver"
)

// Permission codes gating mutating operations.
type Permission string

const (
	PermViewVehicles      Permission = "P1"
	PermCreateReservation Permission = "P2"
	PermEditReservation   Permission = "P3"
	PermCreateDispatch    Permission = "P4"
	PermAssignDispatch    Permission = "P5"
	PermCancelDispatch    Permission = "P6"
	PermResolveConflict   Permission = "P7"
	PermForceAssign       Permission = "P8"
	PermManageRoles       Permission = "P9"
	PermToggleMaintenance Permission = "P10"
	PermViewAudit         Permission = "P11"
)

var rolePermissions = map[Role]map[Permission]bool{
	RoleAdmin: permSet(
		PermViewVehicles, PermCreateReservation, PermEditReservation,
		PermCreateDispatch, PermAssignDispatch, PermCancelDispatch,
		PermResolveConflict, PermForceAssign, PermManageRoles,
		PermToggleMaintenance, PermViewAudit,
	),
	RoleDispatcher: permSet(
		PermViewVehicles, PermCreateReservation, PermEditReservation,
		PermCreateDispatch, PermAssignDispatch, PermCancelDispatch,
		PermResolveConflict, PermToggleMaintenance,
	),
	RoleViewer: permSet(PermViewVehicles),
	RoleDriver: permSet(PermViewVehicles),
}

func permSet(perms ...Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

func (r Role) IsValid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Has reports whether the role carries the given permission.
func (r Role) Has(p Permission) bool {
	return rolePermissions[r][p]
}

// Permissions returns the role's permission codes (for /auth/me responses).
func (r Role) Permissions() []Permission {
	set := rolePermissions[r]
	out := make([]Permission, 0, len(set))
	for _, p := range []Permission{
		PermViewVehicles, PermCreateReservation, PermEditReservation,
		PermCreateDispatch, PermAssignDispatch, PermCancelDispatch,
		PermResolveConflict, PermForceAssign, PermManageRoles,
		PermToggleMaintenance, PermViewAudit,
	} {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}

// RequirePermission rejects requests whose JWT role lacks the permission.
func RequirePermission(p Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := jwt.GetClaims(r.Context())
			if claims == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if !Role(claims.Role).Has(p) {
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects requests whose JWT role is not in the list.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := jwt.GetClaims(r.Context())
			if claims == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if Role(claims.Role) == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
		})
	}
}
