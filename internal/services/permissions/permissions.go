// Package permissions decides what a user may do to an asset, based
// on role access level and department management.
package permissions

import (
	"props-system/internal/database/models"
)

// Roles, highest first.
const (
	RoleSystemAdmin       = "system_admin"
	RoleDepartmentManager = "department_manager"
	RoleMember            = "member"
	RoleBorrower          = "borrower"
	RoleViewer            = "viewer"
)

// UserRole returns the user's effective role for a department. A user
// managing the department counts as department_manager there even if
// their global access level is lower.
func UserRole(user *models.User, department *models.Department) string {
	if user == nil {
		return RoleViewer
	}
	if user.Role.AccessLevel >= models.AccessLevelSystemAdmin {
		return RoleSystemAdmin
	}
	if user.Role.AccessLevel >= models.AccessLevelManager {
		return RoleDepartmentManager
	}
	if department != nil {
		for _, d := range user.ManagedDepartments {
			if d.ID == department.ID {
				return RoleDepartmentManager
			}
		}
	}
	if user.Role.AccessLevel >= models.AccessLevelMember {
		return RoleMember
	}
	if user.Role.AccessLevel >= models.AccessLevelBorrower {
		return RoleBorrower
	}
	return RoleViewer
}

// AssetDepartment resolves the asset's department via its category.
func AssetDepartment(asset *models.Asset) *models.Department {
	if asset.Category == nil {
		return nil
	}
	return asset.Category.Department
}

// CanEdit reports whether the user can edit the asset. Members can
// edit their own drafts; managers lose write access to assets of an
// inactive department.
func CanEdit(user *models.User, asset *models.Asset) bool {
	dept := AssetDepartment(asset)
	switch UserRole(user, dept) {
	case RoleSystemAdmin:
		return true
	case RoleDepartmentManager:
		if dept != nil && !dept.IsActive {
			return false
		}
		return true
	case RoleMember:
		return asset.Status == models.StatusDraft &&
			asset.CreatedByID != nil && *asset.CreatedByID == user.ID
	}
	return false
}

// CanDelete reports whether the user can dispose of the asset.
func CanDelete(user *models.User, asset *models.Asset) bool {
	role := UserRole(user, AssetDepartment(asset))
	return role == RoleSystemAdmin || role == RoleDepartmentManager
}

// CanCheckout reports whether the user can check the asset out.
func CanCheckout(user *models.User, asset *models.Asset) bool {
	switch UserRole(user, AssetDepartment(asset)) {
	case RoleSystemAdmin, RoleDepartmentManager, RoleMember:
		return true
	}
	return false
}

// CanHandover reports whether the user can move custody between
// borrowers directly.
func CanHandover(user *models.User, asset *models.Asset) bool {
	role := UserRole(user, AssetDepartment(asset))
	return role == RoleSystemAdmin || role == RoleDepartmentManager
}

// CanMerge reports whether the user can merge duplicate assets.
func CanMerge(user *models.User) bool {
	return user != nil && user.Role.AccessLevel >= models.AccessLevelManager
}

// Oracle adapts the package functions to the interface the checkout
// service consumes.
type Oracle struct{}

func (Oracle) CanCheckout(user *models.User, asset *models.Asset) bool { return CanCheckout(user, asset) }
func (Oracle) CanEdit(user *models.User, asset *models.Asset) bool     { return CanEdit(user, asset) }
func (Oracle) CanDelete(user *models.User, asset *models.Asset) bool   { return CanDelete(user, asset) }
func (Oracle) CanHandover(user *models.User, asset *models.Asset) bool { return CanHandover(user, asset) }
