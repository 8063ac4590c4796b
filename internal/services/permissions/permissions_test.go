package permissions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"props-system/internal/database/models"
	"props-system/internal/services/permissions"
)

func user(level int32, managed ...models.Department) *models.User {
	return &models.User{
		ID:                 1,
		Username:           "u",
		Role:               models.Role{AccessLevel: level},
		ManagedDepartments: managed,
	}
}

func deptAsset(dept *models.Department, status string) *models.Asset {
	a := &models.Asset{ID: 10, Name: "Prop", Status: status}
	if dept != nil {
		a.Category = &models.Category{ID: 5, Name: "Cat", Department: dept, DepartmentID: &dept.ID}
		a.CategoryID = &a.Category.ID
	}
	return a
}

func TestUserRole_Ladder(t *testing.T) {
	dept := &models.Department{ID: 3, Name: "Props", IsActive: true}

	assert.Equal(t, permissions.RoleViewer, permissions.UserRole(nil, dept))
	assert.Equal(t, permissions.RoleViewer, permissions.UserRole(user(models.AccessLevelViewer), dept))
	assert.Equal(t, permissions.RoleBorrower, permissions.UserRole(user(models.AccessLevelBorrower), dept))
	assert.Equal(t, permissions.RoleMember, permissions.UserRole(user(models.AccessLevelMember), dept))
	assert.Equal(t, permissions.RoleDepartmentManager, permissions.UserRole(user(models.AccessLevelManager), dept))
	assert.Equal(t, permissions.RoleSystemAdmin, permissions.UserRole(user(models.AccessLevelSystemAdmin), dept))
}

func TestUserRole_ManagingDepartmentOutranksLevel(t *testing.T) {
	dept := &models.Department{ID: 3, Name: "Props", IsActive: true}
	other := &models.Department{ID: 4, Name: "Wardrobe", IsActive: true}

	manager := user(models.AccessLevelMember, *dept)
	assert.Equal(t, permissions.RoleDepartmentManager, permissions.UserRole(manager, dept))
	assert.Equal(t, permissions.RoleMember, permissions.UserRole(manager, other))
}

func TestCanEdit(t *testing.T) {
	dept := &models.Department{ID: 3, Name: "Props", IsActive: true}

	assert.True(t, permissions.CanEdit(user(models.AccessLevelSystemAdmin), deptAsset(dept, models.StatusActive)))
	assert.True(t, permissions.CanEdit(user(models.AccessLevelManager), deptAsset(dept, models.StatusActive)))
	assert.False(t, permissions.CanEdit(user(models.AccessLevelBorrower), deptAsset(dept, models.StatusActive)))
	assert.False(t, permissions.CanEdit(nil, deptAsset(dept, models.StatusActive)))
}

func TestCanEdit_MemberOwnDraftsOnly(t *testing.T) {
	dept := &models.Department{ID: 3, Name: "Props", IsActive: true}
	member := user(models.AccessLevelMember)

	mine := deptAsset(dept, models.StatusDraft)
	mine.CreatedByID = &member.ID
	assert.True(t, permissions.CanEdit(member, mine))

	// Someone else's draft.
	otherID := int64(99)
	theirs := deptAsset(dept, models.StatusDraft)
	theirs.CreatedByID = &otherID
	assert.False(t, permissions.CanEdit(member, theirs))

	// Own asset, but already active.
	active := deptAsset(dept, models.StatusActive)
	active.CreatedByID = &member.ID
	assert.False(t, permissions.CanEdit(member, active))
}

func TestCanEdit_InactiveDepartmentBlocksManagers(t *testing.T) {
	closed := &models.Department{ID: 3, Name: "Props", IsActive: false}

	assert.False(t, permissions.CanEdit(user(models.AccessLevelManager), deptAsset(closed, models.StatusActive)))
	// System admins are exempt.
	assert.True(t, permissions.CanEdit(user(models.AccessLevelSystemAdmin), deptAsset(closed, models.StatusActive)))
}

func TestCanCheckoutAndDeleteAndHandover(t *testing.T) {
	dept := &models.Department{ID: 3, Name: "Props", IsActive: true}
	asset := deptAsset(dept, models.StatusActive)

	assert.True(t, permissions.CanCheckout(user(models.AccessLevelMember), asset))
	assert.False(t, permissions.CanCheckout(user(models.AccessLevelBorrower), asset))

	assert.True(t, permissions.CanDelete(user(models.AccessLevelManager), asset))
	assert.False(t, permissions.CanDelete(user(models.AccessLevelMember), asset))

	assert.True(t, permissions.CanHandover(user(models.AccessLevelManager), asset))
	assert.False(t, permissions.CanHandover(user(models.AccessLevelMember), asset))
}

func TestCanMerge(t *testing.T) {
	assert.False(t, permissions.CanMerge(nil))
	assert.False(t, permissions.CanMerge(user(models.AccessLevelMember)))
	assert.True(t, permissions.CanMerge(user(models.AccessLevelManager)))
	assert.True(t, permissions.CanMerge(user(models.AccessLevelSystemAdmin)))
}

func TestAssetDepartment_NilSafe(t *testing.T) {
	assert.Nil(t, permissions.AssetDepartment(&models.Asset{}))
}
