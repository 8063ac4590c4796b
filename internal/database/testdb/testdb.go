// Package testdb provides SQLite-backed databases and fixture helpers
// for service tests.
package testdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"props-system/internal/database"
	"props-system/internal/database/models"
)

// Open returns a migrated database backed by a file in the test's temp
// directory, so concurrent goroutines in a test share one store.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	// Immediate transactions take the write lock at BEGIN, and the busy
	// timeout queues contending goroutines instead of failing with
	// SQLITE_BUSY. Together they give the race tests the same
	// serialisation a row lock gives on Postgres.
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func SeedRole(t *testing.T, db *gorm.DB, name string, level int32) *models.Role {
	t.Helper()
	role := &models.Role{RoleName: name, AccessLevel: level}
	require.NoError(t, db.Create(role).Error)
	return role
}

func SeedUser(t *testing.T, db *gorm.DB, username string, role *models.Role) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "x",
		RoleID:   role.ID,
		Role:     *role,
		IsActive: true,
	}
	require.NoError(t, db.Omit("Role", "ManagedDepartments").Create(user).Error)
	return user
}

func SeedDepartment(t *testing.T, db *gorm.DB, name string, managers ...*models.User) *models.Department {
	t.Helper()
	dept := &models.Department{Name: name, IsActive: true}
	require.NoError(t, db.Omit("Managers", "Categories").Create(dept).Error)
	for _, m := range managers {
		require.NoError(t, db.Exec(
			"INSERT INTO department_managers (department_id, user_id) VALUES (?, ?)",
			dept.ID, m.ID,
		).Error)
		m.ManagedDepartments = append(m.ManagedDepartments, *dept)
	}
	return dept
}

func SeedCategory(t *testing.T, db *gorm.DB, name string, dept *models.Department) *models.Category {
	t.Helper()
	category := &models.Category{Name: name, IsActive: true}
	if dept != nil {
		category.DepartmentID = &dept.ID
		category.Department = dept
	}
	require.NoError(t, db.Omit("Department").Create(category).Error)
	return category
}

func SeedLocation(t *testing.T, db *gorm.DB, name string) *models.Location {
	t.Helper()
	location := &models.Location{Name: name, IsActive: true}
	require.NoError(t, db.Create(location).Error)
	return location
}

// SeedAsset creates an active asset with a category and location, the
// shape most tests start from.
func SeedAsset(t *testing.T, db *gorm.DB, name string, category *models.Category, location *models.Location) *models.Asset {
	t.Helper()
	asset := &models.Asset{
		Name:     name,
		Status:   models.StatusActive,
		Quantity: 1,
	}
	if category != nil {
		asset.CategoryID = &category.ID
		asset.Category = category
	}
	if location != nil {
		asset.CurrentLocationID = &location.ID
		asset.CurrentLocation = location
	}
	require.NoError(t, db.Omit("Category", "CurrentLocation", "HomeLocation", "CheckedOutTo", "CreatedBy", "Images", "NFCTags", "History").Create(asset).Error)
	return asset
}
