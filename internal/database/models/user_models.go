package models

import "time"

// Role access levels. A higher level implies every capability of the
// levels below it.
const (
	AccessLevelViewer      int32 = 10
	AccessLevelBorrower    int32 = 20
	AccessLevelMember      int32 = 30
	AccessLevelManager     int32 = 40
	AccessLevelSystemAdmin int32 = 50
)

type Role struct {
	ID          int32      `gorm:"primaryKey;autoIncrement"`
	RoleName    string     `gorm:"uniqueIndex;not null"`
	AccessLevel int32      `gorm:"not null"`
	CreatedAt   *time.Time `gorm:"autoCreateTime"`
	UpdatedAt   *time.Time `gorm:"autoUpdateTime"`
}

type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Username  string `gorm:"uniqueIndex;not null"`
	Email     string `gorm:"uniqueIndex;not null"`
	Password  string `gorm:"not null" json:"-"`
	Firstname string
	Lastname  string
	RoleID    int32 `gorm:"not null"`
	Role      Role  `gorm:"foreignKey:RoleID"`
	IsActive  bool  `gorm:"default:true"`
	LastLogin *time.Time
	CreatedAt *time.Time `gorm:"autoCreateTime"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime"`

	ManagedDepartments []Department `gorm:"many2many:department_managers"`
}

// DisplayName is the name shown in audit history and user-facing messages.
func (u *User) DisplayName() string {
	name := u.Firstname
	if u.Lastname != "" {
		if name != "" {
			name += " "
		}
		name += u.Lastname
	}
	if name == "" {
		return u.Username
	}
	return name
}

type Department struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:100;uniqueIndex;not null"`
	IsActive  bool   `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Managers   []User     `gorm:"many2many:department_managers"`
	Categories []Category `gorm:"foreignKey:DepartmentID"`
}
