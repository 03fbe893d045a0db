package entity

import (
	"fmt"
	"time"
)

// Role 用户角色
type Role string

const (
	RoleUser      Role = "USER"
	RoleInsurance Role = "INSURANCE"
	RoleManager   Role = "MANAGER"
)

// ParseRole validates a raw role value.
func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case RoleUser, RoleInsurance, RoleManager:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// User 用户
type User struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	EmployeeNumber string     `json:"employee_number" gorm:"size:32;index"`
	NameTh         string     `json:"name_th" gorm:"size:128;not null"`
	NameEn         string     `json:"name_en" gorm:"size:128"`
	Email          string     `json:"email" gorm:"size:128;not null;uniqueIndex"`
	Position       string     `json:"position" gorm:"size:128"`
	Department     string     `json:"department" gorm:"size:128"`
	Role           Role       `json:"role" gorm:"size:16;not null;default:USER"`
	PasswordHash   string     `json:"-" gorm:"size:128"`
	Active         bool       `json:"active" gorm:"not null;default:true"`
	LastLoginAt    *time.Time `json:"last_login_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// DisplayName prefers the Thai name, as claims store it.
func (u *User) DisplayName() string {
	if u.NameTh != "" {
		return u.NameTh
	}
	return u.NameEn
}
