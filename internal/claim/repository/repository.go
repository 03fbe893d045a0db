package repository

import (
	"errors"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means the row no longer matched the expected status.
	ErrConflict = errors.New("status precondition failed")
)

// Repositories 仓库集合
type Repositories struct {
	Claim *ClaimRepository
	User  *UserRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Claim: NewClaimRepository(db),
		User:  NewUserRepository(db),
	}
}

// Models lists every table owned by this package, in migration order.
func Models() []interface{} {
	return []interface{}{
		&entity.User{},
		&entity.Claim{},
		&entity.Attachment{},
		&entity.ClaimStatusHistory{},
	}
}
