package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"gorm.io/gorm"
)

// UserRepository 用户仓储
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 根据ID查找用户
func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByEmail 根据邮箱查找用户
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.findOne(ctx, "LOWER(email) = LOWER(?)", email)
}

func (r *UserRepository) findOne(ctx context.Context, cond string, arg interface{}) (*entity.User, error) {
	var u entity.User
	err := r.db.WithContext(ctx).Where(cond, arg).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create 创建用户
func (r *UserRepository) Create(ctx context.Context, u *entity.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

// UpdatePassword 更新密码哈希
func (r *UserRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	result := r.db.WithContext(ctx).Model(&entity.User{}).Where("id = ?", id).Update("password_hash", hash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive 获取所有活跃用户
func (r *UserRepository) ListActive(ctx context.Context) ([]entity.User, error) {
	var users []entity.User
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("name_th ASC").
		Find(&users).Error
	return users, err
}

// Search 按姓名、邮箱或工号模糊搜索
func (r *UserRepository) Search(ctx context.Context, keyword string, limit int) ([]entity.User, error) {
	var users []entity.User
	like := "%" + keyword + "%"
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("name_th ILIKE ? OR name_en ILIKE ? OR email ILIKE ? OR employee_number ILIKE ?", like, like, like, like).
		Order("name_th ASC").
		Limit(limit).
		Find(&users).Error
	return users, err
}

// TouchLogin records a successful login.
func (r *UserRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Update("last_login_at", at).Error
}
