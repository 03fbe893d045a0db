package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimQuery holds the filters pushed down to the database. Role visibility is
// applied afterwards by the view package.
type ClaimQuery struct {
	Statuses       []entity.Status
	CreatedByEmail string
	ApproverID     string
	CategoryMain   string
	CategorySub    string
	// Participant restricts rows to claims created by or awaiting one of these ids/names.
	Participant []string
	// SubmittedFrom/SubmittedTo bound submitted_at, inclusive/exclusive.
	SubmittedFrom *time.Time
	SubmittedTo   *time.Time
}

// ClaimRepository 理赔单仓储
type ClaimRepository struct {
	db *gorm.DB
}

// NewClaimRepository 创建理赔单仓储
func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

func withAttachments(db *gorm.DB) *gorm.DB {
	return db.Preload("Attachments", func(db *gorm.DB) *gorm.DB {
		return db.Order("uploaded_at ASC")
	})
}

// FindByID 根据ID查找理赔单
func (r *ClaimRepository) FindByID(ctx context.Context, id string) (*entity.Claim, error) {
	var c entity.Claim
	err := withAttachments(r.db.WithContext(ctx)).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Create inserts a new claim with its initial attachments and history entry.
func (r *ClaimRepository) Create(ctx context.Context, c *entity.Claim, history *entity.ClaimStatusHistory) error {
	if c.Version == 0 {
		c.Version = 1
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Attachments").Create(c).Error; err != nil {
			return fmt.Errorf("create claim: %w", err)
		}
		if len(c.Attachments) > 0 {
			if err := tx.Create(&c.Attachments).Error; err != nil {
				return fmt.Errorf("create attachments: %w", err)
			}
		}
		if history != nil {
			if err := tx.Create(history).Error; err != nil {
				return fmt.Errorf("create history: %w", err)
			}
		}
		return nil
	})
}

// List 获取理赔单列表
func (r *ClaimRepository) List(ctx context.Context, q ClaimQuery) ([]*entity.Claim, error) {
	query := r.db.WithContext(ctx).Model(&entity.Claim{})

	if len(q.Statuses) > 0 {
		query = query.Where("status IN ?", q.Statuses)
	}
	if q.CreatedByEmail != "" {
		query = query.Where("LOWER(created_by_email) = LOWER(?)", q.CreatedByEmail)
	}
	if q.ApproverID != "" {
		query = query.Where("approver_id = ?", q.ApproverID)
	}
	if q.CategoryMain != "" {
		query = query.Where("category_main = ?", q.CategoryMain)
	}
	if q.CategorySub != "" {
		query = query.Where("category_sub = ?", q.CategorySub)
	}
	if len(q.Participant) > 0 {
		query = query.Where("created_by_id IN ? OR created_by_name IN ? OR approver_id IN ?",
			q.Participant, q.Participant, q.Participant)
	}
	if q.SubmittedFrom != nil {
		query = query.Where("submitted_at >= ?", *q.SubmittedFrom)
	}
	if q.SubmittedTo != nil {
		query = query.Where("submitted_at < ?", *q.SubmittedTo)
	}

	var claims []*entity.Claim
	if err := withAttachments(query).Order("created_at DESC").Find(&claims).Error; err != nil {
		return nil, err
	}
	return claims, nil
}

// CommitTransition writes the result of a state transition. The update only
// applies while the row still has the expected status and the version next was
// read at; the attachments and the history row are written in the same
// transaction. On success next.Version is the stored version.
func (r *ClaimRepository) CommitTransition(ctx context.Context, next *entity.Claim, expected entity.Status,
	history *entity.ClaimStatusHistory, added []entity.Attachment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entity.Claim{}).
			Where("id = ? AND status = ? AND version = ?", next.ID, expected, next.Version).
			Updates(map[string]interface{}{
				"version":         next.Version + 1,
				"status":          next.Status,
				"status_dates":    next.StatusDates,
				"insurer_comment": next.InsurerComment,
				"cpm_form":        next.CPMForm,
				"fppa04":          next.Settlement,
				"submitted_at":    next.SubmittedAt,
				"updated_at":      next.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConflict
		}
		if len(added) > 0 {
			if err := tx.Create(&added).Error; err != nil {
				return fmt.Errorf("create attachments: %w", err)
			}
		}
		return tx.Create(history).Error
	})
	if err != nil {
		return err
	}
	next.Version++
	return nil
}

// UpdateLocked loads the claim under a row lock and lets fn decide the change.
// fn applies its edit to c and returns the same edit as columns; a nil map
// leaves the row untouched.
func (r *ClaimRepository) UpdateLocked(ctx context.Context, id string,
	fn func(c *entity.Claim) (map[string]interface{}, error)) (*entity.Claim, error) {
	var out *entity.Claim
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c entity.Claim
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&c).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		changes, err := fn(&c)
		if err != nil {
			return err
		}
		if len(changes) > 0 {
			changes["version"] = gorm.Expr("version + 1")
			if err := tx.Model(&entity.Claim{}).Where("id = ?", id).Updates(changes).Error; err != nil {
				return err
			}
		}
		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, out.ID)
}

// AddAttachments inserts atts while the claim's status still satisfies allowed.
// Either every row is written or none. The claim row stays locked until the
// insert commits, and its version moves on so a transition computed from the
// old attachment set can no longer commit.
func (r *ClaimRepository) AddAttachments(ctx context.Context, claimID string, atts []entity.Attachment, allowed func(entity.Status) bool) error {
	if len(atts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		status, err := lockStatus(tx, claimID)
		if err != nil {
			return err
		}
		if !allowed(status) {
			return ErrConflict
		}
		if err := tx.Create(&atts).Error; err != nil {
			return fmt.Errorf("create attachments: %w", err)
		}
		return bumpVersion(tx, claimID)
	})
}

// DeleteAttachment removes an attachment while the claim's status still satisfies allowed.
func (r *ClaimRepository) DeleteAttachment(ctx context.Context, claimID, attachmentID string, allowed func(entity.Status) bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		status, err := lockStatus(tx, claimID)
		if err != nil {
			return err
		}
		if !allowed(status) {
			return ErrConflict
		}
		result := tx.Where("id = ? AND claim_id = ?", attachmentID, claimID).Delete(&entity.Attachment{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return bumpVersion(tx, claimID)
	})
}

// bumpVersion 附件变化也使已读取的版本失效
func bumpVersion(tx *gorm.DB, claimID string) error {
	return tx.Model(&entity.Claim{}).
		Where("id = ?", claimID).
		UpdateColumn("version", gorm.Expr("version + 1")).Error
}

func lockStatus(tx *gorm.DB, claimID string) (entity.Status, error) {
	var c entity.Claim
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "status").
		Where("id = ?", claimID).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return c.Status, nil
}

// History returns the transition log of a claim, oldest first.
func (r *ClaimRepository) History(ctx context.Context, claimID string) ([]entity.ClaimStatusHistory, error) {
	var rows []entity.ClaimStatusHistory
	err := r.db.WithContext(ctx).
		Where("claim_id = ?", claimID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// CountCreatedIn counts claims created in the given year.
func (r *ClaimRepository) CountCreatedIn(ctx context.Context, year int) (int64, error) {
	from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	var n int64
	err := r.db.WithContext(ctx).
		Model(&entity.Claim{}).
		Where("created_at >= ? AND created_at < ?", from, from.AddDate(1, 0, 0)).
		Count(&n).Error
	return n, err
}
