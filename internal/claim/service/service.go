package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/repository"
	"github.com/ballggwp/eclaim/internal/claim/workflow"
	"github.com/ballggwp/eclaim/internal/config"
	"github.com/ballggwp/eclaim/internal/shared/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ClaimStore 理赔单存储
type ClaimStore interface {
	FindByID(ctx context.Context, id string) (*entity.Claim, error)
	Create(ctx context.Context, c *entity.Claim, history *entity.ClaimStatusHistory) error
	List(ctx context.Context, q repository.ClaimQuery) ([]*entity.Claim, error)
	CommitTransition(ctx context.Context, next *entity.Claim, expected entity.Status,
		history *entity.ClaimStatusHistory, added []entity.Attachment) error
	UpdateLocked(ctx context.Context, id string,
		fn func(c *entity.Claim) (map[string]interface{}, error)) (*entity.Claim, error)
	AddAttachments(ctx context.Context, claimID string, atts []entity.Attachment, allowed func(entity.Status) bool) error
	DeleteAttachment(ctx context.Context, claimID, attachmentID string, allowed func(entity.Status) bool) error
	History(ctx context.Context, claimID string) ([]entity.ClaimStatusHistory, error)
	CountCreatedIn(ctx context.Context, year int) (int64, error)
}

// UserStore 用户存储
type UserStore interface {
	FindByID(ctx context.Context, id string) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	Create(ctx context.Context, u *entity.User) error
	UpdatePassword(ctx context.Context, id, hash string) error
	ListActive(ctx context.Context) ([]entity.User, error)
	Search(ctx context.Context, keyword string, limit int) ([]entity.User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// EventPublisher receives every committed claim change.
type EventPublisher interface {
	PublishClaim(c *entity.Claim, action string)
}

// Notifier tells the next responsible party about a transition.
type Notifier interface {
	ClaimChanged(ctx context.Context, c *entity.Claim, h entity.ClaimStatusHistory)
}

// Services 服务集合
type Services struct {
	Claim  *ClaimService
	Auth   *AuthService
	User   *UserService
	Report *ReportService
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, rdb *redis.Client, files storage.FileStorage,
	events EventPublisher, notifier Notifier, cfg *config.Config, logger *zap.Logger) (*Services, error) {
	loc, err := time.LoadLocation(cfg.Claim.Timezone)
	if err != nil {
		return nil, err
	}
	docNums := NewDocNumGenerator(cfg.Claim.DocNumPrefix, NewRedisSequence(rdb), repos.Claim, loc)

	claimSvc := NewClaimService(repos.Claim, repos.User, files, docNums, logger)
	claimSvc.SetEventPublisher(events)
	claimSvc.SetNotifier(notifier)

	return &Services{
		Claim:  claimSvc,
		Auth:   NewAuthService(repos.User, NewRedisTokenStore(rdb), cfg.JWT),
		User:   NewUserService(repos.User),
		Report: NewReportService(repos.Claim, loc),
	}, nil
}

// UserService 用户服务
type UserService struct {
	repo UserStore
}

// NewUserService 创建用户服务
func NewUserService(repo UserStore) *UserService {
	return &UserService{repo: repo}
}

// ListAll 获取所有活跃用户
func (s *UserService) ListAll(ctx context.Context) ([]entity.User, error) {
	return s.repo.ListActive(ctx)
}

// Search 按姓名/邮箱/工号搜索用户
func (s *UserService) Search(ctx context.Context, keyword string) ([]entity.User, error) {
	if keyword == "" {
		return s.repo.ListActive(ctx)
	}
	return s.repo.Search(ctx, keyword, 20)
}

// Get 获取用户
func (s *UserService) Get(ctx context.Context, id string) (*entity.User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// NewUserInput 创建用户参数
type NewUserInput struct {
	Email          string
	NameTh         string
	NameEn         string
	EmployeeNumber string
	Position       string
	Department     string
	Role           string
	Password       string
}

// CreateUser 创建可登录的用户，邮箱统一小写保存
func (s *UserService) CreateUser(ctx context.Context, in NewUserInput) (*entity.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	var missing []string
	if email == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(in.NameTh) == "" && strings.TrimSpace(in.NameEn) == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return nil, &workflow.Error{Kind: workflow.ErrValidation, Reason: "missing required fields", Fields: missing}
	}
	role := entity.RoleUser
	if in.Role != "" {
		r, err := entity.ParseRole(strings.ToUpper(in.Role))
		if err != nil {
			return nil, &workflow.Error{Kind: workflow.ErrValidation, Reason: err.Error(), Fields: []string{"role"}}
		}
		role = r
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, &workflow.Error{Kind: workflow.ErrValidation, Reason: "email already registered", Fields: []string{"email"}}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	u := &entity.User{
		ID:             uuid.New().String(),
		EmployeeNumber: strings.TrimSpace(in.EmployeeNumber),
		NameTh:         strings.TrimSpace(in.NameTh),
		NameEn:         strings.TrimSpace(in.NameEn),
		Email:          email,
		Position:       strings.TrimSpace(in.Position),
		Department:     strings.TrimSpace(in.Department),
		Role:           role,
		PasswordHash:   hash,
		Active:         true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// SetPassword 重置用户密码
func (s *UserService) SetPassword(ctx context.Context, email, password string) (*entity.User, error) {
	u, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdatePassword(ctx, u.ID, hash); err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}
	u.PasswordHash = hash
	return u, nil
}

// ActorOf builds the workflow actor of a stored user.
func ActorOf(u *entity.User) workflow.Actor {
	return workflow.Actor{
		ID:             u.ID,
		EmployeeNumber: u.EmployeeNumber,
		Name:           u.DisplayName(),
		Email:          u.Email,
		Role:           u.Role,
	}
}

// ErrUserNotFound is returned when a referenced user does not exist.
var ErrUserNotFound = errors.New("user not found")

// storeErr maps repository errors onto the workflow taxonomy.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return workflow.ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return workflow.ErrConflict
	}
	return err
}
