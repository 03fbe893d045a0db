package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/repository"
	"github.com/ballggwp/eclaim/internal/claim/view"
	"github.com/ballggwp/eclaim/internal/claim/workflow"
	"github.com/ballggwp/eclaim/internal/shared/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ActionCreate is the history action of a claim creation.
const ActionCreate = "create"

// Upload is a file received from a client.
type Upload struct {
	Type        entity.AttachmentType
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ClaimService 理赔单服务
type ClaimService struct {
	claims   ClaimStore
	users    UserStore
	files    storage.FileStorage
	docNums  *DocNumGenerator
	events   EventPublisher
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewClaimService 创建理赔单服务
func NewClaimService(claims ClaimStore, users UserStore, files storage.FileStorage, docNums *DocNumGenerator, logger *zap.Logger) *ClaimService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaimService{
		claims:  claims,
		users:   users,
		files:   files,
		docNums: docNums,
		logger:  logger,
		now:     time.Now,
	}
}

// SetEventPublisher 设置实时事件推送
func (s *ClaimService) SetEventPublisher(p EventPublisher) {
	s.events = p
}

// SetNotifier 设置消息通知
func (s *ClaimService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *ClaimService) load(ctx context.Context, id string) (*entity.Claim, error) {
	c, err := s.claims.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return c, nil
}

// Get 获取理赔单
func (s *ClaimService) Get(ctx context.Context, actor workflow.Actor, id string) (*entity.Claim, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.Authorize(actor, c, workflow.ActionView); err != nil {
		return nil, err
	}
	s.resolveURLs(ctx, c)
	return c, nil
}

// ClaimDetail is a claim with what the caller can do with it.
type ClaimDetail struct {
	Claim          *entity.Claim     `json:"claim"`
	Actions        []workflow.Action `json:"actions"`
	CanEditContent bool              `json:"can_edit_content"`
	CanEditSigner  bool              `json:"can_edit_signer"`
	CanSettle      bool              `json:"can_edit_settlement"`
	Timeline       []view.Step       `json:"timeline"`
}

// Detail 获取理赔单详情及可执行操作
func (s *ClaimService) Detail(ctx context.Context, actor workflow.Actor, id string) (*ClaimDetail, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	actions := workflow.Available(actor, c)
	if actions == nil {
		actions = []workflow.Action{}
	}
	return &ClaimDetail{
		Claim:          c,
		Actions:        actions,
		CanEditContent: workflow.Authorize(actor, c, workflow.ActionEditContent) == nil,
		CanEditSigner:  workflow.Authorize(actor, c, workflow.ActionEditSigner) == nil,
		CanSettle:      workflow.Authorize(actor, c, workflow.ActionSaveSettlement) == nil,
		Timeline:       view.Timeline(c),
	}, nil
}

// ListParams 列表查询参数
type ListParams struct {
	Filter view.Filter
	Pages  map[view.Section]int
}

// List returns the claims page: the visible claims matching the filter, grouped
// into sections and paginated.
func (s *ClaimService) List(ctx context.Context, actor workflow.Actor, p ListParams) (view.Sections, error) {
	q := pushdown(actor, p.Filter)
	claims, err := s.claims.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	sections := view.BuildClaimsPage(actor, claims, p.Filter, p.Pages)
	s.resolvePageURLs(ctx, sections)
	return sections, nil
}

// Dashboard returns the open claims grouped by who has to act next.
func (s *ClaimService) Dashboard(ctx context.Context, actor workflow.Actor, query string, pages map[view.Section]int) (view.Sections, error) {
	var open []entity.Status
	for _, st := range entity.AllStatuses {
		if !st.Terminal() {
			open = append(open, st)
		}
	}
	q := pushdown(actor, view.Filter{Statuses: open})
	claims, err := s.claims.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	sections := view.BuildDashboard(actor, claims, query, pages)
	s.resolvePageURLs(ctx, sections)
	return sections, nil
}

// resolvePageURLs refreshes the attachment links of the claims on the returned pages only.
func (s *ClaimService) resolvePageURLs(ctx context.Context, sections view.Sections) {
	for _, p := range sections {
		for _, c := range p.Items {
			s.resolveURLs(ctx, c)
		}
	}
}

// pushdown turns the filter and the role scope into a store query. The view
// package still applies the exact visibility rules.
func pushdown(actor workflow.Actor, f view.Filter) repository.ClaimQuery {
	q := repository.ClaimQuery{
		Statuses:       f.Statuses,
		CreatedByEmail: f.CreatedByEmail,
		ApproverID:     f.ApproverID,
		CategoryMain:   f.CategoryMain,
		CategorySub:    f.CategorySub,
	}
	if actor.Role == entity.RoleUser {
		for _, k := range []string{actor.ID, actor.EmployeeNumber, actor.Name} {
			if k != "" {
				q.Participant = append(q.Participant, k)
			}
		}
	}
	return q
}

// CreateInput 创建理赔单参数
type CreateInput struct {
	CategoryMain string
	CategorySub  string
	ApproverID   string
	SignerID     string
	Form         entity.CPMForm
	// Submit sends the claim to the approver right away.
	Submit bool
	Files  []Upload
}

// Create files a new claim in DRAFT, or straight into approver review when
// in.Submit is set.
func (s *ClaimService) Create(ctx context.Context, actor workflow.Actor, in CreateInput) (*entity.Claim, error) {
	var missing []string
	if in.CategoryMain == "" {
		missing = append(missing, "category_main")
	}
	if in.CategorySub == "" {
		missing = append(missing, "category_sub")
	}
	if in.ApproverID == "" {
		missing = append(missing, "approver_id")
	}
	if len(missing) > 0 {
		return nil, &workflow.Error{Kind: workflow.ErrValidation, Reason: "missing required fields", Fields: missing}
	}

	approver, err := s.lookupUser(ctx, in.ApproverID, "approver_id")
	if err != nil {
		return nil, err
	}
	var signer *entity.User
	if in.SignerID != "" {
		if signer, err = s.lookupUser(ctx, in.SignerID, "signer_id"); err != nil {
			return nil, err
		}
	}

	now := s.now()
	docNum, err := s.docNums.Next(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("assign doc number: %w", err)
	}

	c := &entity.Claim{
		ID:                 uuid.New().String(),
		DocNum:             docNum,
		Status:             entity.StatusDraft,
		Version:            1,
		CategoryMain:       in.CategoryMain,
		CategorySub:        in.CategorySub,
		CreatedByID:        actor.ID,
		CreatedByName:      actor.Name,
		CreatedByEmail:     actor.Email,
		ApproverID:         approver.ID,
		ApproverEmail:      approver.Email,
		ApproverName:       approver.DisplayName(),
		ApproverPosition:   approver.Position,
		ApproverDepartment: approver.Department,
		CPMForm:            datatypes.NewJSONType(in.Form),
		StatusDates:        entity.StatusDates{entity.StatusDraft: now},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if signer != nil {
		c.SignerID = signer.ID
		c.SignerEmail = signer.Email
		c.SignerName = signer.DisplayName()
		c.SignerPosition = signer.Position
	}

	for _, up := range in.Files {
		if err := workflow.AuthorizeAttachment(actor, c, up.Type); err != nil {
			return nil, err
		}
	}
	atts, err := s.prepare(ctx, c.ID, actor, in.Files, now)
	if err != nil {
		return nil, err
	}
	c.Attachments = atts

	history := entity.ClaimStatusHistory{
		ID:        uuid.New().String(),
		ClaimID:   c.ID,
		ToStatus:  entity.StatusDraft,
		Action:    ActionCreate,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		ActorRole: actor.Role,
		CreatedAt: now,
	}
	if in.Submit {
		res, err := workflow.Apply(c, actor, workflow.ActionSubmit, workflow.Input{}, now)
		if err != nil {
			return nil, err
		}
		c, history = res.Claim, res.History
	}

	if err := s.store(ctx, atts, in.Files); err != nil {
		return nil, err
	}
	if err := s.claims.Create(ctx, c, &history); err != nil {
		s.discard(ctx, atts)
		return nil, storeErr(err)
	}

	s.logger.Info("Claim created",
		zap.String("claim_id", c.ID),
		zap.String("doc_num", c.DocNum),
		zap.String("status", string(c.Status)),
		zap.String("actor_id", actor.ID))
	s.afterChange(ctx, c, history)
	return c, nil
}

// TransitionInput 状态流转参数
type TransitionInput struct {
	Comment         string
	ExpectedStatus  entity.Status
	ExpectedVersion int64
	Form            *entity.CPMForm
	Settlement      *entity.Settlement
	Files           []Upload
}

// ApplyTransition performs action on the claim. Files are stored before the
// status update and removed again when the update does not commit.
func (s *ClaimService) ApplyTransition(ctx context.Context, actor workflow.Actor, id string,
	action workflow.Action, in TransitionInput) (*entity.Claim, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.Authorize(actor, c, workflow.ActionView); err != nil {
		return nil, err
	}

	now := s.now()
	atts, err := s.prepare(ctx, c.ID, actor, in.Files, now)
	if err != nil {
		return nil, err
	}
	res, err := workflow.Apply(c, actor, action, workflow.Input{
		Comment:         in.Comment,
		ExpectedStatus:  in.ExpectedStatus,
		ExpectedVersion: in.ExpectedVersion,
		Form:            in.Form,
		Settlement:      in.Settlement,
		Attachments:     atts,
	}, now)
	if err != nil {
		return nil, err
	}

	if err := s.store(ctx, res.NewAttachments, in.Files); err != nil {
		return nil, err
	}
	if err := s.claims.CommitTransition(ctx, res.Claim, res.From, &res.History, res.NewAttachments); err != nil {
		s.discard(ctx, res.NewAttachments)
		if errors.Is(err, repository.ErrConflict) {
			return nil, &workflow.Error{Kind: workflow.ErrConflict, Status: res.From, Action: action,
				Reason: "claim changed concurrently"}
		}
		return nil, storeErr(err)
	}

	s.logger.Info("Claim transition",
		zap.String("claim_id", c.ID),
		zap.String("action", string(action)),
		zap.String("from", string(res.From)),
		zap.String("to", string(res.To)),
		zap.String("actor_id", actor.ID))
	s.afterChange(ctx, res.Claim, res.History)
	return res.Claim, nil
}

// AddAttachments uploads files to a claim outside of a transition. Every
// upload is checked first and the files are attached in one write, so a
// failure leaves none of them on the claim.
func (s *ClaimService) AddAttachments(ctx context.Context, actor workflow.Actor, claimID string, ups []Upload) ([]entity.Attachment, error) {
	if len(ups) == 0 {
		return nil, &workflow.Error{Kind: workflow.ErrValidation, Action: workflow.ActionAddAttachment,
			Reason: "no file uploaded", Fields: []string{"files"}}
	}
	c, err := s.load(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if err := workflow.Authorize(actor, c, workflow.ActionView); err != nil {
		return nil, err
	}
	for _, up := range ups {
		if err := workflow.AuthorizeAttachment(actor, c, up.Type); err != nil {
			return nil, err
		}
	}

	atts, err := s.prepare(ctx, c.ID, actor, ups, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store(ctx, atts, ups); err != nil {
		return nil, err
	}
	err = s.claims.AddAttachments(ctx, c.ID, atts, func(st entity.Status) bool {
		for _, a := range atts {
			if !workflow.Addable(a.Type, st) {
				return false
			}
		}
		return true
	})
	if err != nil {
		s.discard(ctx, atts)
		if errors.Is(err, repository.ErrConflict) {
			return nil, &workflow.Error{Kind: workflow.ErrInvalidState, Status: c.Status,
				Action: workflow.ActionAddAttachment, Reason: "claim status changed during upload"}
		}
		return nil, storeErr(err)
	}

	c.Attachments = append(c.Attachments, atts...)
	s.publish(c, string(workflow.ActionAddAttachment))
	return atts, nil
}

// DeleteAttachment removes an attachment and its stored object.
func (s *ClaimService) DeleteAttachment(ctx context.Context, actor workflow.Actor, claimID, attachmentID string) error {
	c, err := s.load(ctx, claimID)
	if err != nil {
		return err
	}
	if err := workflow.Authorize(actor, c, workflow.ActionView); err != nil {
		return err
	}
	att, ok := c.FindAttachment(attachmentID)
	if !ok {
		return &workflow.Error{Kind: workflow.ErrNotFound, Reason: "attachment not found"}
	}
	if err := workflow.AuthorizeAttachmentDelete(actor, c, att); err != nil {
		return err
	}

	err = s.claims.DeleteAttachment(ctx, c.ID, att.ID, func(st entity.Status) bool {
		return workflow.Addable(att.Type, st)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return &workflow.Error{Kind: workflow.ErrUnauthorized, Status: c.Status,
				Action: workflow.ActionDeleteAttachment, Reason: "attachment is locked"}
		}
		return storeErr(err)
	}
	if err := s.files.Delete(ctx, att.ObjectKey); err != nil {
		s.logger.Warn("Failed to delete attachment object", zap.String("key", att.ObjectKey), zap.Error(err))
	}

	s.publish(c, string(workflow.ActionDeleteAttachment))
	return nil
}

// OpenAttachment streams a stored attachment to a reader of the claim.
func (s *ClaimService) OpenAttachment(ctx context.Context, actor workflow.Actor, claimID, attachmentID string) (io.ReadCloser, *entity.Attachment, error) {
	c, err := s.Get(ctx, actor, claimID)
	if err != nil {
		return nil, nil, err
	}
	att, ok := c.FindAttachment(attachmentID)
	if !ok {
		return nil, nil, &workflow.Error{Kind: workflow.ErrNotFound, Reason: "attachment not found"}
	}
	rc, err := s.files.Open(ctx, att.ObjectKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, &workflow.Error{Kind: workflow.ErrNotFound, Reason: "attachment file missing"}
	}
	if err != nil {
		return nil, nil, err
	}
	return rc, att, nil
}

// EditSigner replaces the signer of the regulatory form. Allowed once, to the
// insurer during insurer review.
func (s *ClaimService) EditSigner(ctx context.Context, actor workflow.Actor, id, signerID string) (*entity.Claim, error) {
	if signerID == "" {
		return nil, &workflow.Error{Kind: workflow.ErrValidation, Action: workflow.ActionEditSigner,
			Reason: "signer is required", Fields: []string{"signer_id"}}
	}
	signer, err := s.lookupUser(ctx, signerID, "signer_id")
	if err != nil {
		return nil, err
	}

	now := s.now()
	c, err := s.claims.UpdateLocked(ctx, id, func(c *entity.Claim) (map[string]interface{}, error) {
		if err := workflow.Authorize(actor, c, workflow.ActionEditSigner); err != nil {
			return nil, err
		}
		c.SignerID = signer.ID
		c.SignerEmail = signer.Email
		c.SignerName = signer.DisplayName()
		c.SignerPosition = signer.Position
		c.SignerEdited = true
		c.UpdatedAt = now
		return map[string]interface{}{
			"signer_id":       c.SignerID,
			"signer_email":    c.SignerEmail,
			"signer_name":     c.SignerName,
			"signer_position": c.SignerPosition,
			"signer_edited":   true,
			"updated_at":      now,
		}, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.logger.Info("Claim signer changed", zap.String("claim_id", id), zap.String("signer_id", signer.ID), zap.String("actor_id", actor.ID))
	s.publish(c, string(workflow.ActionEditSigner))
	return c, nil
}

// SettlementForm returns the claim's FPPA-04 form, or the blank default when
// the insurer has not started it.
func (s *ClaimService) SettlementForm(ctx context.Context, actor workflow.Actor, id string) (entity.Settlement, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return entity.Settlement{}, err
	}
	st := c.FPPA04()
	if st.Empty() {
		st = entity.DefaultSettlement()
		st.AccidentDate = c.Form().AccidentDate
		st.EventDescription = c.Form().Cause
	}
	return st, nil
}

// SaveSettlement stores a draft of the FPPA-04 form without changing the status.
func (s *ClaimService) SaveSettlement(ctx context.Context, actor workflow.Actor, id string, st entity.Settlement) (*entity.Claim, error) {
	now := s.now()
	c, err := s.claims.UpdateLocked(ctx, id, func(c *entity.Claim) (map[string]interface{}, error) {
		if err := workflow.Authorize(actor, c, workflow.ActionSaveSettlement); err != nil {
			return nil, err
		}
		if err := st.Validate(); err != nil {
			return nil, &workflow.Error{Kind: workflow.ErrValidation, Status: c.Status,
				Action: workflow.ActionSaveSettlement, Reason: err.Error(), Fields: []string{"fppa04"}}
		}
		st.Calculate()
		c.Settlement = datatypes.NewJSONType(st)
		c.UpdatedAt = now
		return map[string]interface{}{
			"fppa04":     c.Settlement,
			"updated_at": now,
		}, nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	s.publish(c, string(workflow.ActionSaveSettlement))
	return c, nil
}

// History 获取状态流转记录
func (s *ClaimService) History(ctx context.Context, actor workflow.Actor, id string) ([]entity.ClaimStatusHistory, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	rows, err := s.claims.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return rows, nil
}

// Timeline 获取进度时间线
func (s *ClaimService) Timeline(ctx context.Context, actor workflow.Actor, id string) ([]view.Step, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return view.Timeline(c), nil
}

func (s *ClaimService) lookupUser(ctx context.Context, id, field string) (*entity.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.Active) {
		return nil, &workflow.Error{Kind: workflow.ErrValidation, Reason: "unknown user " + id, Fields: []string{field}}
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// prepare builds the attachment rows of uploads; nothing is stored yet.
func (s *ClaimService) prepare(ctx context.Context, claimID string, actor workflow.Actor, uploads []Upload, now time.Time) ([]entity.Attachment, error) {
	atts := make([]entity.Attachment, 0, len(uploads))
	for _, up := range uploads {
		name := storage.SafeName(up.FileName)
		a := entity.Attachment{
			ID:           uuid.New().String(),
			ClaimID:      claimID,
			Type:         up.Type,
			FileName:     name,
			ObjectKey:    storage.ObjectKey(claimID, string(up.Type), name),
			ContentType:  storage.ContentType(name, up.ContentType),
			Size:         up.Size,
			UploaderID:   actor.ID,
			UploaderType: actor.Role,
			UploadedAt:   now,
		}
		url, err := s.attachmentURL(ctx, &a)
		if err != nil {
			return nil, err
		}
		a.URL = url
		atts = append(atts, a)
	}
	return atts, nil
}

// DownloadPath is the authorized API route that streams an attachment.
func DownloadPath(claimID, attachmentID string) string {
	return "/api/v1/claims/" + claimID + "/attachments/" + attachmentID
}

// attachmentURL 优先使用存储直链，没有时走下载接口
func (s *ClaimService) attachmentURL(ctx context.Context, a *entity.Attachment) (string, error) {
	u, err := s.files.URL(ctx, a.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("attachment url: %w", err)
	}
	if u == "" {
		u = DownloadPath(a.ClaimID, a.ID)
	}
	return u, nil
}

// store uploads the bodies of atts; on failure the already stored ones are removed.
func (s *ClaimService) store(ctx context.Context, atts []entity.Attachment, uploads []Upload) error {
	for i := range atts {
		up := uploads[i]
		if err := s.files.Put(ctx, atts[i].ObjectKey, up.Body, up.Size, atts[i].ContentType); err != nil {
			s.discard(ctx, atts[:i])
			return fmt.Errorf("store %s: %w", atts[i].FileName, err)
		}
	}
	return nil
}

func (s *ClaimService) discard(ctx context.Context, atts []entity.Attachment) {
	for _, a := range atts {
		if err := s.files.Delete(ctx, a.ObjectKey); err != nil {
			s.logger.Warn("Failed to remove orphaned upload", zap.String("key", a.ObjectKey), zap.Error(err))
		}
	}
}

// resolveURLs refreshes the links of c's attachments; presigned links expire.
func (s *ClaimService) resolveURLs(ctx context.Context, c *entity.Claim) {
	for i := range c.Attachments {
		a := &c.Attachments[i]
		if a.ObjectKey == "" {
			continue
		}
		if u, err := s.attachmentURL(ctx, a); err == nil {
			a.URL = u
		} else {
			s.logger.Warn("Failed to resolve attachment url", zap.String("key", a.ObjectKey), zap.Error(err))
		}
	}
}

func (s *ClaimService) publish(c *entity.Claim, action string) {
	if s.events != nil {
		s.events.PublishClaim(c, action)
	}
}

func (s *ClaimService) afterChange(ctx context.Context, c *entity.Claim, h entity.ClaimStatusHistory) {
	s.publish(c, h.Action)
	if s.notifier != nil {
		go s.notifier.ClaimChanged(context.WithoutCancel(ctx), c.Clone(), h)
	}
}
