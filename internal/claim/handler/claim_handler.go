package handler

import (
	"io"
	"strconv"
	"strings"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/service"
	"github.com/ballggwp/eclaim/internal/claim/view"
	"github.com/ballggwp/eclaim/internal/claim/workflow"
	"github.com/gin-gonic/gin"
)

// ClaimHandler 理赔单处理器
type ClaimHandler struct {
	svc       *service.ClaimService
	maxUpload int64
}

// NewClaimHandler 创建理赔单处理器
func NewClaimHandler(svc *service.ClaimService, maxUploadMB int64) *ClaimHandler {
	return &ClaimHandler{svc: svc, maxUpload: maxUploadMB << 20}
}

// sectionPages reads page_<section> parameters; a bare page applies to the
// section named by the section parameter.
func sectionPages(c *gin.Context, sections []view.Section) map[view.Section]int {
	pages := make(map[view.Section]int, len(sections))
	for _, s := range sections {
		if n := queryInt(c, "page_"+string(s), 0); n > 0 {
			pages[s] = n
		}
	}
	if s := view.Section(c.Query("section")); s != "" {
		if n := queryInt(c, "page", 0); n > 0 {
			pages[s] = n
		}
	}
	return pages
}

// List 理赔单列表
// GET /api/v1/claims?status=&createdByEmail=&approverId=&categoryMain=&categorySub=&q=&section=&page=
func (h *ClaimHandler) List(c *gin.Context) {
	var f view.Filter
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		st, err := entity.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			Error(c, 40001, err.Error())
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	f.CreatedByEmail = c.Query("createdByEmail")
	f.ApproverID = c.Query("approverId")
	f.CategoryMain = c.Query("categoryMain")
	f.CategorySub = c.Query("categorySub")
	f.Query = c.Query("q")

	sections, err := h.svc.List(c.Request.Context(), CurrentActor(c), service.ListParams{
		Filter: f,
		Pages:  sectionPages(c, view.ClaimsSections),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, sections)
}

// Dashboard 仪表盘
// GET /api/v1/claims/dashboard?q=&section=&page=
func (h *ClaimHandler) Dashboard(c *gin.Context) {
	sections, err := h.svc.Dashboard(c.Request.Context(), CurrentActor(c), c.Query("q"),
		sectionPages(c, view.DashboardSections))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, sections)
}

// CreateClaimRequest 创建理赔单请求
type CreateClaimRequest struct {
	CategoryMain string         `json:"categoryMain"`
	CategorySub  string         `json:"categorySub"`
	ApproverID   string         `json:"approverId"`
	SignerID     string         `json:"signerId"`
	Submit       bool           `json:"submit"`
	CPM          entity.CPMForm `json:"cpm"`
}

// Create 创建理赔单
// POST /api/v1/claims (JSON, or multipart with cpm as a JSON field plus files)
func (h *ClaimHandler) Create(c *gin.Context) {
	var req CreateClaimRequest
	var files []service.Upload
	if isMultipart(c) {
		req.CategoryMain = c.PostForm("categoryMain")
		req.CategorySub = c.PostForm("categorySub")
		req.ApproverID = c.PostForm("approverId")
		req.SignerID = c.PostForm("signerId")
		req.Submit = formBool(c, "submit") || (c.PostForm("saveAsDraft") != "" && !formBool(c, "saveAsDraft"))
		if _, err := formJSON(c, "cpm", &req.CPM); err != nil {
			Fail(c, err)
			return
		}
		uploads, opened, err := h.readUploads(c, evidenceFields)
		if err != nil {
			Fail(c, err)
			return
		}
		defer opened.Close()
		files = uploads
	} else if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	claim, err := h.svc.Create(c.Request.Context(), CurrentActor(c), service.CreateInput{
		CategoryMain: req.CategoryMain,
		CategorySub:  req.CategorySub,
		ApproverID:   req.ApproverID,
		SignerID:     req.SignerID,
		Form:         req.CPM,
		Submit:       req.Submit,
		Files:        files,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, claim)
}

// Get 理赔单详情
// GET /api/v1/claims/:id
func (h *ClaimHandler) Get(c *gin.Context) {
	detail, err := h.svc.Detail(c.Request.Context(), CurrentActor(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, detail)
}

// History 状态流转记录
func (h *ClaimHandler) History(c *gin.Context) {
	rows, err := h.svc.History(c.Request.Context(), CurrentActor(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": rows})
}

// Timeline 进度时间线
func (h *ClaimHandler) Timeline(c *gin.Context) {
	steps, err := h.svc.Timeline(c.Request.Context(), CurrentActor(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"steps": steps})
}

// ActionRequest 状态流转请求
type ActionRequest struct {
	Action          string             `json:"action" binding:"required"`
	Comment         string             `json:"comment"`
	ExpectedStatus  string             `json:"expectedStatus"`
	ExpectedVersion int64              `json:"expectedVersion"`
	CPM             *entity.CPMForm    `json:"cpm"`
	Settlement      *entity.Settlement `json:"settlement"`
}

// Action 执行状态流转
// POST /api/v1/claims/:id/actions
func (h *ClaimHandler) Action(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	action, err := workflow.ParseAction(req.Action)
	if err != nil {
		Error(c, 40001, err.Error())
		return
	}
	expected, ok := parseExpected(c, req.ExpectedStatus)
	if !ok {
		return
	}

	claim, err := h.svc.ApplyTransition(c.Request.Context(), CurrentActor(c), c.Param("id"), action, service.TransitionInput{
		Comment:         req.Comment,
		ExpectedStatus:  expected,
		ExpectedVersion: req.ExpectedVersion,
		Form:            req.CPM,
		Settlement:      req.Settlement,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, claim)
}

// SaveContent 保存/提交事故报告
// PUT /api/v1/claims/:id/cpm (multipart: cpm, saveAsDraft, expectedStatus, expectedVersion, damageFiles, estimateFiles, otherFiles)
//
// The action follows the claim status: resubmit_evidence while evidence is
// requested, otherwise save_draft or submit. Without expectedStatus and
// expectedVersion the values read here are used.
func (h *ClaimHandler) SaveContent(c *gin.Context) {
	ctx := c.Request.Context()
	actor := CurrentActor(c)
	claim, err := h.svc.Get(ctx, actor, c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}

	var form entity.CPMForm
	var hasForm, saveAsDraft bool
	var expectedRaw, versionRaw string
	var files []service.Upload
	if isMultipart(c) {
		if hasForm, err = formJSON(c, "cpm", &form); err != nil {
			Fail(c, err)
			return
		}
		saveAsDraft = formBool(c, "saveAsDraft")
		expectedRaw = c.PostForm("expectedStatus")
		versionRaw = c.PostForm("expectedVersion")
		uploads, opened, err := h.readUploads(c, evidenceFields)
		if err != nil {
			Fail(c, err)
			return
		}
		defer opened.Close()
		files = uploads
	} else {
		var req struct {
			CPM             *entity.CPMForm `json:"cpm"`
			SaveAsDraft     bool            `json:"saveAsDraft"`
			ExpectedStatus  string          `json:"expectedStatus"`
			ExpectedVersion int64           `json:"expectedVersion"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "参数错误: "+err.Error())
			return
		}
		if req.CPM != nil {
			form, hasForm = *req.CPM, true
		}
		saveAsDraft, expectedRaw = req.SaveAsDraft, req.ExpectedStatus
		if req.ExpectedVersion != 0 {
			versionRaw = strconv.FormatInt(req.ExpectedVersion, 10)
		}
	}

	expected, ok := parseExpected(c, expectedRaw)
	if !ok {
		return
	}
	if expected == "" {
		expected = claim.Status
	}
	version := claim.Version
	if versionRaw != "" {
		if version, err = strconv.ParseInt(versionRaw, 10, 64); err != nil || version <= 0 {
			Error(c, 40001, "expectedVersion must be a positive integer")
			return
		}
	}

	action := workflow.ActionSubmit
	switch {
	case claim.Status == entity.StatusAwaitingEvidence:
		action = workflow.ActionResubmitEvidence
	case saveAsDraft:
		action = workflow.ActionSaveDraft
	}
	in := service.TransitionInput{ExpectedStatus: expected, ExpectedVersion: version, Files: files}
	if hasForm {
		in.Form = &form
	}

	updated, err := h.svc.ApplyTransition(ctx, actor, claim.ID, action, in)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, updated)
}

// UserConfirm 用户确认或拒绝理算结果
// POST /api/v1/claims/:id/userconfirm (multipart: action, comment, confirmationFiles)
func (h *ClaimHandler) UserConfirm(c *gin.Context) {
	action := workflow.ActionConfirm
	if strings.EqualFold(c.PostForm("action"), string(workflow.ActionReject)) {
		action = workflow.ActionReject
	}
	uploads, opened, err := h.readUploads(c, confirmFields)
	if err != nil {
		Fail(c, err)
		return
	}
	defer opened.Close()

	claim, err := h.svc.ApplyTransition(c.Request.Context(), CurrentActor(c), c.Param("id"), action, service.TransitionInput{
		Comment:        c.PostForm("comment"),
		ExpectedStatus: entity.StatusPendingUserConfirm,
		Files:          uploads,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, claim)
}

// EditSigner 修改签字人
// PUT /api/v1/claims/:id/signer
func (h *ClaimHandler) EditSigner(c *gin.Context) {
	var req struct {
		SignerID string `json:"signerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	claim, err := h.svc.EditSigner(c.Request.Context(), CurrentActor(c), c.Param("id"), req.SignerID)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, claim)
}

// GetSettlement 获取FPPA-04
// GET /api/v1/claims/:id/fppa04
func (h *ClaimHandler) GetSettlement(c *gin.Context) {
	st, err := h.svc.SettlementForm(c.Request.Context(), CurrentActor(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, st)
}

// SaveSettlement 保存FPPA-04草稿
// PUT /api/v1/claims/:id/fppa04
func (h *ClaimHandler) SaveSettlement(c *gin.Context) {
	var st entity.Settlement
	if err := c.ShouldBindJSON(&st); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	claim, err := h.svc.SaveSettlement(c.Request.Context(), CurrentActor(c), c.Param("id"), st)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, claim.FPPA04())
}

// ListAttachments 附件列表
func (h *ClaimHandler) ListAttachments(c *gin.Context) {
	claim, err := h.svc.Get(c.Request.Context(), CurrentActor(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	items := claim.Attachments
	if items == nil {
		items = []entity.Attachment{}
	}
	Success(c, gin.H{"items": items})
}

// AddAttachment 上传附件
// POST /api/v1/claims/:id/attachments (multipart: type, files)
//
// type is required. All files are attached together or, on any error, none.
func (h *ClaimHandler) AddAttachment(c *gin.Context) {
	kind := entity.AttachmentType(strings.ToUpper(strings.TrimSpace(c.PostForm("type"))))
	if kind == "" {
		Fail(c, &workflow.Error{Kind: workflow.ErrValidation, Action: workflow.ActionAddAttachment,
			Reason: "attachment type is required", Fields: []string{"type"}})
		return
	}
	uploads, opened, err := h.readUploads(c, []fileField{{"files", kind}, {"file", kind}, {"attachments", kind}})
	if err != nil {
		Fail(c, err)
		return
	}
	defer opened.Close()
	if len(uploads) == 0 {
		Error(c, 40001, "没有上传文件")
		return
	}

	added, err := h.svc.AddAttachments(c.Request.Context(), CurrentActor(c), c.Param("id"), uploads)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, gin.H{"items": added})
}

// DownloadAttachment 下载附件
// GET /api/v1/claims/:id/attachments/:attId
func (h *ClaimHandler) DownloadAttachment(c *gin.Context) {
	rc, att, err := h.svc.OpenAttachment(c.Request.Context(), CurrentActor(c), c.Param("id"), c.Param("attId"))
	if err != nil {
		Fail(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", att.ContentType)
	c.Header("Content-Disposition", "inline; filename=\""+att.FileName+"\"")
	if att.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(att.Size, 10))
	}
	c.Status(200)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		// headers are already sent; leave it to the access log
		c.Error(err)
	}
}

// DeleteAttachment 删除附件
// DELETE /api/v1/claims/:id/attachments/:attId
func (h *ClaimHandler) DeleteAttachment(c *gin.Context) {
	if err := h.svc.DeleteAttachment(c.Request.Context(), CurrentActor(c), c.Param("id"), c.Param("attId")); err != nil {
		Fail(c, err)
		return
	}
	Success(c, nil)
}

func parseExpected(c *gin.Context, raw string) (entity.Status, bool) {
	if raw == "" {
		return "", true
	}
	st, err := entity.ParseStatus(strings.ToUpper(raw))
	if err != nil {
		Error(c, 40001, err.Error())
		return "", false
	}
	return st, true
}
