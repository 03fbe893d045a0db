package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Action 操作
type Action string

// Transition actions.
const (
	ActionSaveDraft        Action = "save_draft"
	ActionSubmit           Action = "submit"
	ActionApprove          Action = "approve"
	ActionReject           Action = "reject"
	ActionRequestEvidence  Action = "request_evidence"
	ActionResubmitEvidence Action = "resubmit_evidence"
	ActionSubmitSettlement Action = "submit_settlement"
	ActionConfirm          Action = "confirm"
)

// Side actions; they never change the status.
const (
	ActionView             Action = "view"
	ActionEditContent      Action = "edit_content"
	ActionEditSigner       Action = "edit_signer"
	ActionSaveSettlement   Action = "save_settlement"
	ActionAddAttachment    Action = "add_attachment"
	ActionDeleteAttachment Action = "delete_attachment"
)

// ParseAction validates a raw transition action.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionSaveDraft, ActionSubmit, ActionApprove, ActionReject, ActionRequestEvidence,
		ActionResubmitEvidence, ActionSubmitSettlement, ActionConfirm:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", raw)
}

// Edge is one row of the transition table.
type Edge struct {
	From  entity.Status
	On    Action
	To    entity.Status
	Party Party
	// Files lists the attachment types that may travel with the transition.
	Files []entity.AttachmentType
}

type edgeKey struct {
	from entity.Status
	on   Action
}

var creatorFiles = []entity.AttachmentType{
	entity.AttachmentDamageImage,
	entity.AttachmentEstimateDoc,
	entity.AttachmentOtherDocument,
}

// Transitions is the complete transition table of the claim lifecycle.
var Transitions = []Edge{
	{From: entity.StatusDraft, On: ActionSaveDraft, To: entity.StatusDraft, Party: PartyCreator, Files: creatorFiles},
	{From: entity.StatusDraft, On: ActionSubmit, To: entity.StatusPendingApproverReview, Party: PartyCreator, Files: creatorFiles},
	{From: entity.StatusPendingApproverReview, On: ActionApprove, To: entity.StatusPendingInsurerReview, Party: PartyApprover},
	{From: entity.StatusPendingApproverReview, On: ActionReject, To: entity.StatusRejected, Party: PartyApprover},
	{From: entity.StatusPendingInsurerReview, On: ActionApprove, To: entity.StatusPendingInsurerForm, Party: PartyInsurer},
	{From: entity.StatusPendingInsurerReview, On: ActionReject, To: entity.StatusRejected, Party: PartyInsurer},
	{From: entity.StatusPendingInsurerReview, On: ActionRequestEvidence, To: entity.StatusAwaitingEvidence, Party: PartyInsurer},
	{From: entity.StatusAwaitingEvidence, On: ActionResubmitEvidence, To: entity.StatusPendingInsurerReview, Party: PartyCreator, Files: creatorFiles},
	{From: entity.StatusPendingInsurerForm, On: ActionSubmitSettlement, To: entity.StatusPendingManagerReview, Party: PartyInsurer},
	{From: entity.StatusPendingManagerReview, On: ActionApprove, To: entity.StatusPendingUserConfirm, Party: PartyManager},
	{From: entity.StatusPendingManagerReview, On: ActionReject, To: entity.StatusRejected, Party: PartyManager},
	{From: entity.StatusPendingUserConfirm, On: ActionConfirm, To: entity.StatusCompleted, Party: PartyUser,
		Files: []entity.AttachmentType{entity.AttachmentUserConfirmDoc}},
	{From: entity.StatusPendingUserConfirm, On: ActionReject, To: entity.StatusRejected, Party: PartyUser,
		Files: []entity.AttachmentType{entity.AttachmentUserConfirmDoc}},
}

var edges = func() map[edgeKey]Edge {
	m := make(map[edgeKey]Edge, len(Transitions))
	for _, e := range Transitions {
		m[edgeKey{e.From, e.On}] = e
	}
	return m
}()

// Lookup returns the edge leaving from on action.
func Lookup(from entity.Status, action Action) (Edge, bool) {
	e, ok := edges[edgeKey{from, action}]
	return e, ok
}

// Available lists the transition actions the actor may take on c right now.
func Available(actor Actor, c *entity.Claim) []Action {
	var out []Action
	for _, e := range Transitions {
		if e.From == c.Status && actor.plays(e.Party, c) {
			out = append(out, e.On)
		}
	}
	return out
}

// Input carries the optional payload of a transition.
type Input struct {
	Comment string
	// ExpectedStatus, when set, must equal the claim's current status.
	ExpectedStatus entity.Status
	// ExpectedVersion, when non-zero, must equal the claim's current version.
	// It is the only precondition that tells apart two save_draft calls.
	ExpectedVersion int64
	Form           *entity.CPMForm
	Settlement     *entity.Settlement
	// Attachments are stored files to be attached together with the transition.
	Attachments []entity.Attachment
}

// Result is the outcome of a successful Apply.
type Result struct {
	Claim          *entity.Claim
	From           entity.Status
	To             entity.Status
	History        entity.ClaimStatusHistory
	NewAttachments []entity.Attachment
}

// Apply computes the claim that results from actor performing action on c.
// c is never modified; the returned claim is a fresh copy.
func Apply(c *entity.Claim, actor Actor, action Action, in Input, now time.Time) (*Result, error) {
	// 不可见的理赔单一律拒绝，不暴露其状态
	if !CanView(actor, c) {
		return nil, unauthorized(c.Status, action, "claim is not visible to this user")
	}
	if in.ExpectedStatus != "" && in.ExpectedStatus != c.Status {
		return nil, &Error{Kind: ErrConflict, Status: c.Status, Action: action,
			Reason: fmt.Sprintf("expected status %s", in.ExpectedStatus)}
	}
	if in.ExpectedVersion != 0 && in.ExpectedVersion != c.Version {
		return nil, &Error{Kind: ErrConflict, Status: c.Status, Action: action,
			Reason: fmt.Sprintf("expected version %d", in.ExpectedVersion)}
	}
	edge, ok := Lookup(c.Status, action)
	if !ok {
		return nil, invalidTransition(c.Status, action)
	}
	if err := Authorize(actor, c, action); err != nil {
		return nil, err
	}
	for _, a := range in.Attachments {
		if !containsType(edge.Files, a.Type) {
			return nil, validation(c.Status, action, fmt.Sprintf("attachment type %s not accepted", a.Type), "attachments")
		}
	}

	next := c.Clone()
	if in.Form != nil {
		if edge.Party != PartyCreator {
			return nil, validation(c.Status, action, "claim content can only be changed by its creator", "cpm_form")
		}
		next.CPMForm = datatypes.NewJSONType(*in.Form)
	}
	if in.Settlement != nil {
		if action != ActionSubmitSettlement {
			return nil, validation(c.Status, action, "settlement not accepted", "fppa04")
		}
		next.Settlement = datatypes.NewJSONType(in.Settlement.Clone())
	}
	added := make([]entity.Attachment, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		a.ClaimID = c.ID
		if a.UploadedAt.IsZero() {
			a.UploadedAt = now
		}
		added = append(added, a)
	}
	next.Attachments = append(next.Attachments, added...)

	comment := strings.TrimSpace(in.Comment)
	if err := checkTransition(next, edge, comment); err != nil {
		return nil, err
	}

	switch {
	case edge.On == ActionRequestEvidence, edge.On == ActionReject && edge.Party == PartyInsurer:
		next.InsurerComment = comment
	case edge.On == ActionReject:
		next.InsurerComment = rejectionPrefix(edge.Party) + comment
	}
	if edge.On == ActionSubmit {
		t := now
		next.SubmittedAt = &t
	}

	// statusDates must not go backwards even if clocks disagree
	if prev, ok := c.StatusDates[c.Status]; ok && now.Before(prev) {
		now = prev
	}
	next.Status = edge.To
	next.StatusDates[edge.To] = now
	next.UpdatedAt = now

	return &Result{
		Claim:          next,
		From:           c.Status,
		To:             edge.To,
		NewAttachments: added,
		History: entity.ClaimStatusHistory{
			ID:         uuid.New().String(),
			ClaimID:    c.ID,
			FromStatus: c.Status,
			ToStatus:   edge.To,
			Action:     string(edge.On),
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			ActorRole:  actor.Role,
			Comment:    comment,
			CreatedAt:  now,
		},
	}, nil
}

// checkTransition enforces the per-action preconditions on the already merged claim.
func checkTransition(next *entity.Claim, edge Edge, comment string) error {
	switch edge.On {
	case ActionSubmit:
		return ValidateSubmission(next)
	case ActionReject, ActionRequestEvidence:
		if comment == "" {
			return validation(edge.From, edge.On, "a comment is required", "comment")
		}
	case ActionSubmitSettlement:
		s := next.FPPA04()
		if s.Empty() {
			return validation(edge.From, edge.On, "settlement form is empty", "fppa04")
		}
		if err := s.Validate(); err != nil {
			return validation(edge.From, edge.On, err.Error(), "fppa04")
		}
		s.Calculate()
		next.Settlement = datatypes.NewJSONType(s)
	case ActionConfirm:
		if !next.HasAttachment(entity.AttachmentUserConfirmDoc) {
			return validation(edge.From, edge.On, "a signed confirmation document is required", "attachments")
		}
	}
	return nil
}

// ValidateSubmission checks what a claim needs before it leaves DRAFT.
func ValidateSubmission(c *entity.Claim) error {
	var fields []string
	if c.ApproverID == "" {
		fields = append(fields, "approver_id")
	}
	if c.CategoryMain == "" {
		fields = append(fields, "category_main")
	}
	if c.CategorySub == "" {
		fields = append(fields, "category_sub")
	}
	fields = append(fields, c.Form().MissingFields()...)
	if !c.HasAttachment(entity.AttachmentDamageImage) {
		fields = append(fields, string(entity.AttachmentDamageImage))
	}
	if !c.HasAttachment(entity.AttachmentEstimateDoc) {
		fields = append(fields, string(entity.AttachmentEstimateDoc))
	}
	if len(fields) > 0 {
		return validation(c.Status, ActionSubmit, "missing required fields: "+strings.Join(fields, ", "), fields...)
	}
	return nil
}

func rejectionPrefix(p Party) string {
	switch p {
	case PartyApprover:
		return "Approver–"
	case PartyManager:
		return "Manager–"
	case PartyUser:
		return "User–"
	}
	return ""
}

func containsType(list []entity.AttachmentType, t entity.AttachmentType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
