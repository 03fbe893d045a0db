package workflow

import (
	"github.com/ballggwp/eclaim/internal/claim/entity"
)

// Authorize decides whether actor may perform action on c. Transition actions are
// checked against the party of their edge; side actions have their own rules.
// Every entry point consults this function before touching a claim.
func Authorize(actor Actor, c *entity.Claim, action Action) error {
	switch action {
	case ActionView:
		if !CanView(actor, c) {
			return unauthorized(c.Status, action, "claim is not visible to this user")
		}
		return nil

	case ActionEditContent:
		if !actor.IsCreator(c) {
			return unauthorized(c.Status, action, "only the creator may edit the claim")
		}
		if c.Status != entity.StatusDraft && c.Status != entity.StatusAwaitingEvidence {
			return invalidState(c.Status, action, "claim content is locked")
		}
		return nil

	case ActionEditSigner:
		if actor.Role != entity.RoleInsurance || c.Status != entity.StatusPendingInsurerReview {
			return unauthorized(c.Status, action, "signer can only be changed by the insurer during insurer review")
		}
		if c.SignerEdited {
			return invalidState(c.Status, action, "signer was already changed once")
		}
		return nil

	case ActionSaveSettlement:
		if actor.Role != entity.RoleInsurance || c.Status != entity.StatusPendingInsurerForm {
			return unauthorized(c.Status, action, "settlement form is editable by the insurer only while pending")
		}
		return nil
	}

	edge, ok := Lookup(c.Status, action)
	if !ok {
		return invalidTransition(c.Status, action)
	}
	if !actor.plays(edge.Party, c) {
		return unauthorized(c.Status, action, "requires the "+string(edge.Party))
	}
	return nil
}

// CanView is the read rule. Drafts are private to their creator; once submitted,
// the approver and the insurance and manager roles can read the claim.
func CanView(actor Actor, c *entity.Claim) bool {
	if actor.IsCreator(c) {
		return true
	}
	if c.Status == entity.StatusDraft {
		return false
	}
	if actor.IsApprover(c) {
		return true
	}
	return actor.Role == entity.RoleInsurance || actor.Role == entity.RoleManager
}

// AttachmentStages lists the statuses in which each attachment type can be added.
// A nil entry means any status except DRAFT.
var AttachmentStages = map[entity.AttachmentType][]entity.Status{
	entity.AttachmentDamageImage:    {entity.StatusDraft, entity.StatusAwaitingEvidence},
	entity.AttachmentEstimateDoc:    {entity.StatusDraft, entity.StatusAwaitingEvidence},
	entity.AttachmentOtherDocument:  {entity.StatusDraft, entity.StatusAwaitingEvidence},
	entity.AttachmentUserConfirmDoc: {entity.StatusPendingUserConfirm},
	entity.AttachmentInsuranceDoc:   nil,
}

// Addable reports whether an attachment of type t may be added while in status s.
func Addable(t entity.AttachmentType, s entity.Status) bool {
	stages, ok := AttachmentStages[t]
	if !ok {
		return false
	}
	if stages == nil {
		return s != entity.StatusDraft
	}
	for _, v := range stages {
		if v == s {
			return true
		}
	}
	return false
}

// AuthorizeAttachment checks an attachment upload of type t.
func AuthorizeAttachment(actor Actor, c *entity.Claim, t entity.AttachmentType) error {
	if !CanView(actor, c) {
		return unauthorized(c.Status, ActionAddAttachment, "claim is not visible to this user")
	}
	var allowed bool
	switch t {
	case entity.AttachmentDamageImage, entity.AttachmentEstimateDoc, entity.AttachmentOtherDocument:
		allowed = actor.IsCreator(c)
	case entity.AttachmentUserConfirmDoc:
		allowed = actor.plays(PartyUser, c)
	case entity.AttachmentInsuranceDoc:
		allowed = actor.Role == entity.RoleInsurance
	default:
		return validation(c.Status, ActionAddAttachment, "unknown attachment type", "type")
	}
	if !allowed {
		return unauthorized(c.Status, ActionAddAttachment, "cannot upload "+string(t))
	}
	if !Addable(t, c.Status) {
		return invalidState(c.Status, ActionAddAttachment, string(t)+" cannot be added in this status")
	}
	return nil
}

// AuthorizeAttachmentDelete checks removal of att. Only the uploader or the creator
// may remove a file, and only while its type is still addable.
func AuthorizeAttachmentDelete(actor Actor, c *entity.Claim, att *entity.Attachment) error {
	if !CanView(actor, c) {
		return unauthorized(c.Status, ActionDeleteAttachment, "claim is not visible to this user")
	}
	if !actor.Matches(att.UploaderID) && !actor.IsCreator(c) {
		return unauthorized(c.Status, ActionDeleteAttachment, "only the uploader may remove this file")
	}
	if !Addable(att.Type, c.Status) {
		return unauthorized(c.Status, ActionDeleteAttachment, string(att.Type)+" is locked in this status")
	}
	return nil
}
