package workflow

import (
	"errors"
	"testing"

	"github.com/ballggwp/eclaim/internal/claim/entity"
)

func TestCanView(t *testing.T) {
	tests := []struct {
		name   string
		actor  Actor
		status entity.Status
		want   bool
	}{
		{"creator sees own draft", creator, entity.StatusDraft, true},
		{"approver cannot see draft", approver, entity.StatusDraft, false},
		{"insurer cannot see draft", insurer, entity.StatusDraft, false},
		{"approver sees pending", approver, entity.StatusPendingApproverReview, true},
		{"insurer sees review", insurer, entity.StatusPendingInsurerReview, true},
		{"manager sees completed", manager, entity.StatusCompleted, true},
		{"stranger denied", stranger, entity.StatusPendingInsurerReview, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClaim(tt.status)
			if got := CanView(tt.actor, c); got != tt.want {
				t.Errorf("CanView = %v, want %v", got, tt.want)
			}
			err := Authorize(tt.actor, c, ActionView)
			if tt.want && err != nil {
				t.Errorf("Authorize(view) = %v", err)
			}
			if !tt.want && !errors.Is(err, ErrUnauthorized) {
				t.Errorf("Authorize(view) = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestCreatorMatchedByNameWithoutID(t *testing.T) {
	c := newClaim(entity.StatusDraft)
	c.CreatedByID = ""
	if !creator.IsCreator(c) {
		t.Fatal("expected name match")
	}
	if stranger.IsCreator(c) {
		t.Fatal("stranger matched by name")
	}
}

func TestAuthorizeEditSigner(t *testing.T) {
	c := newClaim(entity.StatusPendingInsurerReview)
	if err := Authorize(insurer, c, ActionEditSigner); err != nil {
		t.Fatalf("insurer during review: %v", err)
	}
	if err := Authorize(manager, c, ActionEditSigner); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("manager: err = %v", err)
	}

	c.SignerEdited = true
	if err := Authorize(insurer, c, ActionEditSigner); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second edit: err = %v, want ErrInvalidState", err)
	}

	c = newClaim(entity.StatusPendingInsurerForm)
	if err := Authorize(insurer, c, ActionEditSigner); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("outside review: err = %v", err)
	}
}

func TestAuthorizeEditContent(t *testing.T) {
	for _, s := range []entity.Status{entity.StatusDraft, entity.StatusAwaitingEvidence} {
		if err := Authorize(creator, newClaim(s), ActionEditContent); err != nil {
			t.Errorf("creator in %s: %v", s, err)
		}
		if err := Authorize(insurer, newClaim(s), ActionEditContent); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("insurer in %s: %v", s, err)
		}
	}
	if err := Authorize(creator, newClaim(entity.StatusPendingInsurerReview), ActionEditContent); !errors.Is(err, ErrInvalidState) {
		t.Errorf("locked content: %v", err)
	}
}

func TestAuthorizeSaveSettlement(t *testing.T) {
	if err := Authorize(insurer, newClaim(entity.StatusPendingInsurerForm), ActionSaveSettlement); err != nil {
		t.Fatalf("insurer: %v", err)
	}
	if err := Authorize(insurer, newClaim(entity.StatusPendingManagerReview), ActionSaveSettlement); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("after submit: %v", err)
	}
	if err := Authorize(manager, newClaim(entity.StatusPendingInsurerForm), ActionSaveSettlement); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("manager: %v", err)
	}
}

func TestAuthorizeAttachment(t *testing.T) {
	tests := []struct {
		name    string
		actor   Actor
		status  entity.Status
		typ     entity.AttachmentType
		wantErr error
	}{
		{"creator damage image in draft", creator, entity.StatusDraft, entity.AttachmentDamageImage, nil},
		{"creator estimate during evidence", creator, entity.StatusAwaitingEvidence, entity.AttachmentEstimateDoc, nil},
		{"creator damage image after submit", creator, entity.StatusPendingApproverReview, entity.AttachmentDamageImage, ErrInvalidState},
		{"insurer damage image", insurer, entity.StatusDraft, entity.AttachmentDamageImage, ErrUnauthorized},
		{"confirm doc in user confirm", creator, entity.StatusPendingUserConfirm, entity.AttachmentUserConfirmDoc, nil},
		{"confirm doc too early", creator, entity.StatusPendingManagerReview, entity.AttachmentUserConfirmDoc, ErrInvalidState},
		{"confirm doc by stranger", stranger, entity.StatusPendingUserConfirm, entity.AttachmentUserConfirmDoc, ErrUnauthorized},
		{"insurance doc after completion", insurer, entity.StatusCompleted, entity.AttachmentInsuranceDoc, nil},
		{"insurance doc on a hidden draft", insurer, entity.StatusDraft, entity.AttachmentInsuranceDoc, ErrUnauthorized},
		{"stranger on a submitted claim", stranger, entity.StatusPendingInsurerReview, entity.AttachmentInsuranceDoc, ErrUnauthorized},
		{"insurance doc by manager", manager, entity.StatusCompleted, entity.AttachmentInsuranceDoc, ErrUnauthorized},
		{"unknown type", creator, entity.StatusDraft, "SELFIE", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AuthorizeAttachment(tt.actor, newClaim(tt.status), tt.typ)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthorizeAttachmentDelete(t *testing.T) {
	c := newClaim(entity.StatusDraft)
	att := &c.Attachments[0]
	if err := AuthorizeAttachmentDelete(creator, c, att); err != nil {
		t.Fatalf("creator: %v", err)
	}
	if err := AuthorizeAttachmentDelete(insurer, c, att); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("insurer: %v", err)
	}

	c = newClaim(entity.StatusPendingApproverReview)
	if err := AuthorizeAttachmentDelete(creator, c, &c.Attachments[0]); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("after submit: %v", err)
	}

	c = newClaim(entity.StatusCompleted)
	doc := entity.Attachment{ID: "a-5", Type: entity.AttachmentInsuranceDoc, UploaderID: insurer.ID}
	if err := AuthorizeAttachmentDelete(insurer, c, &doc); err != nil {
		t.Errorf("insurer own doc: %v", err)
	}
}

func TestAuthorizeTransitionUsesTable(t *testing.T) {
	c := newClaim(entity.StatusPendingApproverReview)
	if err := Authorize(approver, c, ActionApprove); err != nil {
		t.Fatalf("approver: %v", err)
	}
	if err := Authorize(insurer, c, ActionApprove); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("insurer on approver step: %v", err)
	}
	if err := Authorize(approver, c, ActionConfirm); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("confirm on approver step: %v", err)
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction(" Approve "); err != nil || a != ActionApprove {
		t.Fatalf("ParseAction = %q, %v", a, err)
	}
	if _, err := ParseAction("view"); err == nil {
		t.Fatal("side actions are not transition actions")
	}
}
