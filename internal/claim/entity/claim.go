package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Status 理赔单状态
type Status string

const (
	StatusDraft                 Status = "DRAFT"
	StatusPendingApproverReview Status = "PENDING_APPROVER_REVIEW"
	StatusPendingInsurerReview  Status = "PENDING_INSURER_REVIEW"
	StatusAwaitingEvidence      Status = "AWAITING_EVIDENCE"
	StatusPendingInsurerForm    Status = "PENDING_INSURER_FORM"
	StatusPendingManagerReview  Status = "PENDING_MANAGER_REVIEW"
	StatusPendingUserConfirm    Status = "PENDING_USER_CONFIRM"
	StatusAwaitingSignatures    Status = "AWAITING_SIGNATURES"
	StatusCompleted             Status = "COMPLETED"
	StatusRejected              Status = "REJECTED"
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []Status{
	StatusDraft,
	StatusPendingApproverReview,
	StatusPendingInsurerReview,
	StatusAwaitingEvidence,
	StatusPendingInsurerForm,
	StatusPendingManagerReview,
	StatusPendingUserConfirm,
	StatusAwaitingSignatures,
	StatusCompleted,
	StatusRejected,
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown claim status %q", raw)
	}
	return s, nil
}

// StatusDates maps a status to the time the claim last entered it.
type StatusDates map[Status]time.Time

// Value implements driver.Valuer
func (d StatusDates) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (d *StatusDates) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*d = StatusDates{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported status_dates type %T", value)
	}
	m := StatusDates{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
	}
	*d = m
	return nil
}

// Clone returns an independent copy.
func (d StatusDates) Clone() StatusDates {
	out := make(StatusDates, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Claim 理赔单
type Claim struct {
	ID           string `json:"id" gorm:"primaryKey;size:36"`
	DocNum       string `json:"doc_num" gorm:"size:32;not null;uniqueIndex"`
	Status       Status `json:"status" gorm:"size:32;not null;index;default:DRAFT"`
	// Version 每次写入递增，用作乐观锁
	Version      int64  `json:"version" gorm:"not null;default:1"`
	CategoryMain string `json:"category_main" gorm:"size:64;not null"`
	CategorySub  string `json:"category_sub" gorm:"size:64;not null"`

	CreatedByID    string `json:"created_by_id" gorm:"size:36;index"`
	CreatedByName  string `json:"created_by_name" gorm:"size:128;not null;index"`
	CreatedByEmail string `json:"created_by_email" gorm:"size:128;index"`

	ApproverID         string `json:"approver_id" gorm:"size:36;index"`
	ApproverEmail      string `json:"approver_email" gorm:"size:128"`
	ApproverName       string `json:"approver_name" gorm:"size:128"`
	ApproverPosition   string `json:"approver_position" gorm:"size:128"`
	ApproverDepartment string `json:"approver_department" gorm:"size:128"`

	SignerID       string `json:"signer_id" gorm:"size:36"`
	SignerEmail    string `json:"signer_email" gorm:"size:128"`
	SignerName     string `json:"signer_name" gorm:"size:128"`
	SignerPosition string `json:"signer_position" gorm:"size:128"`
	SignerEdited   bool   `json:"signer_edited" gorm:"not null;default:false"`

	InsurerComment string `json:"insurer_comment" gorm:"type:text"`

	CPMForm     datatypes.JSONType[CPMForm]    `json:"cpm_form" gorm:"type:jsonb"`
	Settlement  datatypes.JSONType[Settlement] `json:"fppa04" gorm:"column:fppa04;type:jsonb"`
	StatusDates StatusDates                    `json:"status_dates" gorm:"type:jsonb"`

	SubmittedAt *time.Time `json:"submitted_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Attachments []Attachment `json:"attachments,omitempty" gorm:"foreignKey:ClaimID"`
}

func (Claim) TableName() string {
	return "claims"
}

// Clone returns a copy that shares no mutable state with c.
func (c *Claim) Clone() *Claim {
	out := *c
	out.StatusDates = c.StatusDates.Clone()
	if c.Attachments != nil {
		out.Attachments = make([]Attachment, len(c.Attachments))
		copy(out.Attachments, c.Attachments)
	}
	if c.SubmittedAt != nil {
		t := *c.SubmittedAt
		out.SubmittedAt = &t
	}
	s := c.Settlement.Data()
	out.Settlement = datatypes.NewJSONType(s.Clone())
	return &out
}

// Form returns the accident report payload.
func (c *Claim) Form() CPMForm {
	return c.CPMForm.Data()
}

// FPPA04 returns the settlement payload.
func (c *Claim) FPPA04() Settlement {
	return c.Settlement.Data()
}

// HasAttachment reports whether an attachment of type t exists.
func (c *Claim) HasAttachment(t AttachmentType) bool {
	for _, a := range c.Attachments {
		if a.Type == t {
			return true
		}
	}
	return false
}

// FindAttachment looks an attachment up by id.
func (c *Claim) FindAttachment(id string) (*Attachment, bool) {
	for i := range c.Attachments {
		if c.Attachments[i].ID == id {
			return &c.Attachments[i], true
		}
	}
	return nil, false
}

// CPMForm 事故报告表单
type CPMForm struct {
	PhoneNum            string  `json:"phone_num"`
	AccidentDate        string  `json:"accident_date"`
	AccidentTime        string  `json:"accident_time"`
	Location            string  `json:"location"`
	Cause               string  `json:"cause"`
	RepairShop          string  `json:"repair_shop"`
	RepairShopLocation  string  `json:"repair_shop_location"`
	PoliceDate          string  `json:"police_date"`
	PoliceTime          string  `json:"police_time"`
	PoliceStation       string  `json:"police_station"`
	DamageOwnType       string  `json:"damage_own_type"`
	DamageOtherOwn      string  `json:"damage_other_own"`
	DamageDetail        string  `json:"damage_detail"`
	DamageAmount        float64 `json:"damage_amount"`
	VictimDetail        string  `json:"victim_detail"`
	PartnerName         string  `json:"partner_name"`
	PartnerPhone        string  `json:"partner_phone"`
	PartnerLocation     string  `json:"partner_location"`
	PartnerDamageDetail string  `json:"partner_damage_detail"`
	PartnerDamageAmount float64 `json:"partner_damage_amount"`
	PartnerVictimDetail string  `json:"partner_victim_detail"`
}

// MissingFields lists the required fields that are empty before a submit.
func (f CPMForm) MissingFields() []string {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"accident_date", f.AccidentDate},
		{"accident_time", f.AccidentTime},
		{"location", f.Location},
		{"cause", f.Cause},
		{"damage_own_type", f.DamageOwnType},
		{"damage_detail", f.DamageDetail},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if f.DamageAmount < 0 {
		missing = append(missing, "damage_amount")
	}
	return missing
}

// ClaimStatusHistory 理赔单状态流转记录
type ClaimStatusHistory struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	ClaimID    string    `json:"claim_id" gorm:"size:36;not null;index"`
	FromStatus Status    `json:"from_status" gorm:"size:32"`
	ToStatus   Status    `json:"to_status" gorm:"size:32;not null"`
	Action     string    `json:"action" gorm:"size:32;not null"`
	ActorID    string    `json:"actor_id" gorm:"size:36"`
	ActorName  string    `json:"actor_name" gorm:"size:128"`
	ActorRole  Role      `json:"actor_role" gorm:"size:16"`
	Comment    string    `json:"comment" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

func (ClaimStatusHistory) TableName() string {
	return "claim_status_histories"
}
