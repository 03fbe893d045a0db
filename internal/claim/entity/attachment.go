package entity

import (
	"fmt"
	"time"
)

// AttachmentType 附件类型
type AttachmentType string

const (
	AttachmentDamageImage    AttachmentType = "DAMAGE_IMAGE"
	AttachmentEstimateDoc    AttachmentType = "ESTIMATE_DOC"
	AttachmentOtherDocument  AttachmentType = "OTHER_DOCUMENT"
	AttachmentUserConfirmDoc AttachmentType = "USER_CONFIRM_DOC"
	AttachmentInsuranceDoc   AttachmentType = "INSURANCE_DOC"
)

// ParseAttachmentType validates a raw attachment type.
func ParseAttachmentType(raw string) (AttachmentType, error) {
	switch t := AttachmentType(raw); t {
	case AttachmentDamageImage, AttachmentEstimateDoc, AttachmentOtherDocument,
		AttachmentUserConfirmDoc, AttachmentInsuranceDoc:
		return t, nil
	}
	return "", fmt.Errorf("unknown attachment type %q", raw)
}

// Attachment 理赔附件
type Attachment struct {
	ID           string         `json:"id" gorm:"primaryKey;size:36"`
	ClaimID      string         `json:"claim_id" gorm:"size:36;not null;index"`
	Type         AttachmentType `json:"type" gorm:"size:32;not null"`
	FileName     string         `json:"file_name" gorm:"size:256;not null"`
	ObjectKey    string         `json:"-" gorm:"size:512;not null"`
	URL          string         `json:"url" gorm:"size:1024"`
	ContentType  string         `json:"content_type" gorm:"size:128"`
	Size         int64          `json:"size"`
	UploaderID   string         `json:"uploader_id" gorm:"size:36"`
	UploaderType Role           `json:"uploader_type" gorm:"size:16"`
	UploadedAt   time.Time      `json:"uploaded_at"`
}

func (Attachment) TableName() string {
	return "claim_attachments"
}
