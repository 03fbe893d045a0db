package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/config"
	"github.com/ballggwp/eclaim/internal/shared/feishu"
	"go.uber.org/zap"
)

// CardSender delivers interactive cards to a group chat or to a user by email.
type CardSender interface {
	SendCard(ctx context.Context, chatID string, card feishu.InteractiveCard) (string, error)
	SendEmailCard(ctx context.Context, email string, card feishu.InteractiveCard) (string, error)
}

// FeishuNotifier 飞书通知：把流转结果推给下一位处理人
type FeishuNotifier struct {
	sender CardSender
	cfg    config.FeishuConfig
	logger *zap.Logger
}

// NewFeishuNotifier 创建飞书通知器
func NewFeishuNotifier(sender CardSender, cfg config.FeishuConfig, logger *zap.Logger) *FeishuNotifier {
	return &FeishuNotifier{sender: sender, cfg: cfg, logger: logger}
}

// recipient is either a chat or a user email.
type recipient struct {
	chatID string
	email  string
}

func (r recipient) String() string {
	if r.chatID != "" {
		return "chat:" + r.chatID
	}
	return "email:" + r.email
}

// recipients returns who acts next on a claim in its current status.
func (n *FeishuNotifier) recipients(c *entity.Claim) []recipient {
	switch c.Status {
	case entity.StatusPendingApproverReview:
		return []recipient{{email: c.ApproverEmail}}
	case entity.StatusPendingInsurerReview, entity.StatusPendingInsurerForm:
		return []recipient{{chatID: n.cfg.InsurerChatID}}
	case entity.StatusPendingManagerReview:
		return []recipient{{chatID: n.cfg.ManagerChatID}}
	case entity.StatusAwaitingEvidence, entity.StatusPendingUserConfirm,
		entity.StatusCompleted, entity.StatusRejected:
		return []recipient{{email: c.CreatedByEmail}}
	case entity.StatusAwaitingSignatures:
		return []recipient{{email: c.SignerEmail}, {chatID: n.cfg.InsurerChatID}}
	}
	return nil
}

var statusTitles = map[entity.Status]string{
	entity.StatusPendingApproverReview: "รอผู้อนุมัติตรวจสอบ",
	entity.StatusPendingInsurerReview:  "รอฝ่ายประกันตรวจสอบ",
	entity.StatusAwaitingEvidence:      "ขอเอกสารเพิ่มเติม",
	entity.StatusPendingInsurerForm:    "รอฝ่ายประกันกรอกแบบฟอร์ม",
	entity.StatusPendingManagerReview:  "รอผู้จัดการอนุมัติ",
	entity.StatusPendingUserConfirm:    "รอผู้แจ้งยืนยัน",
	entity.StatusAwaitingSignatures:    "รอลงนาม",
	entity.StatusCompleted:             "เสร็จสิ้น",
	entity.StatusRejected:              "ไม่อนุมัติ",
}

func statusColor(s entity.Status) string {
	switch s {
	case entity.StatusCompleted:
		return "green"
	case entity.StatusRejected:
		return "red"
	case entity.StatusAwaitingEvidence:
		return "orange"
	}
	return "blue"
}

// Card renders the notice for a claim after h was recorded.
func (n *FeishuNotifier) Card(c *entity.Claim, h entity.ClaimStatusHistory) feishu.InteractiveCard {
	title := fmt.Sprintf("[%s] %s", c.DocNum, statusTitles[c.Status])
	fields := []feishu.Field{
		{Label: "ผู้แจ้ง", Value: c.CreatedByName},
		{Label: "ประเภท", Value: c.CategoryMain + " / " + c.CategorySub},
		{Label: "มูลค่าความเสียหาย", Value: FormatAmount(c.Form().DamageAmount) + " บาท"},
		{Label: "ดำเนินการโดย", Value: h.ActorName},
	}
	if st := c.FPPA04(); st.NetAmount != 0 {
		fields = append(fields, feishu.Field{Label: "ยอดสุทธิ", Value: FormatAmount(st.NetAmount) + " บาท"})
	}

	var link string
	if n.cfg.AppURL != "" {
		link = strings.TrimRight(n.cfg.AppURL, "/") + "/claims/" + c.ID
	}
	return feishu.NewNoticeCard(title, statusColor(c.Status), fields, h.Comment, "เปิดรายการ", link)
}

// ClaimChanged sends the notice card to everyone who acts next. Failures are
// logged; a transition never fails because a message could not be delivered.
func (n *FeishuNotifier) ClaimChanged(ctx context.Context, c *entity.Claim, h entity.ClaimStatusHistory) {
	recipients := n.recipients(c)
	if len(recipients) == 0 {
		return
	}
	card := n.Card(c, h)
	for _, r := range recipients {
		var err error
		switch {
		case r.chatID != "":
			_, err = n.sender.SendCard(ctx, r.chatID, card)
		case r.email != "":
			_, err = n.sender.SendEmailCard(ctx, r.email, card)
		default:
			continue
		}
		if err != nil {
			n.logger.Warn("claim notification failed",
				zap.String("claim_id", c.ID),
				zap.String("status", string(c.Status)),
				zap.Stringer("recipient", r),
				zap.Error(err))
		}
	}
}
