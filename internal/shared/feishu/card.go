package feishu

import (
	"context"
	"encoding/json"
	"fmt"
)

// SendCard 向群聊发送消息卡片
func (c *FeishuClient) SendCard(ctx context.Context, chatID string, card InteractiveCard) (string, error) {
	return c.sendCard(ctx, ReceiveIDChat, chatID, card)
}

// SendEmailCard sends a card to the user registered under email.
func (c *FeishuClient) SendEmailCard(ctx context.Context, email string, card InteractiveCard) (string, error) {
	return c.sendCard(ctx, ReceiveIDEmail, email, card)
}

// sendCard 发送消息卡片，返回消息ID
func (c *FeishuClient) sendCard(ctx context.Context, idType, id string, card InteractiveCard) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty %s", idType)
	}
	cardBytes, err := json.Marshal(card)
	if err != nil {
		return "", fmt.Errorf("序列化卡片内容失败: %w", err)
	}

	reqBody := SendMessageRequest{
		ReceiveID: id,
		MsgType:   "interactive",
		Content:   string(cardBytes),
	}
	path := fmt.Sprintf("/open-apis/im/v1/messages?receive_id_type=%s", idType)

	var resp SendMessageResponse
	if err := c.doRequest(ctx, "POST", path, reqBody, &resp); err != nil {
		return "", fmt.Errorf("发送消息卡片失败: %w", err)
	}
	return resp.Data.MessageID, nil
}

// Field is a label/value pair rendered as a short card field.
type Field struct {
	Label string
	Value string
}

// NewNoticeCard builds a notification card with short fields, an optional
// note and an optional link button.
func NewNoticeCard(title, color string, fields []Field, note, linkText, linkURL string) InteractiveCard {
	div := CardElement{Tag: "div"}
	for _, f := range fields {
		div.Fields = append(div.Fields, CardField{
			IsShort: true,
			Text:    CardText{Tag: "lark_md", Content: fmt.Sprintf("**%s**\n%s", f.Label, f.Value)},
		})
	}

	elements := []CardElement{div}
	if note != "" {
		elements = append(elements,
			CardElement{Tag: "hr"},
			CardElement{Tag: "div", Text: &CardText{Tag: "lark_md", Content: note}},
		)
	}
	if linkURL != "" {
		elements = append(elements, CardElement{
			Tag: "action",
			Actions: []CardAction{{
				Tag:  "button",
				Text: CardText{Tag: "plain_text", Content: linkText},
				Type: "primary",
				URL:  linkURL,
			}},
		})
	}

	return InteractiveCard{
		Config:   &CardConfig{WideScreenMode: true},
		Header:   &CardHeader{Title: CardText{Tag: "plain_text", Content: title}, Template: color},
		Elements: elements,
	}
}
