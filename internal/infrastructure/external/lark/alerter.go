package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/bonus-orchestrator/internal/application/port"
)

// messageCreator is the im/v1 message endpoint
type messageCreator interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// Alerter posts operational alerts as text messages to an ops chat.
// Implements port.OpsAlerter.
type Alerter struct {
	messages messageCreator
	chatID   string
	logger   *zap.Logger
}

// NewAlerter creates an alerter posting to chatID
func NewAlerter(sdk *SDKClient, chatID string, logger *zap.Logger) *Alerter {
	return newAlerter(sdk.GetClient().Im.Message, chatID, logger)
}

func newAlerter(messages messageCreator, chatID string, logger *zap.Logger) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alerter{messages: messages, chatID: chatID, logger: logger}
}

// Alert sends text to the ops chat
func (a *Alerter) Alert(ctx context.Context, text string) error {
	if text == "" {
		return errors.New("alert text cannot be empty")
	}

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(a.chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := a.messages.Create(ctx, req)
	if err != nil {
		a.logger.Error("Failed to send alert", zap.String("chat_id", a.chatID), zap.Error(err))
		return fmt.Errorf("failed to send alert: %w", err)
	}
	if !resp.Success() {
		a.logger.Error("Lark API returned failure",
			zap.String("chat_id", a.chatID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	a.logger.Info("Alert sent", zap.String("chat_id", a.chatID), zap.String("message_id", messageID))
	return nil
}

// LogAlerter writes alerts to the log. Used when no ops chat is configured.
type LogAlerter struct {
	logger *zap.Logger
}

// NewLogAlerter creates a log-only alerter
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(ctx context.Context, text string) error {
	a.logger.Warn("Ops alert", zap.String("text", text))
	return nil
}

var (
	_ port.OpsAlerter = (*Alerter)(nil)
	_ port.OpsAlerter = (*LogAlerter)(nil)
)
