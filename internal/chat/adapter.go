package chat

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

const (
	CodeUnexpectedProcessingError = "UNEXPECTED_PROCESSING_ERROR"
	CodeAuthRequired              = "AUTH_REQUIRED"
)

// Transport performs the remote chat call. A returned error means the exchange
// itself failed; API-level failures come back as ChatAPIResponse.Error.
type Transport interface {
	SendChatMessage(ctx context.Context, req ChatAPIRequest, accessToken string) (ChatAPIResponse, error)
}

// Adapter turns whatever a Transport does into an Outcome. It never returns an
// error and never lets a panic escape.
type Adapter struct {
	transport Transport
	logger    zerolog.Logger
}

func NewAdapter(t Transport, logger zerolog.Logger) *Adapter {
	return &Adapter{transport: t, logger: logger}
}

func (a *Adapter) Send(ctx context.Context, req ChatAPIRequest, accessToken string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("chat transport panicked")
			out = Outcome{ErrorMessage: fmt.Sprint(r), ErrorCode: CodeUnexpectedProcessingError}
		}
	}()

	resp, err := a.transport.SendChatMessage(ctx, req, accessToken)
	if err != nil {
		a.logger.Warn().Err(err).Msg("chat transport failed")
		return Outcome{
			ErrorMessage: SendFailedMessage,
			ErrorCode:    CodeUnexpectedProcessingError,
		}
	}

	if resp.Error != nil || resp.Data == nil {
		msg, code := SendFailedMessage, CodeUnexpectedProcessingError
		if resp.Error != nil {
			msg = orDefault(resp.Error.Message, SendFailedMessage)
			code = orDefault(resp.Error.Code, code)
		}
		if resp.Status == http.StatusUnauthorized {
			code = CodeAuthRequired
		}
		return Outcome{
			ErrorMessage: msg,
			ErrorCode:    code,
			AuthRequired: code == CodeAuthRequired,
		}
	}

	return Outcome{
		OK:        true,
		Assistant: resp.Data.AssistantMessage,
		User:      resp.Data.UserMessage,
		ChatID:    resp.Data.ChatID,
		WasRewind: resp.Data.IsRewind,
	}
}
