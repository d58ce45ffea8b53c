package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"chatflow/internal/chat"
	"chatflow/internal/session"
	"chatflow/internal/storage"
)

// History loads persisted conversations for hydration.
type History interface {
	GetChat(ctx context.Context, chatID string) (chat.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]chat.Message, error)
}

type Config struct {
	Store   chat.StateStore
	Sender  *chat.Sender
	Holder  *session.Holder
	History History
	Logger  zerolog.Logger
}

type Handler struct {
	store   chat.StateStore
	sender  *chat.Sender
	holder  *session.Holder
	history History
	logger  zerolog.Logger
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		store:   cfg.Store,
		sender:  cfg.Sender,
		holder:  cfg.Holder,
		history: cfg.History,
		logger:  cfg.Logger,
	}
}

func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn().Err(err).Msg("encode response")
	}
}

func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

func decode(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	h.JSON(w, http.StatusOK, h.store.Snapshot())
}

type sendRequest struct {
	Message         string                `json:"message"`
	ChatID          string                `json:"chatId,omitempty"`
	ContextMessages []chat.ContextMessage `json:"contextMessages,omitempty"`
}

type sendResponse struct {
	Assistant     *chat.Message      `json:"assistantMessage,omitempty"`
	ChatID        string             `json:"chatId,omitempty"`
	Error         string             `json:"error,omitempty"`
	PendingAction chat.PendingAction `json:"pendingAction,omitempty"`
	LoginRequired bool               `json:"loginRequired,omitempty"`
}

// SendMessage answers 200 with the assistant message, 422 when the send was
// blocked or failed and 502 on a fatal error. Non-200 bodies carry the
// surfaced error.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.sender.SendMessage(r.Context(), chat.SendRequest{
		Message:         req.Message,
		ChatID:          req.ChatID,
		ContextMessages: req.ContextMessages,
	})
	h.writeSendResult(w, msg, err)
}

func (h *Handler) writeSendResult(w http.ResponseWriter, msg *chat.Message, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrSendInProgress):
		h.Error(w, http.StatusConflict, err.Error())
		return
	}

	s := h.store.Snapshot()
	resp := sendResponse{
		ChatID:        s.CurrentChatID,
		Error:         s.AIError,
		PendingAction: s.PendingAction,
		LoginRequired: h.holder != nil && h.holder.LoginRequired(),
	}
	switch {
	case err != nil:
		h.logger.Error().Err(err).Msg("send failed")
		h.JSON(w, http.StatusBadGateway, resp)
	case msg == nil:
		h.JSON(w, http.StatusUnprocessableEntity, resp)
	default:
		resp.Assistant = msg
		h.JSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) StartNewChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string `json:"organizationId"`
	}
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	chat.StartNewChat(h.store, req.OrganizationID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SelectChat(w http.ResponseWriter, r *http.Request) {
	chat.SelectChat(h.store, chi.URLParam(r, "chatID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PrepareRewind(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"messageId"`
	}
	if err := decode(r, &req); err != nil || req.MessageID == "" {
		h.Error(w, http.StatusBadRequest, "messageId is required")
		return
	}
	if !chat.PrepareRewind(h.store, req.MessageID) {
		h.Error(w, http.StatusNotFound, "message not in current chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CancelRewind(w http.ResponseWriter, _ *http.Request) {
	chat.CancelRewind(h.store)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearError(w http.ResponseWriter, _ *http.Request) {
	chat.ClearAIError(h.store)
	w.WriteHeader(http.StatusNoContent)
}

// SignIn installs a session and replays a send that was waiting for one.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"userId"`
		Email       string `json:"email"`
		AccessToken string `json:"accessToken"`
	}
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.holder.SignIn(chat.User{ID: req.UserID, Email: req.Email}, req.AccessToken)
	if req.AccessToken == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	msg, err := h.sender.ResumePending(r.Context())
	if err == nil && msg == nil && h.store.Snapshot().PendingAction == chat.PendingNone {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeSendResult(w, msg, err)
}

func (h *Handler) SetWallet(w http.ResponseWriter, r *http.Request) {
	var info chat.WalletInfo
	if err := decode(r, &info); err != nil || info.Status == "" {
		h.Error(w, http.StatusBadRequest, "wallet status is required")
		return
	}
	h.holder.SetWallet(info)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetProviders(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Providers          []chat.Provider `json:"providers"`
		SelectedProviderID string          `json:"selectedProviderId"`
		SelectedPromptID   string          `json:"selectedPromptId"`
	}
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.store.Update(func(s chat.State) chat.State {
		if req.Providers != nil {
			s.Providers = req.Providers
		}
		s.SelectedProviderID = req.SelectedProviderID
		s.SelectedPromptID = req.SelectedPromptID
		return s
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LoadConversation(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.Error(w, http.StatusNotImplemented, "history is not configured")
		return
	}
	chatID := chi.URLParam(r, "chatID")
	c, err := h.history.GetChat(r.Context(), chatID)
	if errors.Is(err, storage.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("chat_id", chatID).Msg("load chat failed")
		h.Error(w, http.StatusInternalServerError, "failed to load chat")
		return
	}
	msgs, err := h.history.ListMessages(r.Context(), chatID)
	if err != nil {
		h.logger.Error().Err(err).Str("chat_id", chatID).Msg("load messages failed")
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	chat.LoadConversation(h.store, &c, chatID, msgs)
	chat.SelectChat(h.store, chatID)
	h.JSON(w, http.StatusOK, h.store.Snapshot().Conversations[chatID])
}

func (h *Handler) SelectAll(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if _, ok := h.store.Snapshot().Conversations[chatID]; !ok {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	chat.SelectAll(h.store, chatID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ToggleMessage(w http.ResponseWriter, r *http.Request) {
	chatID, messageID := chi.URLParam(r, "chatID"), chi.URLParam(r, "messageID")
	conv, ok := h.store.Snapshot().Conversations[chatID]
	if !ok {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	if !slices.ContainsFunc(conv.Messages, func(m chat.Message) bool { return m.ID == messageID }) {
		h.Error(w, http.StatusNotFound, "message not found")
		return
	}
	selected := chat.ToggleMessageSelection(h.store, chatID, messageID)
	h.JSON(w, http.StatusOK, map[string]bool{"selected": selected})
}
