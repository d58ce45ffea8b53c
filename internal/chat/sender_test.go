package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageNewPersonalChat(t *testing.T) {
	h := newHarness(readyState())
	h.transport.fn = func(req ChatAPIRequest) (ChatAPIResponse, error) {
		user := Message{ID: "srv-user", ChatID: "chat-srv", Role: RoleUser, Content: req.Message}
		return successResponse("chat-srv", &user, msg("srv-assistant", "chat-srv", RoleAssistant, "Hi!"), false), nil
	}

	got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "srv-assistant", got.ID)

	require.Equal(t, 1, h.transport.callCount())
	req := h.transport.calls[0]
	assert.Empty(t, req.ChatID)
	assert.Empty(t, req.OrganizationID)
	assert.Equal(t, NonePromptID, req.PromptID)
	assert.Equal(t, "prov-1", req.ProviderID)
	assert.Equal(t, 500, req.MaxTokensToGenerate)
	assert.Empty(t, req.ContextMessages)
	assert.Equal(t, "tok", h.transport.token)

	s := h.store.Snapshot()
	assert.Equal(t, "chat-srv", s.CurrentChatID)
	assert.Empty(t, s.AIError)
	assert.False(t, s.IsLoadingAIResponse)
	require.Len(t, s.Chats.Personal, 1)
	assert.Contains(t, s.Chats.Personal[0].Title, "Hello")
	assert.Equal(t, map[string]bool{"srv-user": true, "srv-assistant": true}, s.Selection("chat-srv"))
	assert.False(t, hasProvisional(s))

	require.Len(t, h.persister.updates, 1)
	assert.Equal(t, "chat-srv", h.persister.updates[0].ChatID)
	assert.NotNil(t, h.persister.updates[0].Created)
	assert.Len(t, h.persister.updates[0].Messages, 2)
}

func TestSendMessageWalletConsentRefused(t *testing.T) {
	h := newHarness(readyState())
	h.wallet.info = WalletInfo{Status: WalletConsentRefused, Message: "User refused consent."}

	got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, h.transport.callCount())

	s := h.store.Snapshot()
	assert.Equal(t, "User refused consent.", s.AIError)
	assert.False(t, s.IsLoadingAIResponse)
	assert.Equal(t, PendingNone, s.PendingAction)
	assert.False(t, hasProvisional(s))
	assert.Empty(t, s.Conversations)
	assert.Zero(t, h.auth.loginRequests)
}

func TestSendMessageRemoteErrorOnExistingChat(t *testing.T) {
	initial := readyState()
	initial.CurrentChatID = "chat-1"
	initial.RewindTargetMessageID = "m1"
	initial.Conversations = map[string]Conversation{
		"chat-1": {ID: "chat-1", Messages: []Message{
			msg("m1", "chat-1", RoleUser, "q"),
			msg("m2", "chat-1", RoleAssistant, "a"),
		}, Selected: map[string]bool{"m1": true, "m2": true}},
	}
	h := newHarness(initial)
	h.transport.resp = ChatAPIResponse{Status: http.StatusInternalServerError, Error: &APIError{Message: "boom"}}

	got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "again"})
	require.NoError(t, err)
	assert.Nil(t, got)

	s := h.store.Snapshot()
	assert.Equal(t, "boom", s.AIError)
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages("chat-1")))
	assert.False(t, s.IsLoadingAIResponse)
	assert.Equal(t, "m1", s.RewindTargetMessageID)
	assert.Equal(t, PendingNone, s.PendingAction)
	assert.Zero(t, h.auth.loginRequests)
	assert.Empty(t, h.persister.updates)
}

func TestSendMessageWithoutSession(t *testing.T) {
	h := newHarness(readyState())
	h.auth.session = nil

	got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, h.transport.callCount())
	assert.Equal(t, 1, h.auth.loginRequests)

	s := h.store.Snapshot()
	assert.Equal(t, PendingSendMessage, s.PendingAction)
	assert.Equal(t, "Auth required.", s.AIError)
	assert.False(t, s.IsLoadingAIResponse)
	require.Len(t, h.pending.saved, 1)
	assert.Equal(t, "Hello", h.pending.saved[0].Message)
}

func TestSendMessageTransportErrorCleansUp(t *testing.T) {
	h := newHarness(readyState())
	h.transport.err = errors.New(`request failed: Post "http://10.0.0.5:8080/chat": connection reset`)

	got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
	require.NoError(t, err)
	assert.Nil(t, got)

	s := h.store.Snapshot()
	assert.Equal(t, SendFailedMessage, s.AIError)
	assert.NotContains(t, s.AIError, "10.0.0.5")
	assert.False(t, hasProvisional(s))
	assert.Empty(t, s.CurrentChatID)
}

func TestSendMessageAuthFailureFromAPI(t *testing.T) {
	h := newHarness(readyState())
	h.transport.resp = ChatAPIResponse{Status: http.StatusUnauthorized, Error: &APIError{Message: "Token expired"}}

	got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
	require.NoError(t, err)
	assert.Nil(t, got)

	s := h.store.Snapshot()
	assert.Equal(t, "Token expired", s.AIError)
	assert.Equal(t, PendingSendMessage, s.PendingAction)
	assert.Equal(t, 1, h.auth.loginRequests)
	assert.False(t, hasProvisional(s))
	require.Len(t, h.pending.saved, 1)
}

func TestSendMessageInsufficientBalance(t *testing.T) {
	h := newHarness(readyState())
	h.sender.budget = fixedBudget{max: 0}

	got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, h.transport.callCount())

	s := h.store.Snapshot()
	assert.Equal(t, "Insufficient balance.", s.AIError)
	assert.False(t, hasProvisional(s))
}

func TestSendMessageConfigurationErrors(t *testing.T) {
	t.Run("no provider selected", func(t *testing.T) {
		h := newHarness(State{})
		got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
		require.NoError(t, err)
		assert.Nil(t, got)
		s := h.store.Snapshot()
		assert.Equal(t, "No AI provider selected.", s.AIError)
		assert.Empty(t, s.Conversations)
	})

	t.Run("provider without model config", func(t *testing.T) {
		initial := readyState()
		initial.Providers[0].Config = nil
		h := newHarness(initial)
		got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
		require.NoError(t, err)
		assert.Nil(t, got)
		s := h.store.Snapshot()
		assert.Equal(t, "AI provider configuration missing.", s.AIError)
		assert.False(t, hasProvisional(s))
		assert.Zero(t, h.transport.callCount())
	})
}

func TestSendMessageUsesSelectedContextAndOrgWallet(t *testing.T) {
	initial := readyState()
	initial.CurrentChatID = "chat-1"
	initial.SelectedPromptID = "prompt-3"
	initial.Conversations = map[string]Conversation{
		"chat-1": {ID: "chat-1", Messages: []Message{
			msg("m1", "chat-1", RoleUser, "first"),
			msg("m2", "chat-1", RoleAssistant, "second"),
			msg("m3", "chat-1", RoleUser, "skipped"),
		}, Selected: map[string]bool{"m1": true, "m2": true}},
	}
	h := newHarness(initial)
	h.wallet.info = WalletInfo{Status: WalletOK, Type: WalletOrganization, OrganizationID: "org-1", Balance: 100}
	h.transport.fn = func(req ChatAPIRequest) (ChatAPIResponse, error) {
		return successResponse("chat-1", nil, msg("a-9", "chat-1", RoleAssistant, "ok"), false), nil
	}

	_, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "third"})
	require.NoError(t, err)

	req := h.transport.calls[0]
	assert.Equal(t, "chat-1", req.ChatID)
	assert.Equal(t, "org-1", req.OrganizationID)
	assert.Equal(t, "prompt-3", req.PromptID)
	assert.Equal(t, []ContextMessage{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "second"},
	}, req.ContextMessages)

	s := h.store.Snapshot()
	require.Len(t, s.Messages("chat-1"), 5)
	assert.Empty(t, s.Chats.Personal)
	assert.Empty(t, s.Chats.Orgs)
}

func TestSendMessageRewindFlow(t *testing.T) {
	initial := readyState()
	initial.CurrentChatID = "chat-1"
	initial.Conversations = map[string]Conversation{
		"chat-1": {ID: "chat-1", Messages: []Message{
			msg("A", "chat-1", RoleUser, "a"),
			msg("B", "chat-1", RoleAssistant, "b"),
			msg("C", "chat-1", RoleUser, "c"),
			msg("D", "chat-1", RoleAssistant, "d"),
		}, Selected: map[string]bool{"A": true, "B": true, "C": true, "D": true}},
	}
	h := newHarness(initial)
	require.True(t, PrepareRewind(h.store, "C"))
	h.transport.fn = func(req ChatAPIRequest) (ChatAPIResponse, error) {
		user := Message{ID: "newUser", ChatID: "chat-1", Role: RoleUser, Content: req.Message}
		return successResponse("chat-1", &user, msg("newAssistant", "chat-1", RoleAssistant, "regenerated"), true), nil
	}

	_, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "c, reworded"})
	require.NoError(t, err)
	assert.Equal(t, "C", h.transport.calls[0].RewindFromMessageID)

	s := h.store.Snapshot()
	assert.Equal(t, []string{"A", "B", "newUser", "newAssistant"}, ids(s.Messages("chat-1")))
	assert.Len(t, s.Selection("chat-1"), 4)
	assert.Empty(t, s.RewindTargetMessageID)
	require.Len(t, h.persister.updates, 1)
	assert.True(t, h.persister.updates[0].Rewound)
}

func TestSendMessageNewOrgChatFromNewChatContext(t *testing.T) {
	h := newHarness(readyState())
	StartNewChat(h.store, "org-5")
	h.transport.fn = func(req ChatAPIRequest) (ChatAPIResponse, error) {
		return successResponse("chat-org", nil, msg("a", "chat-org", RoleAssistant, "x"), false), nil
	}

	_, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Quarterly plan"})
	require.NoError(t, err)
	assert.Equal(t, "org-5", h.transport.calls[0].OrganizationID)

	s := h.store.Snapshot()
	require.Len(t, s.Chats.Orgs["org-5"], 1)
	assert.Empty(t, s.NewChatContext)
}

func TestSendMessageMissingChatIDIsFatal(t *testing.T) {
	h := newHarness(readyState())
	h.transport.resp = successResponse("", nil, Message{ID: "a"}, false)

	got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
	require.ErrorIs(t, err, ErrChatIDMissing)
	assert.Nil(t, got)

	s := h.store.Snapshot()
	assert.Equal(t, ChatIDMissingMessage, s.AIError)
	assert.False(t, hasProvisional(s))
	assert.Empty(t, h.persister.updates)
}

func TestSendMessageRejectsOverlap(t *testing.T) {
	initial := readyState()
	initial.IsLoadingAIResponse = true
	h := newHarness(initial)

	_, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
	require.ErrorIs(t, err, ErrSendInProgress)
	assert.Zero(t, h.transport.callCount())
	assert.Empty(t, h.store.Snapshot().Conversations)
}

func TestSendMessageEmpty(t *testing.T) {
	h := newHarness(readyState())
	_, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "   "})
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendMessageAdapterRecoversPanic(t *testing.T) {
	h := newHarness(readyState())
	h.transport.fn = func(ChatAPIRequest) (ChatAPIResponse, error) { panic("transport exploded") }

	got, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello"})
	require.NoError(t, err)
	assert.Nil(t, got)
	s := h.store.Snapshot()
	assert.True(t, strings.Contains(s.AIError, "exploded"))
	assert.False(t, hasProvisional(s))
}

func TestResumePendingReplaysSend(t *testing.T) {
	h := newHarness(readyState())
	h.auth.session = nil

	_, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello later"})
	require.NoError(t, err)
	require.Equal(t, PendingSendMessage, h.store.Snapshot().PendingAction)

	h.auth.session = &Session{AccessToken: "fresh"}
	h.transport.fn = func(req ChatAPIRequest) (ChatAPIResponse, error) {
		return successResponse("chat-r", nil, msg("a", "chat-r", RoleAssistant, "welcome back"), false), nil
	}

	got, err := h.sender.ResumePending(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Hello later", h.transport.calls[0].Message)
	assert.Equal(t, "fresh", h.transport.token)

	s := h.store.Snapshot()
	assert.Equal(t, PendingNone, s.PendingAction)
	assert.Empty(t, s.AIError)

	again, err := h.sender.ResumePending(context.Background())
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestResumePendingKeepsSendWhileWalletLoads(t *testing.T) {
	h := newHarness(readyState())
	h.auth.session = nil

	_, err := h.sender.SendMessage(context.Background(), SendRequest{Message: "Hello later"})
	require.NoError(t, err)

	h.auth.session = &Session{AccessToken: "fresh"}
	h.wallet.info = WalletInfo{Status: WalletLoading}

	got, err := h.sender.ResumePending(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, h.transport.callCount())
	require.Len(t, h.pending.saved, 1)
	assert.Equal(t, PendingSendMessage, h.store.Snapshot().PendingAction)

	h.wallet.info = WalletInfo{Status: WalletOK, Type: WalletPersonal, Balance: 10000}
	h.transport.fn = func(req ChatAPIRequest) (ChatAPIResponse, error) {
		return successResponse("chat-r", nil, msg("a", "chat-r", RoleAssistant, "welcome back"), false), nil
	}

	got, err = h.sender.ResumePending(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 1, h.transport.callCount())
	assert.Equal(t, "Hello later", h.transport.calls[0].Message)
	assert.Empty(t, h.pending.saved)
	assert.Equal(t, PendingNone, h.store.Snapshot().PendingAction)
}

func TestResumePendingKeepsSendDuringOverlap(t *testing.T) {
	h := newHarness(readyState())
	require.NoError(t, h.pending.SavePending(context.Background(), PendingSend{Message: "queued"}))
	h.store.Update(func(s State) State {
		s.IsLoadingAIResponse = true
		return s
	})

	got, err := h.sender.ResumePending(context.Background())
	require.ErrorIs(t, err, ErrSendInProgress)
	assert.Nil(t, got)
	require.Len(t, h.pending.saved, 1)
	assert.Equal(t, "queued", h.pending.saved[0].Message)
	assert.Zero(t, h.transport.callCount())
}
