package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartNewChat(t *testing.T) {
	store := NewStore(stateWith("chat-1", []Message{msg("m1", "chat-1", RoleUser, "x")}, "m1"))
	store.Update(func(s State) State {
		s.RewindTargetMessageID = "m1"
		s.AIError = "old"
		return s
	})

	StartNewChat(store, "")
	s := store.Snapshot()
	assert.Empty(t, s.CurrentChatID)
	assert.Equal(t, PersonalContext, s.NewChatContext)
	assert.Empty(t, s.RewindTargetMessageID)
	assert.Empty(t, s.AIError)
	assert.Len(t, s.Messages("chat-1"), 1)

	StartNewChat(store, "org-2")
	assert.Equal(t, "org-2", store.Snapshot().NewChatContext)
}

func TestPrepareAndCancelRewind(t *testing.T) {
	store := NewStore(stateWith("chat-1", []Message{msg("m1", "chat-1", RoleUser, "x")}))

	assert.False(t, PrepareRewind(store, "missing"))
	assert.Empty(t, store.Snapshot().RewindTargetMessageID)

	require.True(t, PrepareRewind(store, "m1"))
	assert.Equal(t, "m1", store.Snapshot().RewindTargetMessageID)

	CancelRewind(store)
	assert.Empty(t, store.Snapshot().RewindTargetMessageID)
}

func TestSelectChatClearsRewind(t *testing.T) {
	store := NewStore(stateWith("chat-1", nil))
	store.Update(func(s State) State {
		s.RewindTargetMessageID = "m1"
		return s
	})
	SelectChat(store, "chat-2")
	s := store.Snapshot()
	assert.Equal(t, "chat-2", s.CurrentChatID)
	assert.Empty(t, s.RewindTargetMessageID)
}

func TestToggleAndSelectAll(t *testing.T) {
	store := NewStore(stateWith("chat-1", []Message{
		msg("m1", "chat-1", RoleUser, "a"),
		msg("m2", "chat-1", RoleAssistant, "b"),
	}, "m1"))

	assert.False(t, ToggleMessageSelection(store, "chat-1", "m1"))
	assert.True(t, ToggleMessageSelection(store, "chat-1", "m2"))
	assert.False(t, ToggleMessageSelection(store, "chat-1", "ghost"))
	assert.Equal(t, map[string]bool{"m1": false, "m2": true}, store.Snapshot().Selection("chat-1"))

	SelectAll(store, "chat-1")
	assert.Equal(t, map[string]bool{"m1": true, "m2": true}, store.Snapshot().Selection("chat-1"))
}

func TestLoadConversation(t *testing.T) {
	store := NewStore(State{})
	org := "org-1"
	c := &Chat{ID: "chat-9", Title: "loaded", OrganizationID: &org}
	m := msg("m1", "chat-9", RoleUser, "x")
	m.Status = ""

	LoadConversation(store, c, "chat-9", []Message{m, msg("m2", "chat-9", RoleAssistant, "y")})
	LoadConversation(store, c, "chat-9", []Message{m, msg("m2", "chat-9", RoleAssistant, "y")})

	s := store.Snapshot()
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages("chat-9")))
	assert.Equal(t, StatusSent, s.Messages("chat-9")[0].Status)
	assert.Len(t, s.Selection("chat-9"), 2)
	assert.Len(t, s.Chats.Orgs["org-1"], 1)
	assert.Empty(t, s.Chats.Personal)
}

func TestStoreUpdateIsolatesSnapshots(t *testing.T) {
	store := NewStore(stateWith("chat-1", []Message{msg("m1", "chat-1", RoleUser, "x")}, "m1"))
	snap := store.Snapshot()
	snap.Conversations["chat-1"].Selected["m1"] = false

	assert.True(t, store.Snapshot().Selection("chat-1")["m1"])

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ClearAIError(store)
			ToggleMessageSelection(store, "chat-1", "m1")
		}()
	}
	wg.Wait()
	assert.True(t, store.Snapshot().Selection("chat-1")["m1"])
}
