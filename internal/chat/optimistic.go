package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	tempMessagePrefix = "temp-user-"
	tempChatPrefix    = "temp-chat-"
)

func newTempID(prefix string) string {
	return prefix + uuid.NewString()
}

// IsProvisionalID reports whether id was minted locally and never confirmed.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, tempMessagePrefix) || strings.HasPrefix(id, tempChatPrefix)
}

type OptimisticMessage struct {
	TempID     string
	ChatIDUsed string
	CreatedAt  time.Time
}

// AddOptimisticUserMessage files a pending user message before any network
// activity. Without an explicit or current chat id a provisional chat id is
// minted and immediately becomes the current chat.
func AddOptimisticUserMessage(store StateStore, content, explicitChatID, userID string, now time.Time) OptimisticMessage {
	out := OptimisticMessage{TempID: newTempID(tempMessagePrefix), CreatedAt: now}

	store.Update(func(s State) State {
		chatID := explicitChatID
		if chatID == "" {
			chatID = s.CurrentChatID
		}
		if chatID == "" {
			chatID = newTempID(tempChatPrefix)
			s.CurrentChatID = chatID
		}
		out.ChatIDUsed = chatID

		var uid *string
		if userID != "" {
			uid = &userID
		}
		s.appendMessage(chatID, Message{
			ID:               out.TempID,
			ChatID:           chatID,
			UserID:           uid,
			Role:             RoleUser,
			Content:          content,
			CreatedAt:        now,
			UpdatedAt:        now,
			IsActiveInThread: true,
			Status:           StatusPending,
		})
		return s
	})

	return out
}
