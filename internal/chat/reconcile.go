package chat

import (
	"errors"
	"slices"
	"time"
)

const (
	ChatIDMissingMessage = "Internal error: Chat ID missing."
	SendFailedMessage    = "Failed to send message."

	titleMaxRunes = 50
)

// ErrChatIDMissing means the backend confirmed a send without telling us which
// conversation it belongs to. It is a contract violation, not a retryable failure.
var ErrChatIDMissing = errors.New("confirmed chat id missing from response")

// Outcome is the normalized result of one remote send.
type Outcome struct {
	OK           bool
	Assistant    Message
	User         *Message
	ChatID       string
	WasRewind    bool
	ErrorMessage string
	ErrorCode    string
	AuthRequired bool
}

type ReconcileInput struct {
	Outcome           Outcome
	TempMessageID     string
	ProvisionalChatID string
	// RequestChatID is the conversation the request targeted; "" for a new one.
	RequestChatID  string
	OrganizationID string
	RewindTargetID string
	UserID         string
	Now            time.Time
}

type ReconcileResult struct {
	ChatID    string
	User      *Message
	Assistant Message
	Rewound   bool
	Created   *Chat
}

// Reconcile folds a successful outcome into s, replacing provisional identities
// with confirmed ones. s must be a private copy; it is modified and returned.
func Reconcile(s State, in ReconcileInput) (State, ReconcileResult, error) {
	out := in.Outcome
	isRewind := out.WasRewind || (in.RequestChatID != "" && in.RewindTargetID != "")

	chatID := out.ChatID
	if chatID == "" {
		chatID = out.Assistant.ChatID
	}
	if chatID == "" {
		return s, ReconcileResult{}, ErrChatIDMissing
	}

	provisional := slices.Clone(s.Messages(in.ProvisionalChatID))
	var user *Message
	if idx := slices.IndexFunc(provisional, func(m Message) bool { return m.ID == in.TempMessageID }); idx >= 0 {
		if out.User != nil {
			u := *out.User
			u.ChatID = chatID
			u.Status = StatusSent
			provisional[idx] = u
		} else {
			provisional[idx].ChatID = chatID
			provisional[idx].Status = StatusSent
		}
		u := provisional[idx]
		user = &u
	} else if out.User != nil {
		u := *out.User
		u.ChatID = chatID
		u.Status = StatusSent
		provisional = append(provisional, u)
		user = &u
	}

	// Confirmed messages are filed under chatID whatever the server stamped on them.
	assistant := out.Assistant
	assistant.ChatID = chatID
	assistant.Status = StatusSent

	var list []Message
	if isRewind {
		existing := s.Messages(chatID)
		var base []Message
		if idx := slices.IndexFunc(existing, func(m Message) bool { return m.ID == in.RewindTargetID }); idx >= 0 && in.RewindTargetID != "" {
			base = slices.Clone(existing[:idx])
		} else {
			base = slices.DeleteFunc(slices.Clone(existing), func(m Message) bool {
				return m.ID == in.TempMessageID || (user != nil && m.ID == user.ID) || m.ID == assistant.ID
			})
		}
		list = base
		if user != nil {
			list = append(list, *user)
		}
		list = append(list, assistant)
	} else {
		list = provisional
		if !slices.ContainsFunc(list, func(m Message) bool { return m.ID == assistant.ID }) {
			list = append(list, assistant)
		}
	}

	var selected map[string]bool
	if isRewind {
		selected = make(map[string]bool, len(list))
		for _, m := range list {
			selected[m.ID] = true
		}
	} else {
		prior := s.Selection(chatID)
		selected = make(map[string]bool, len(prior)+2)
		for k, v := range prior {
			selected[k] = v
		}
		if user != nil {
			selected[user.ID] = true
		}
		selected[assistant.ID] = true
	}

	isNewChat := in.ProvisionalChatID != chatID
	if isNewChat {
		delete(s.Conversations, in.ProvisionalChatID)
	}
	if s.Conversations == nil {
		s.Conversations = map[string]Conversation{}
	}
	s.Conversations[chatID] = Conversation{ID: chatID, Messages: list, Selected: selected}

	res := ReconcileResult{ChatID: chatID, User: user, Assistant: assistant, Rewound: isRewind}
	if isNewChat && !s.Chats.Contains(chatID) {
		content := ""
		if user != nil {
			content = user.Content
		}
		created := Chat{
			ID:        chatID,
			Title:     chatTitle(content),
			UserID:    in.UserID,
			CreatedAt: in.Now,
			UpdatedAt: in.Now,
		}
		if in.OrganizationID != "" {
			org := in.OrganizationID
			created.OrganizationID = &org
			if s.Chats.Orgs == nil {
				s.Chats.Orgs = map[string][]Chat{}
			}
			s.Chats.Orgs[org] = append(s.Chats.Orgs[org], created)
		} else {
			s.Chats.Personal = append(s.Chats.Personal, created)
		}
		res.Created = &created
	}

	s.CurrentChatID = chatID
	s.IsLoadingAIResponse = false
	s.AIError = ""
	if isRewind {
		s.RewindTargetMessageID = ""
	}
	if isNewChat {
		s.NewChatContext = ""
	}
	return s, res, nil
}

// CleanupFailedSend removes the in-flight message wherever it is filed and
// surfaces errMsg. A provisional conversation left empty is dropped, and a
// provisional current chat id is released so a retry starts a fresh chat.
func CleanupFailedSend(s State, tempMessageID, errMsg string) State {
	for id, conv := range s.Conversations {
		idx := conv.indexOf(tempMessageID)
		if idx < 0 {
			continue
		}
		conv.Messages = slices.Delete(slices.Clone(conv.Messages), idx, idx+1)
		delete(conv.Selected, tempMessageID)
		if len(conv.Messages) == 0 && IsProvisionalID(id) {
			delete(s.Conversations, id)
			continue
		}
		s.Conversations[id] = conv
	}
	if IsProvisionalID(s.CurrentChatID) {
		s.CurrentChatID = ""
	}
	s.AIError = errMsg
	s.IsLoadingAIResponse = false
	return s
}

func chatTitle(content string) string {
	r := []rune(content)
	if len(r) <= titleMaxRunes {
		return content
	}
	return string(r[:titleMaxRunes]) + "..."
}
