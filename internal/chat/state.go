package chat

import "slices"

// PersonalContext marks a pending new chat as personal rather than owned by an organization.
const PersonalContext = "personal"

type PendingAction string

const (
	PendingNone        PendingAction = ""
	PendingSendMessage PendingAction = "SEND_MESSAGE"
)

// Conversation owns one chat's ordered message list and its selection set.
// Selected records which message ids go into the context of the next send.
type Conversation struct {
	ID       string          `json:"id"`
	Messages []Message       `json:"messages"`
	Selected map[string]bool `json:"selected"`
}

func (c Conversation) indexOf(messageID string) int {
	return slices.IndexFunc(c.Messages, func(m Message) bool { return m.ID == messageID })
}

func (c Conversation) has(messageID string) bool {
	return c.indexOf(messageID) >= 0
}

func (c Conversation) clone() Conversation {
	out := Conversation{ID: c.ID, Messages: slices.Clone(c.Messages)}
	if c.Selected != nil {
		out.Selected = make(map[string]bool, len(c.Selected))
		for k, v := range c.Selected {
			out.Selected[k] = v
		}
	}
	return out
}

type ChatsByContext struct {
	Personal []Chat            `json:"personal"`
	Orgs     map[string][]Chat `json:"orgs"`
}

func (c ChatsByContext) clone() ChatsByContext {
	out := ChatsByContext{Personal: slices.Clone(c.Personal)}
	if c.Orgs != nil {
		out.Orgs = make(map[string][]Chat, len(c.Orgs))
		for k, v := range c.Orgs {
			out.Orgs[k] = slices.Clone(v)
		}
	}
	return out
}

// Contains reports whether a chat with the given id is listed in any context.
func (c ChatsByContext) Contains(chatID string) bool {
	match := func(ch Chat) bool { return ch.ID == chatID }
	if slices.ContainsFunc(c.Personal, match) {
		return true
	}
	for _, list := range c.Orgs {
		if slices.ContainsFunc(list, match) {
			return true
		}
	}
	return false
}

type State struct {
	Conversations map[string]Conversation `json:"conversations"`
	Chats         ChatsByContext          `json:"chats"`

	CurrentChatID         string        `json:"current_chat_id,omitempty"`
	RewindTargetMessageID string        `json:"rewind_target_message_id,omitempty"`
	NewChatContext        string        `json:"new_chat_context,omitempty"`
	IsLoadingAIResponse   bool          `json:"is_loading_ai_response"`
	AIError               string        `json:"ai_error,omitempty"`
	PendingAction         PendingAction `json:"pending_action,omitempty"`

	SelectedProviderID string     `json:"selected_provider_id,omitempty"`
	SelectedPromptID   string     `json:"selected_prompt_id,omitempty"`
	Providers          []Provider `json:"providers,omitempty"`
}

// Clone returns a copy that shares no mutable maps or slices with s.
func (s State) Clone() State {
	out := s
	out.Conversations = make(map[string]Conversation, len(s.Conversations))
	for k, v := range s.Conversations {
		out.Conversations[k] = v.clone()
	}
	out.Chats = s.Chats.clone()
	out.Providers = slices.Clone(s.Providers)
	return out
}

// Messages returns the message list filed under chatID, or nil.
func (s State) Messages(chatID string) []Message {
	return s.Conversations[chatID].Messages
}

// Selection returns the selection set for chatID, or nil.
func (s State) Selection(chatID string) map[string]bool {
	return s.Conversations[chatID].Selected
}

func (s State) provider(id string) (Provider, bool) {
	for _, p := range s.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// appendMessage files m under chatID, creating the conversation when needed.
func (s *State) appendMessage(chatID string, m Message) {
	if s.Conversations == nil {
		s.Conversations = map[string]Conversation{}
	}
	conv := s.Conversations[chatID]
	conv.ID = chatID
	conv.Messages = append(conv.Messages, m)
	s.Conversations[chatID] = conv
}
