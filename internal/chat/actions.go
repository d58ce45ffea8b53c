package chat

// StartNewChat clears the current conversation so the next send creates one.
// An empty orgID starts a personal chat.
func StartNewChat(store StateStore, orgID string) {
	store.Update(func(s State) State {
		s.CurrentChatID = ""
		s.NewChatContext = orDefault(orgID, PersonalContext)
		s.RewindTargetMessageID = ""
		s.AIError = ""
		return s
	})
}

// SelectChat makes chatID current without touching its messages.
func SelectChat(store StateStore, chatID string) {
	store.Update(func(s State) State {
		s.CurrentChatID = chatID
		s.RewindTargetMessageID = ""
		s.AIError = ""
		return s
	})
}

// PrepareRewind marks messageID in the current chat as the point the next send
// regenerates from. It reports false when the message is not in that chat.
func PrepareRewind(store StateStore, messageID string) bool {
	ok := false
	store.Update(func(s State) State {
		if !s.Conversations[s.CurrentChatID].has(messageID) {
			return s
		}
		ok = true
		s.RewindTargetMessageID = messageID
		return s
	})
	return ok
}

func CancelRewind(store StateStore) {
	store.Update(func(s State) State {
		s.RewindTargetMessageID = ""
		return s
	})
}

// ToggleMessageSelection flips whether a message is included in future context.
func ToggleMessageSelection(store StateStore, chatID, messageID string) bool {
	selected := false
	store.Update(func(s State) State {
		conv, ok := s.Conversations[chatID]
		if !ok || !conv.has(messageID) {
			return s
		}
		if conv.Selected == nil {
			conv.Selected = map[string]bool{}
		}
		selected = !conv.Selected[messageID]
		conv.Selected[messageID] = selected
		s.Conversations[chatID] = conv
		return s
	})
	return selected
}

func SelectAll(store StateStore, chatID string) {
	store.Update(func(s State) State {
		conv, ok := s.Conversations[chatID]
		if !ok {
			return s
		}
		conv.Selected = make(map[string]bool, len(conv.Messages))
		for _, m := range conv.Messages {
			conv.Selected[m.ID] = true
		}
		s.Conversations[chatID] = conv
		return s
	})
}

func ClearAIError(store StateStore) {
	store.Update(func(s State) State {
		s.AIError = ""
		return s
	})
}

// LoadConversation replaces a conversation with persisted history, every
// message selected, and registers its chat record when one is given.
func LoadConversation(store StateStore, c *Chat, chatID string, messages []Message) {
	store.Update(func(s State) State {
		conv := Conversation{ID: chatID, Selected: make(map[string]bool, len(messages))}
		for _, m := range messages {
			m.Status = StatusSent
			conv.Messages = append(conv.Messages, m)
			conv.Selected[m.ID] = true
		}
		if s.Conversations == nil {
			s.Conversations = map[string]Conversation{}
		}
		s.Conversations[chatID] = conv
		if c != nil && !s.Chats.Contains(c.ID) {
			if c.OrganizationID != nil && *c.OrganizationID != "" {
				if s.Chats.Orgs == nil {
					s.Chats.Orgs = map[string][]Chat{}
				}
				s.Chats.Orgs[*c.OrganizationID] = append(s.Chats.Orgs[*c.OrganizationID], *c)
			} else {
				s.Chats.Personal = append(s.Chats.Personal, *c)
			}
		}
		return s
	})
}
