package chat

// AssembleContext picks the prior turns that accompany a new message.
// Explicit messages win; otherwise the selected messages of chatID are used,
// skipping the in-flight message identified by excludeID.
func AssembleContext(s State, explicit []ContextMessage, chatID, excludeID string) []ContextMessage {
	if len(explicit) > 0 {
		out := make([]ContextMessage, len(explicit))
		copy(out, explicit)
		return out
	}

	conv, ok := s.Conversations[chatID]
	if !ok || len(conv.Messages) == 0 {
		return []ContextMessage{}
	}

	out := make([]ContextMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.ID == excludeID || !conv.Selected[m.ID] {
			continue
		}
		out = append(out, ContextMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// EffectiveChatID returns the conversation a send targets, or "" for a new one.
func EffectiveChatID(s State, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.CurrentChatID
}

// EffectiveOrganizationID resolves the organization a request is sent on behalf of.
func EffectiveOrganizationID(s State, chatID string, wallet WalletInfo) string {
	if chatID == "" {
		if s.NewChatContext == PersonalContext {
			return ""
		}
		return s.NewChatContext
	}
	if wallet.Type == WalletOrganization {
		return wallet.OrganizationID
	}
	return ""
}
