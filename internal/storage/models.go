package storage

const (
	ActionChatCreated = "chat.created"
	ActionChatRewound = "chat.rewound"
)

type AuditEntry struct {
	ChatID   string
	UserID   string
	Action   string
	MetaJSON string
}
