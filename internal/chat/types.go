package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus is client-side only; the backend never sends it.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusError   MessageStatus = "error"
)

type TokenUsage struct {
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

type Message struct {
	ID                  string        `json:"id"`
	ChatID              string        `json:"chat_id"`
	UserID              *string       `json:"user_id"`
	Role                Role          `json:"role"`
	Content             string        `json:"content"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	ProviderID          *string       `json:"ai_provider_id"`
	TokenUsage          *TokenUsage   `json:"token_usage"`
	ResponseToMessageID *string       `json:"response_to_message_id"`
	IsActiveInThread    bool          `json:"is_active_in_thread"`
	Status              MessageStatus `json:"status,omitempty"`
}

type Chat struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	UserID         string    `json:"user_id"`
	OrganizationID *string   `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	SystemPromptID *string   `json:"system_prompt_id"`
}

// ModelConfig is the subset of a provider's model configuration the send path needs.
type ModelConfig struct {
	APIIdentifier          string  `json:"api_identifier"`
	ContextWindowTokens    int     `json:"context_window_tokens"`
	HardCapOutputTokens    int     `json:"hard_cap_output_tokens,omitempty"`
	InputTokenCostRate     float64 `json:"input_token_cost_rate"`
	OutputTokenCostRate    float64 `json:"output_token_cost_rate"`
	TokenizationEncoding   string  `json:"tokenization_encoding,omitempty"`
	DeficitToleranceTokens int     `json:"deficit_tolerance_tokens,omitempty"`
}

type Provider struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Config *ModelConfig `json:"config"`
}

type WalletStatus string

const (
	WalletOK                         WalletStatus = "ok"
	WalletLoading                    WalletStatus = "loading"
	WalletError                      WalletStatus = "error"
	WalletConsentRequired            WalletStatus = "consent_required"
	WalletConsentRefused             WalletStatus = "consent_refused"
	WalletPolicyOrgWalletUnavailable WalletStatus = "policy_org_wallet_unavailable"
)

type WalletType string

const (
	WalletPersonal     WalletType = "personal"
	WalletOrganization WalletType = "organization"
)

type WalletInfo struct {
	Status         WalletStatus `json:"status"`
	Type           WalletType   `json:"type"`
	Balance        float64      `json:"balance"`
	OrganizationID string       `json:"organization_id,omitempty"`
	Message        string       `json:"message,omitempty"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type Session struct {
	AccessToken string `json:"access_token"`
}

// ContextMessage is the {role, content} projection sent as conversational grounding.
type ContextMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NonePromptID is the sentinel the backend accepts when no system prompt is selected.
const NonePromptID = "__none__"

type ChatAPIRequest struct {
	Message             string           `json:"message"`
	ProviderID          string           `json:"providerId"`
	PromptID            string           `json:"promptId"`
	ChatID              string           `json:"chatId,omitempty"`
	OrganizationID      string           `json:"organizationId,omitempty"`
	RewindFromMessageID string           `json:"rewindFromMessageId,omitempty"`
	ContextMessages     []ContextMessage `json:"contextMessages"`
	MaxTokensToGenerate int              `json:"max_tokens_to_generate,omitempty"`
}

type ChatAPISuccess struct {
	UserMessage      *Message `json:"userMessage,omitempty"`
	AssistantMessage Message  `json:"assistantMessage"`
	ChatID           string   `json:"chatId"`
	IsRewind         bool     `json:"isRewind,omitempty"`
}

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ChatAPIResponse is what a Transport returns for a completed HTTP exchange.
// Exactly one of Data and Error is set.
type ChatAPIResponse struct {
	Status int
	Data   *ChatAPISuccess
	Error  *APIError
}
