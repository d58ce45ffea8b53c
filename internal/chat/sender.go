package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatflow/internal/metrics"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrSendInProgress = errors.New("another send is in progress")
)

const (
	msgNoProvider          = "No AI provider selected."
	msgProviderConfig      = "AI provider configuration missing."
	msgInsufficientBalance = "Insufficient balance."
	msgRateLimited         = "Rate limit exceeded. Try again later."
)

type WalletSource interface {
	ActiveWalletInfo() WalletInfo
}

type AuthSource interface {
	CurrentUser() *User
	Session() *Session
	RequestLoginNavigation()
}

// TokenBudget turns the outgoing conversation into an output-token allowance.
// A non-positive allowance means the wallet cannot afford the send.
type TokenBudget interface {
	EstimateInputTokens(messages []ContextMessage, cfg ModelConfig) int
	MaxOutputTokens(balance float64, inputTokens int, cfg ModelConfig) int
}

type ConversationUpdate struct {
	ChatID   string
	Messages []Message
	Created  *Chat
	Rewound  bool
}

type Persister interface {
	PersistConversation(ctx context.Context, u ConversationUpdate) error
}

// PendingSend describes a send interrupted by a login requirement, so it can be
// replayed once a session exists again.
type PendingSend struct {
	Message             string           `json:"message"`
	ChatID              string           `json:"chat_id,omitempty"`
	ProviderID          string           `json:"provider_id,omitempty"`
	PromptID            string           `json:"prompt_id,omitempty"`
	ContextMessages     []ContextMessage `json:"context_messages,omitempty"`
	RewindFromMessageID string           `json:"rewind_from_message_id,omitempty"`
	ReturnPath          string           `json:"return_path"`
	CreatedAt           time.Time        `json:"created_at"`
}

type PendingStore interface {
	SavePending(ctx context.Context, p PendingSend) error
	TakePending(ctx context.Context) (*PendingSend, error)
}

type Limiter interface {
	AllowSend(ctx context.Context, userID string, now time.Time) (bool, error)
}

type Config struct {
	Store     StateStore
	Transport Transport
	Wallet    WalletSource
	Auth      AuthSource
	Budget    TokenBudget
	Persister Persister
	Pending   PendingStore
	Limiter   Limiter
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Sender struct {
	store     StateStore
	adapter   *Adapter
	wallet    WalletSource
	auth      AuthSource
	budget    TokenBudget
	persister Persister
	pending   PendingStore
	limiter   Limiter
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewSender(cfg Config) *Sender {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Sender{
		store:     cfg.Store,
		adapter:   NewAdapter(cfg.Transport, cfg.Logger),
		wallet:    cfg.Wallet,
		auth:      cfg.Auth,
		budget:    cfg.Budget,
		persister: cfg.Persister,
		pending:   cfg.Pending,
		limiter:   cfg.Limiter,
		logger:    cfg.Logger,
		metrics:   m,
		now:       cfg.Now,
	}
}

type SendRequest struct {
	Message         string
	ChatID          string
	ContextMessages []ContextMessage
}

// progress reports how far a send got before it returned.
type progress int

const (
	refused progress = iota // stopped before the optimistic insert
	parked                  // saved for replay after login
	dispatched
)

// SendMessage runs one send through gating, optimistic insert, the remote call
// and reconciliation. It returns the confirmed assistant message, or nil when the
// send was blocked or failed; the reason is then in the store's AIError.
// Only one send may be in flight per store.
func (s *Sender) SendMessage(ctx context.Context, req SendRequest) (*Message, error) {
	msg, _, err := s.send(ctx, req)
	return msg, err
}

func (s *Sender) send(ctx context.Context, req SendRequest) (*Message, progress, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, refused, ErrEmptyMessage
	}

	acquired := false
	var start State
	s.store.Update(func(st State) State {
		if st.IsLoadingAIResponse {
			return st
		}
		acquired = true
		st.IsLoadingAIResponse = true
		st.AIError = ""
		start = st
		return st
	})
	if !acquired {
		return nil, refused, ErrSendInProgress
	}

	wallet := s.wallet.ActiveWalletInfo()
	user := s.auth.CurrentUser()
	token := ""
	if sess := s.auth.Session(); sess != nil {
		token = sess.AccessToken
	}
	userID := ""
	if user != nil {
		userID = user.ID
	}

	pending := PendingSend{
		Message:         req.Message,
		ChatID:          req.ChatID,
		ProviderID:      start.SelectedProviderID,
		PromptID:        start.SelectedPromptID,
		ContextMessages: req.ContextMessages,
		ReturnPath:      "chat",
	}

	decision := EvaluateGate(wallet, user != nil, token != "")
	switch decision.Outcome {
	case GateBlock:
		s.block("wallet", decision.Message)
		return nil, refused, nil
	case GateLoginRequired:
		s.requireLogin(ctx, "gate", decision.Message, pending)
		return nil, parked, nil
	}

	if s.limiter != nil && userID != "" {
		allowed, err := s.limiter.AllowSend(ctx, userID, s.now())
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("send limiter unavailable, allowing send")
		} else if !allowed {
			s.block("rate_limited", msgRateLimited)
			return nil, refused, nil
		}
	}

	if start.SelectedProviderID == "" {
		s.block("no_provider", msgNoProvider)
		return nil, refused, nil
	}

	requestChatID := EffectiveChatID(start, req.ChatID)
	orgID := EffectiveOrganizationID(start, requestChatID, wallet)
	rewindTarget := start.RewindTargetMessageID
	if requestChatID == "" {
		rewindTarget = ""
	}
	pending.RewindFromMessageID = rewindTarget

	s.metrics.SendsStarted.Inc()
	opt := AddOptimisticUserMessage(s.store, req.Message, req.ChatID, userID, s.now())
	log := s.logger.With().Str("temp_id", opt.TempID).Str("chat_id", opt.ChatIDUsed).Logger()
	log.Debug().Bool("new_chat", requestChatID == "").Bool("rewind", rewindTarget != "").Msg("optimistic message added")

	contextMessages := AssembleContext(s.store.Snapshot(), req.ContextMessages, opt.ChatIDUsed, opt.TempID)

	provider, ok := start.provider(start.SelectedProviderID)
	if !ok || provider.Config == nil {
		s.fail(opt, "provider_config", msgProviderConfig)
		return nil, dispatched, nil
	}

	maxTokens := 0
	if s.budget != nil {
		outgoing := append(append([]ContextMessage{}, contextMessages...), ContextMessage{Role: RoleUser, Content: req.Message})
		input := s.budget.EstimateInputTokens(outgoing, *provider.Config)
		maxTokens = s.budget.MaxOutputTokens(wallet.Balance, input, *provider.Config)
		if maxTokens <= 0 {
			log.Info().Int("input_tokens", input).Float64("balance", wallet.Balance).Msg("send not affordable")
			s.fail(opt, "insufficient_balance", msgInsufficientBalance)
			return nil, dispatched, nil
		}
	}

	apiReq := ChatAPIRequest{
		Message:             req.Message,
		ProviderID:          start.SelectedProviderID,
		PromptID:            orDefault(start.SelectedPromptID, NonePromptID),
		ChatID:              requestChatID,
		OrganizationID:      orgID,
		RewindFromMessageID: rewindTarget,
		ContextMessages:     contextMessages,
		MaxTokensToGenerate: maxTokens,
	}

	began := time.Now()
	outcome := s.adapter.Send(ctx, apiReq, token)
	s.metrics.SendDuration.Observe(time.Since(began).Seconds())

	if !outcome.OK {
		log.Warn().Str("code", outcome.ErrorCode).Bool("auth_required", outcome.AuthRequired).Msg("remote send failed")
		if outcome.AuthRequired {
			s.fail(opt, "auth_required", orDefault(outcome.ErrorMessage, msgAuthRequired))
			s.requireLogin(ctx, "remote", "", pending)
			return nil, parked, nil
		}
		s.fail(opt, "remote", orDefault(outcome.ErrorMessage, SendFailedMessage))
		return nil, dispatched, nil
	}

	var (
		result ReconcileResult
		recErr error
	)
	s.store.Update(func(st State) State {
		next, res, err := Reconcile(st, ReconcileInput{
			Outcome:           outcome,
			TempMessageID:     opt.TempID,
			ProvisionalChatID: opt.ChatIDUsed,
			RequestChatID:     requestChatID,
			OrganizationID:    orgID,
			RewindTargetID:    rewindTarget,
			UserID:            userID,
			Now:               s.now(),
		})
		if err != nil {
			recErr = err
			return CleanupFailedSend(st, opt.TempID, ChatIDMissingMessage)
		}
		result = res
		return next
	})
	if recErr != nil {
		log.Error().Err(recErr).Msg("reconciliation aborted")
		s.metrics.SendsFailed.WithLabelValues("internal").Inc()
		return nil, dispatched, recErr
	}

	s.metrics.SendsSucceeded.Inc()
	if result.Created != nil {
		s.metrics.ConversationsCreated.Inc()
	}
	if result.Rewound {
		s.metrics.Rewinds.Inc()
	}
	log.Info().
		Str("confirmed_chat_id", result.ChatID).
		Bool("created", result.Created != nil).
		Bool("rewound", result.Rewound).
		Msg("send reconciled")

	s.persist(ctx, result)

	assistant := result.Assistant
	return &assistant, dispatched, nil
}

// ResumePending replays a send that was interrupted by a login requirement.
// It returns nil, nil when nothing is pending. A replay refused before it
// reaches the optimistic insert is saved again for a later attempt.
func (s *Sender) ResumePending(ctx context.Context) (*Message, error) {
	if s.pending == nil {
		return nil, nil
	}
	p, err := s.pending.TakePending(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	s.store.Update(func(st State) State {
		st.PendingAction = PendingNone
		if st.AIError == msgAuthRequired {
			st.AIError = ""
		}
		if p.ProviderID != "" && st.SelectedProviderID == "" {
			st.SelectedProviderID = p.ProviderID
		}
		if p.PromptID != "" && st.SelectedPromptID == "" {
			st.SelectedPromptID = p.PromptID
		}
		if p.RewindFromMessageID != "" && st.RewindTargetMessageID == "" {
			st.RewindTargetMessageID = p.RewindFromMessageID
		}
		return st
	})
	s.logger.Info().Str("chat_id", p.ChatID).Msg("resuming pending send")
	msg, prog, err := s.send(ctx, SendRequest{
		Message:         p.Message,
		ChatID:          p.ChatID,
		ContextMessages: p.ContextMessages,
	})
	if prog == refused {
		s.repark(ctx, *p)
	}
	return msg, err
}

func (s *Sender) repark(ctx context.Context, p PendingSend) {
	if err := s.pending.SavePending(ctx, p); err != nil {
		s.logger.Error().Err(err).Msg("failed to save pending send")
		return
	}
	s.store.Update(func(st State) State {
		st.PendingAction = PendingSendMessage
		return st
	})
	s.logger.Info().Str("chat_id", p.ChatID).Msg("pending send kept for a later attempt")
}

func (s *Sender) block(reason, msg string) {
	s.metrics.SendsBlocked.WithLabelValues(reason).Inc()
	s.logger.Info().Str("reason", reason).Msg("send blocked")
	s.store.Update(func(st State) State {
		st.AIError = msg
		st.IsLoadingAIResponse = false
		return st
	})
}

func (s *Sender) fail(opt OptimisticMessage, reason, msg string) {
	s.metrics.SendsFailed.WithLabelValues(reason).Inc()
	s.store.Update(func(st State) State {
		return CleanupFailedSend(st, opt.TempID, msg)
	})
}

// requireLogin records the pending send and asks for login navigation exactly
// once. An empty msg keeps whatever error is already surfaced.
func (s *Sender) requireLogin(ctx context.Context, stage, msg string, p PendingSend) {
	if stage == "gate" {
		s.metrics.SendsBlocked.WithLabelValues("auth_required").Inc()
	}
	s.store.Update(func(st State) State {
		if msg != "" {
			st.AIError = msg
		}
		st.PendingAction = PendingSendMessage
		st.IsLoadingAIResponse = false
		return st
	})
	if s.pending != nil {
		p.CreatedAt = s.now()
		if err := s.pending.SavePending(ctx, p); err != nil {
			s.logger.Error().Err(err).Msg("failed to save pending send")
		}
	}
	s.logger.Info().Str("stage", stage).Msg("login required for send")
	s.auth.RequestLoginNavigation()
}

func (s *Sender) persist(ctx context.Context, res ReconcileResult) {
	if s.persister == nil {
		return
	}
	snap := s.store.Snapshot()
	err := s.persister.PersistConversation(ctx, ConversationUpdate{
		ChatID:   res.ChatID,
		Messages: snap.Messages(res.ChatID),
		Created:  res.Created,
		Rewound:  res.Rewound,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", res.ChatID).Msg("failed to persist conversation")
	}
}
