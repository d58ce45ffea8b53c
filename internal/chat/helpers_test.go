package chat

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"chatflow/internal/metrics"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeTransport struct {
	mu    sync.Mutex
	calls []ChatAPIRequest
	token string
	resp  ChatAPIResponse
	err   error
	fn    func(req ChatAPIRequest) (ChatAPIResponse, error)
}

func (f *fakeTransport) SendChatMessage(_ context.Context, req ChatAPIRequest, token string) (ChatAPIResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.token = token
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return f.resp, f.err
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeWallet struct{ info WalletInfo }

func (w fakeWallet) ActiveWalletInfo() WalletInfo { return w.info }

type fakeAuth struct {
	user          *User
	session       *Session
	loginRequests int
}

func (a *fakeAuth) CurrentUser() *User { return a.user }
func (a *fakeAuth) Session() *Session { return a.session }
func (a *fakeAuth) RequestLoginNavigation() { a.loginRequests++ }

type fixedBudget struct{ max int }

func (b fixedBudget) EstimateInputTokens(messages []ContextMessage, _ ModelConfig) int {
	return len(messages) * 10
}

func (b fixedBudget) MaxOutputTokens(float64, int, ModelConfig) int { return b.max }

type memPending struct {
	saved []PendingSend
}

func (m *memPending) SavePending(_ context.Context, p PendingSend) error {
	m.saved = append(m.saved, p)
	return nil
}

func (m *memPending) TakePending(context.Context) (*PendingSend, error) {
	if len(m.saved) == 0 {
		return nil, nil
	}
	p := m.saved[len(m.saved)-1]
	m.saved = nil
	return &p, nil
}

type recordingPersister struct {
	updates []ConversationUpdate
}

func (r *recordingPersister) PersistConversation(_ context.Context, u ConversationUpdate) error {
	r.updates = append(r.updates, u)
	return nil
}

type harness struct {
	store     *Store
	transport *fakeTransport
	auth      *fakeAuth
	wallet    *fakeWallet
	pending   *memPending
	persister *recordingPersister
	sender    *Sender
}

func readyState() State {
	return State{
		SelectedProviderID: "prov-1",
		Providers: []Provider{
			{ID: "prov-1", Name: "Test", Config: &ModelConfig{APIIdentifier: "test-model", ContextWindowTokens: 8000}},
		},
	}
}

func newHarness(initial State) *harness {
	h := &harness{
		store:     NewStore(initial),
		transport: &fakeTransport{},
		auth:      &fakeAuth{user: &User{ID: "user-1"}, session: &Session{AccessToken: "tok"}},
		wallet:    &fakeWallet{info: WalletInfo{Status: WalletOK, Type: WalletPersonal, Balance: 10000}},
		pending:   &memPending{},
		persister: &recordingPersister{},
	}
	h.sender = NewSender(Config{
		Store:     h.store,
		Transport: h.transport,
		Wallet:    walletFunc(func() WalletInfo { return h.wallet.info }),
		Auth:      h.auth,
		Budget:    fixedBudget{max: 500},
		Persister: h.persister,
		Pending:   h.pending,
		Logger:    zerolog.Nop(),
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Now:       func() time.Time { return testNow },
	})
	return h
}

type walletFunc func() WalletInfo

func (f walletFunc) ActiveWalletInfo() WalletInfo { return f() }

func msg(id, chatID string, role Role, content string) Message {
	return Message{ID: id, ChatID: chatID, Role: role, Content: content, CreatedAt: testNow, UpdatedAt: testNow, Status: StatusSent}
}

func ids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func successResponse(chatID string, user *Message, assistant Message, rewind bool) ChatAPIResponse {
	return ChatAPIResponse{
		Status: 200,
		Data:   &ChatAPISuccess{UserMessage: user, AssistantMessage: assistant, ChatID: chatID, IsRewind: rewind},
	}
}

func hasProvisional(s State) bool {
	for id, conv := range s.Conversations {
		if IsProvisionalID(id) {
			return true
		}
		for _, m := range conv.Messages {
			if IsProvisionalID(m.ID) {
				return true
			}
		}
		for k := range conv.Selected {
			if IsProvisionalID(k) {
				return true
			}
		}
	}
	for _, c := range s.Chats.Personal {
		if IsProvisionalID(c.ID) {
			return true
		}
	}
	for _, list := range s.Chats.Orgs {
		for _, c := range list {
			if IsProvisionalID(c.ID) {
				return true
			}
		}
	}
	return false
}
