package session

import (
	"sync"

	"github.com/rs/zerolog"

	"chatflow/internal/chat"
)

// Holder is the daemon's view of who is signed in and which wallet is active.
// It satisfies chat.AuthSource and chat.WalletSource.
type Holder struct {
	mu            sync.RWMutex
	user          *chat.User
	session       *chat.Session
	wallet        chat.WalletInfo
	loginRequired bool
	onLogin       func()
	logger        zerolog.Logger
}

var (
	_ chat.AuthSource   = (*Holder)(nil)
	_ chat.WalletSource = (*Holder)(nil)
)

// NewHolder starts with a loading wallet until SetWallet is called.
func NewHolder(logger zerolog.Logger, onLogin func()) *Holder {
	return &Holder{
		wallet:  chat.WalletInfo{Status: chat.WalletLoading},
		onLogin: onLogin,
		logger:  logger,
	}
}

func (h *Holder) CurrentUser() *chat.User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.user == nil {
		return nil
	}
	u := *h.user
	return &u
}

func (h *Holder) Session() *chat.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session == nil {
		return nil
	}
	s := *h.session
	return &s
}

func (h *Holder) ActiveWalletInfo() chat.WalletInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.wallet
}

func (h *Holder) RequestLoginNavigation() {
	h.mu.Lock()
	h.loginRequired = true
	cb := h.onLogin
	h.mu.Unlock()
	h.logger.Info().Msg("login required")
	if cb != nil {
		cb()
	}
}

// LoginRequired reports whether a send asked for login since the last SignIn.
func (h *Holder) LoginRequired() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loginRequired
}

// SignIn replaces the user and session. An empty access token signs out.
func (h *Holder) SignIn(user chat.User, accessToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if accessToken == "" {
		h.session = nil
	} else {
		h.session = &chat.Session{AccessToken: accessToken}
	}
	if user.ID == "" {
		h.user = nil
	} else {
		h.user = &user
	}
	h.loginRequired = h.session == nil
}

func (h *Holder) SetWallet(w chat.WalletInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wallet = w
}
