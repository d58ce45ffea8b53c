package chat

import "sync"

// StateStore is the single accessor/mutator pair the send pipeline works through.
// Update applies fn atomically: fn receives a private copy of the current state
// and whatever it returns becomes the new state.
type StateStore interface {
	Snapshot() State
	Update(fn func(State) State)
}

type Store struct {
	mu    sync.Mutex
	state State
}

var _ StateStore = (*Store)(nil)

func NewStore(initial State) *Store {
	if initial.Conversations == nil {
		initial.Conversations = map[string]Conversation{}
	}
	if initial.Chats.Orgs == nil {
		initial.Chats.Orgs = map[string][]Chat{}
	}
	return &Store{state: initial.Clone()}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Store) Update(fn func(State) State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := fn(s.state.Clone())
	if next.Conversations == nil {
		next.Conversations = map[string]Conversation{}
	}
	if next.Chats.Orgs == nil {
		next.Chats.Orgs = map[string][]Chat{}
	}
	s.state = next
}
