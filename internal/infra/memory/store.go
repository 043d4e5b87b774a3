package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"polyquiz-service/internal/domain"
	"polyquiz-service/internal/game"
)

// Store is an in-process implementation of game.Store. A per-lobby mutex is
// held for the whole of Update, which makes the optimistic-transaction
// contract trivially true: callbacks never observe concurrent writes and are
// never retried.
type Store struct {
	mu      sync.RWMutex
	lobbies map[string]*lobbyDoc
}

type lobbyDoc struct {
	mu          sync.Mutex
	lobby       domain.Lobby
	players     map[string]domain.Player
	answers     map[string]domain.Answer // keyed "{index}-{name}"
	markers     map[int]domain.ScoreMarker
	subscribers map[chan game.LobbyEvent]struct{}
}

func NewStore() *Store {
	return &Store{lobbies: make(map[string]*lobbyDoc)}
}

func (s *Store) CreateLobby(_ context.Context, lobby domain.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[lobby.ID]; ok {
		return fmt.Errorf("lobby %s already exists", lobby.ID)
	}
	s.lobbies[lobby.ID] = &lobbyDoc{
		lobby:       lobby,
		players:     make(map[string]domain.Player),
		answers:     make(map[string]domain.Answer),
		markers:     make(map[int]domain.ScoreMarker),
		subscribers: make(map[chan game.LobbyEvent]struct{}),
	}
	return nil
}

func (s *Store) Lobby(_ context.Context, lobbyID string) (domain.Lobby, error) {
	doc, err := s.doc(lobbyID)
	if err != nil {
		return domain.Lobby{}, err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.lobby, nil
}

func (s *Store) DeleteLobby(_ context.Context, lobbyID string) error {
	s.mu.Lock()
	doc, ok := s.lobbies[lobbyID]
	if ok {
		delete(s.lobbies, lobbyID)
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrLobbyNotFound
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()
	for ch := range doc.subscribers {
		sendEvent(ch, game.LobbyEvent{Closed: true})
		close(ch)
	}
	doc.subscribers = make(map[chan game.LobbyEvent]struct{})
	return nil
}

func (s *Store) Players(_ context.Context, lobbyID string) ([]domain.Player, error) {
	doc, err := s.doc(lobbyID)
	if err != nil {
		return nil, err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.playersLocked(), nil
}

func (s *Store) DeletePlayer(_ context.Context, lobbyID, name string) error {
	doc, err := s.doc(lobbyID)
	if err != nil {
		return err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	delete(doc.players, name)
	doc.broadcastLocked()
	return nil
}

func (s *Store) Answers(_ context.Context, lobbyID string) ([]domain.Answer, error) {
	doc, err := s.doc(lobbyID)
	if err != nil {
		return nil, err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	answers := make([]domain.Answer, 0, len(doc.answers))
	for _, a := range doc.answers {
		answers = append(answers, a)
	}
	return answers, nil
}

func (s *Store) Update(_ context.Context, lobbyID string, fn func(game.Tx) error) error {
	doc, err := s.doc(lobbyID)
	if err != nil {
		return err
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()

	tx := &memTx{doc: doc}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commitLocked()
	if tx.dirty {
		doc.broadcastLocked()
	}
	return nil
}

func (s *Store) Watch(_ context.Context, lobbyID string) (<-chan game.LobbyEvent, func(), error) {
	doc, err := s.doc(lobbyID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan game.LobbyEvent, 8)

	doc.mu.Lock()
	doc.subscribers[ch] = struct{}{}
	initial := doc.snapshotLocked()
	doc.mu.Unlock()

	ch <- initial

	cancel := func() {
		doc.mu.Lock()
		if _, ok := doc.subscribers[ch]; ok {
			delete(doc.subscribers, ch)
			close(ch)
		}
		doc.mu.Unlock()
	}
	return ch, cancel, nil
}

func (s *Store) doc(lobbyID string) (*lobbyDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.lobbies[lobbyID]
	if !ok {
		return nil, domain.ErrLobbyNotFound
	}
	return doc, nil
}

func (d *lobbyDoc) playersLocked() []domain.Player {
	players := make([]domain.Player, 0, len(d.players))
	for _, p := range d.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].Name < players[j].Name
	})
	return players
}

func (d *lobbyDoc) snapshotLocked() game.LobbyEvent {
	return game.LobbyEvent{Lobby: d.lobby, Players: d.playersLocked()}
}

func (d *lobbyDoc) broadcastLocked() {
	event := d.snapshotLocked()
	for ch := range d.subscribers {
		sendEvent(ch, event)
	}
}

// sendEvent drops the oldest queued snapshot rather than letting a slow
// subscriber block the writer; only the latest state matters.
func sendEvent(ch chan game.LobbyEvent, event game.LobbyEvent) {
	select {
	case ch <- event:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- event
	}
}

// memTx buffers writes until the callback succeeds.
type memTx struct {
	doc   *lobbyDoc
	dirty bool

	lobby   *domain.Lobby
	players []domain.Player
	answers []domain.Answer
	markers []domain.ScoreMarker
}

func (t *memTx) Lobby() (domain.Lobby, error) {
	return t.doc.lobby, nil
}

func (t *memTx) Players() ([]domain.Player, error) {
	return t.doc.playersLocked(), nil
}

func (t *memTx) Answers(questionIndex int) ([]domain.Answer, error) {
	var answers []domain.Answer
	for _, a := range t.doc.answers {
		if a.QuestionIndex == questionIndex {
			answers = append(answers, a)
		}
	}
	return answers, nil
}

func (t *memTx) Marker(questionIndex int) (*domain.ScoreMarker, error) {
	if m, ok := t.doc.markers[questionIndex]; ok {
		return &m, nil
	}
	return nil, nil
}

func (t *memTx) PutLobby(lobby domain.Lobby) {
	t.lobby = &lobby
	t.dirty = true
}

func (t *memTx) PutPlayer(p domain.Player) {
	t.players = append(t.players, p)
	t.dirty = true
}

func (t *memTx) PutAnswer(a domain.Answer) {
	t.answers = append(t.answers, a)
	t.dirty = true
}

func (t *memTx) PutMarker(m domain.ScoreMarker) {
	t.markers = append(t.markers, m)
	t.dirty = true
}

func (t *memTx) commitLocked() {
	if t.lobby != nil {
		t.doc.lobby = *t.lobby
	}
	for _, p := range t.players {
		t.doc.players[p.Name] = p
	}
	for _, a := range t.answers {
		t.doc.answers[answerKey(a.QuestionIndex, a.PlayerName)] = a
	}
	for _, m := range t.markers {
		t.doc.markers[m.QuestionIndex] = m
	}
}

func answerKey(questionIndex int, name string) string {
	return fmt.Sprintf("%d-%s", questionIndex, name)
}
