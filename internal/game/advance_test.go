package game_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"polyquiz-service/internal/domain"
	"polyquiz-service/internal/game"
	"polyquiz-service/internal/infra/memory"
)

// hookedStore runs a one-shot hook before delegating the next Update, to
// squeeze a concurrent write into the window between a caller deciding to
// update and the transaction running.
type hookedStore struct {
	game.Store
	mu     sync.Mutex
	before func()
}

func (h *hookedStore) Update(ctx context.Context, lobbyID string, fn func(game.Tx) error) error {
	h.mu.Lock()
	hook := h.before
	h.before = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return h.Store.Update(ctx, lobbyID, fn)
}

func (h *hookedStore) arm(hook func()) {
	h.mu.Lock()
	h.before = hook
	h.mu.Unlock()
}

// An advance must never commit past a revealed question that has not been
// scored, even when the reveal happens after the host's request is already in
// flight. Here the phase flips question to reveal just before Advance's
// transaction runs; Advance has to notice the missing marker, score question 0
// and only then move on.
func TestAdvanceScoresRevealFlippedMidRequest(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	store := &hookedStore{Store: mem}
	service := game.NewService(store, staticSource{questions: twoQuestions()})

	lobby, err := service.CreateLobby(ctx, game.CreateParams{
		Topic:        "general",
		Questions:    2,
		TimerSeconds: 60,
		HostName:     "Host",
	})
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	if _, err := service.Join(ctx, lobby.ID, "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := service.Join(ctx, lobby.ID, "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := service.Start(ctx, lobby.ID, "Host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Bob stays silent, so the question remains open after Alice's answer.
	if _, err := service.SubmitAnswer(ctx, lobby.ID, "Alice", 0, "Paris"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The countdown expires while the host's advance is on the wire.
	store.arm(func() {
		err := mem.Update(ctx, lobby.ID, func(tx game.Tx) error {
			current, err := tx.Lobby()
			if err != nil {
				return err
			}
			current.GameState.Phase = domain.PhaseReveal
			current.GameState.PhaseStartedAt = time.Now()
			tx.PutLobby(current)
			return nil
		})
		if err != nil {
			t.Errorf("flip to reveal: %v", err)
		}
	})

	if err := service.Advance(ctx, lobby.ID, "Host"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	current, err := service.Lobby(ctx, lobby.ID)
	if err != nil {
		t.Fatalf("read lobby: %v", err)
	}
	if current.GameState.CurrentQuestionIndex != 1 || current.GameState.Phase != domain.PhaseQuestion {
		t.Fatalf("expected question 1 after advance, got %+v", current.GameState)
	}

	players := playersByName(t, service, lobby.ID)
	if p := players["Alice"]; p.Score != 10 || p.Streak != 1 {
		t.Fatalf("Alice's answer for question 0 was never scored: %+v", p)
	}

	err = mem.Update(ctx, lobby.ID, func(tx game.Tx) error {
		marker, err := tx.Marker(0)
		if err != nil {
			return err
		}
		if marker == nil {
			t.Fatalf("no score marker for question 0 after advance")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("marker read: %v", err)
	}
}
