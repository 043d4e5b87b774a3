package game_test

import (
	"context"
	"testing"
	"time"

	"polyquiz-service/internal/domain"
	"polyquiz-service/internal/game"
	"polyquiz-service/internal/infra/memory"
)

// With two players and only one answer in, the countdown is what closes the
// question.
func TestTimerExpiryRevealsQuestion(t *testing.T) {
	ctx := context.Background()
	service := game.NewService(
		memory.NewStore(),
		staticSource{questions: twoQuestions()},
		game.WithTick(2*time.Millisecond),
	)
	lobby, err := service.CreateLobby(ctx, game.CreateParams{
		Topic:        "general",
		Questions:    2,
		TimerSeconds: 3,
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
	if _, err := service.SubmitAnswer(ctx, lobby.ID, "Alice", 0, "Paris"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitForPhase(t, service, lobby.ID, domain.PhaseReveal)

	// Bob never answered and now cannot.
	if _, err := service.SubmitAnswer(ctx, lobby.ID, "Bob", 0, "Paris"); err != domain.ErrAnswerClosed {
		t.Fatalf("expected closed after timer expiry, got %v", err)
	}
	if _, ok := service.Remaining(lobby.ID); ok {
		t.Fatalf("countdown still running after reveal")
	}
}

func TestClockInjection(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	service := game.NewService(
		memory.NewStore(),
		staticSource{questions: twoQuestions()},
		game.WithClock(func() time.Time { return fixed }),
	)
	lobby, err := service.CreateLobby(ctx, game.CreateParams{Topic: "general", Questions: 2, HostName: "Host"})
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	if !lobby.CreatedAt.Equal(fixed) {
		t.Fatalf("createdAt = %v, want %v", lobby.CreatedAt, fixed)
	}

	if err := service.Start(ctx, lobby.ID, "Host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	current, _ := service.Lobby(ctx, lobby.ID)
	if !current.GameState.PhaseStartedAt.Equal(fixed) {
		t.Fatalf("phaseStartedAt = %v, want %v", current.GameState.PhaseStartedAt, fixed)
	}
}

func TestDefaultTimerApplied(t *testing.T) {
	ctx := context.Background()
	service := game.NewService(
		memory.NewStore(),
		staticSource{questions: twoQuestions()},
		game.WithDefaultTimer(42),
	)
	lobby, err := service.CreateLobby(ctx, game.CreateParams{Topic: "general", Questions: 2, HostName: "Host"})
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	if lobby.TimerSeconds != 42 {
		t.Fatalf("timer = %d, want 42", lobby.TimerSeconds)
	}
}
