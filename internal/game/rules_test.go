package game

import (
	"testing"

	"polyquiz-service/internal/domain"
)

func TestScoreStreakProgression(t *testing.T) {
	rules := DefaultRules()

	// correct, correct, correct, wrong, correct
	outcomes := []bool{true, true, true, false, true}
	wantDeltas := []int{10, 10, 15, 0, 10}
	wantStreaks := []int{1, 2, 3, 0, 1}

	p := domain.Player{Name: "A"}
	for i, correct := range outcomes {
		before := p.Score
		p = rules.score(p, correct)
		if got := p.Score - before; got != wantDeltas[i] {
			t.Fatalf("answer %d: delta = %d, want %d", i, got, wantDeltas[i])
		}
		if p.Streak != wantStreaks[i] {
			t.Fatalf("answer %d: streak = %d, want %d", i, p.Streak, wantStreaks[i])
		}
	}
	if p.Score != 45 {
		t.Fatalf("final score = %d, want 45", p.Score)
	}
	if p.MaxNegativeStreak != 1 {
		t.Fatalf("maxNegativeStreak = %d, want 1", p.MaxNegativeStreak)
	}
}

func TestScoreLongStreakKeepsBonus(t *testing.T) {
	rules := DefaultRules()
	p := domain.Player{Name: "A"}
	for i := 0; i < 5; i++ {
		p = rules.score(p, true)
	}
	// 10 + 10 + 15 + 15 + 15
	if p.Score != 65 {
		t.Fatalf("score = %d, want 65", p.Score)
	}
	if p.Streak != 5 {
		t.Fatalf("streak = %d, want 5", p.Streak)
	}
}

func TestScoreNegativeStreakHighWaterMark(t *testing.T) {
	rules := DefaultRules()
	p := domain.Player{Name: "A"}

	p = rules.score(p, false)
	p = rules.score(p, false)
	if p.NegativeStreak != 2 || p.MaxNegativeStreak != 2 {
		t.Fatalf("after two misses: %+v", p)
	}

	p = rules.score(p, true)
	if p.NegativeStreak != 0 {
		t.Fatalf("correct answer should clear negative streak: %+v", p)
	}
	if p.MaxNegativeStreak != 2 {
		t.Fatalf("high-water mark must survive: %+v", p)
	}

	p = rules.score(p, false)
	if p.MaxNegativeStreak != 2 {
		t.Fatalf("single miss must not raise the mark: %+v", p)
	}
}
