package game

import (
	"context"

	"polyquiz-service/internal/domain"
)

// Rules holds the scoring constants.
type Rules struct {
	BasePoints      int
	StreakBonus     int
	StreakThreshold int
}

// DefaultRules matches the classic game: 10 points per correct answer, +5
// once a streak reaches 3.
func DefaultRules() Rules {
	return Rules{BasePoints: 10, StreakBonus: 5, StreakThreshold: 3}
}

// ApplyScores folds the answer ledger for one question into player scores.
// It may be called any number of times, by any number of concurrent callers;
// the score marker read-check-write inside the transaction guarantees the
// effect of exactly one application. Players without an answer for the index
// are left untouched (no streak reset).
func (s *Service) ApplyScores(ctx context.Context, lobbyID string, questionIndex int) error {
	return s.store.Update(ctx, lobbyID, func(tx Tx) error {
		marker, err := tx.Marker(questionIndex)
		if err != nil {
			return err
		}
		if marker != nil {
			return nil // already applied (or question nullified)
		}

		answers, err := tx.Answers(questionIndex)
		if err != nil {
			return err
		}
		players, err := tx.Players()
		if err != nil {
			return err
		}
		byName := make(map[string]domain.Player, len(players))
		for _, p := range players {
			byName[p.Name] = p
		}

		for _, answer := range answers {
			player, ok := byName[answer.PlayerName]
			if !ok {
				continue // left the lobby; their answer stays in the ledger
			}
			tx.PutPlayer(s.rules.score(player, answer.IsCorrect))
		}

		tx.PutMarker(domain.ScoreMarker{
			QuestionIndex: questionIndex,
			AppliedAt:     s.now(),
		})
		return nil
	})
}

// score returns the player with one answer's outcome applied.
func (r Rules) score(p domain.Player, correct bool) domain.Player {
	if correct {
		p.Streak++
		p.NegativeStreak = 0
		points := r.BasePoints
		if p.Streak >= r.StreakThreshold {
			points += r.StreakBonus
		}
		p.Score += points
	} else {
		p.Streak = 0
		p.NegativeStreak++
		if p.NegativeStreak > p.MaxNegativeStreak {
			p.MaxNegativeStreak = p.NegativeStreak
		}
	}
	return p
}
