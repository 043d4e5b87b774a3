package game

import (
	"sort"

	"polyquiz-service/internal/domain"
)

// buildResults reduces players plus the answer ledger into final standings.
// correctCount and maxStreak are recomputed from the ledger rather than read
// from live player state, so any drift in the live streak field cannot leak
// into the final display. Ranking is by score descending, ties kept in join
// order.
func buildResults(lobby domain.Lobby, players []domain.Player, answers []domain.Answer) domain.Results {
	n := len(lobby.Quiz)

	byPlayer := make(map[string][]domain.Answer)
	for _, a := range answers {
		byPlayer[a.PlayerName] = append(byPlayer[a.PlayerName], a)
	}

	standings := make([]domain.Standing, 0, len(players))
	for _, p := range players {
		st := domain.Standing{
			Name:              p.Name,
			Score:             p.Score,
			MaxNegativeStreak: p.MaxNegativeStreak,
			Answered:          make([]bool, n),
			Correct:           make([]bool, n),
		}

		playerAnswers := byPlayer[p.Name]
		sort.Slice(playerAnswers, func(i, j int) bool {
			return playerAnswers[i].QuestionIndex < playerAnswers[j].QuestionIndex
		})
		for _, a := range playerAnswers {
			if a.QuestionIndex < 0 || a.QuestionIndex >= n {
				continue
			}
			st.Answered[a.QuestionIndex] = true
			st.Correct[a.QuestionIndex] = a.IsCorrect
		}

		run := 0
		for i := 0; i < n; i++ {
			if st.Correct[i] {
				run++
				if run > st.MaxStreak {
					st.MaxStreak = run
				}
			} else {
				run = 0
			}
			if st.Correct[i] {
				st.CorrectCount++
			}
		}

		standings = append(standings, st)
	}

	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Score > standings[j].Score
	})
	for i := range standings {
		standings[i].Rank = i + 1
	}

	return domain.Results{
		LobbyID:       lobby.ID,
		Topic:         lobby.Topic,
		QuestionCount: n,
		Standings:     standings,
	}
}
