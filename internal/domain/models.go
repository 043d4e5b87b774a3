package domain

import "time"

// Phase is one step of a question's lifecycle. The set is closed; consumers
// switch over it exhaustively instead of comparing raw strings.
type Phase string

const (
	PhaseQuestion Phase = "question"
	PhaseReveal   Phase = "reveal"
	PhaseFinished Phase = "finished"
	PhaseNulled   Phase = "nulled"
)

// LobbyStatus tracks a lobby through its lifetime.
type LobbyStatus string

const (
	StatusWaiting  LobbyStatus = "waiting"
	StatusPlaying  LobbyStatus = "playing"
	StatusFinished LobbyStatus = "finished"
)

// Question is a single multiple-choice question. Immutable once generated;
// CorrectOption must be one of Options (enforced at the generator boundary).
type Question struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correctOption"`
	Explanation   string   `json:"explanation"`
}

// GameState is the authoritative phase/index pair for a lobby. It is written
// only through the game service's transactions.
type GameState struct {
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	Phase                Phase     `json:"phase"`
	PhaseStartedAt       time.Time `json:"phaseStartedAt"`
}

// Lobby is one game session identified by a room code.
type Lobby struct {
	ID           string      `json:"id"`
	Topic        string      `json:"topic"`
	TimerSeconds int         `json:"timerSeconds"`
	HostName     string      `json:"hostName"`
	Quiz         []Question  `json:"quiz"`
	Status       LobbyStatus `json:"status"`
	GameState    GameState   `json:"gameState"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// Player is a participant; the name doubles as the identity key within a lobby.
// Counters are mutated only by the scoring engine.
type Player struct {
	Name              string    `json:"name"`
	Score             int       `json:"score"`
	Streak            int       `json:"streak"`
	NegativeStreak    int       `json:"negativeStreak"`
	MaxNegativeStreak int       `json:"maxNegativeStreak"`
	JoinedAt          time.Time `json:"joinedAt"`
}

// Answer records one player's submission for one question. Keyed by
// (QuestionIndex, PlayerName); resubmitting overwrites while the question
// phase is still open.
type Answer struct {
	PlayerName     string    `json:"playerName"`
	QuestionIndex  int       `json:"questionIndex"`
	SelectedOption string    `json:"selectedOption"`
	IsCorrect      bool      `json:"isCorrect"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// ScoreMarker records that scoring has run for a question index. Its existence
// is the idempotence guard; Skipped marks a nullified question that must never
// award points.
type ScoreMarker struct {
	QuestionIndex int       `json:"questionIndex"`
	Skipped       bool      `json:"skipped"`
	AppliedAt     time.Time `json:"appliedAt"`
}

// Standing is one row of the final leaderboard.
type Standing struct {
	Rank              int    `json:"rank"`
	Name              string `json:"name"`
	Score             int    `json:"score"`
	CorrectCount      int    `json:"correctCount"`
	MaxStreak         int    `json:"maxStreak"`
	MaxNegativeStreak int    `json:"maxNegativeStreak"`
	Answered          []bool `json:"answered"` // per question index: an answer exists
	Correct           []bool `json:"correct"`  // per question index: answered and correct
}

// Results is the post-game aggregation over players and the answer ledger.
type Results struct {
	LobbyID       string     `json:"lobbyId"`
	Topic         string     `json:"topic"`
	QuestionCount int        `json:"questionCount"`
	Standings     []Standing `json:"standings"`
}
