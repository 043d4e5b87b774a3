package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"polyquiz-service/internal/domain"
)

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Service contains the multiplayer game use cases: lobby lifecycle, the
// phase state machine, answer submission and scoring.
type Service struct {
	store  Store
	source QuestionSource
	rules  Rules
	timers *Coordinator

	defaultTimerSeconds int
	now                 func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithRules overrides the scoring rules.
func WithRules(r Rules) Option {
	return func(s *Service) { s.rules = r }
}

// WithDefaultTimer sets the countdown used when a lobby is created without one.
func WithDefaultTimer(seconds int) Option {
	return func(s *Service) { s.defaultTimerSeconds = seconds }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTick shortens the countdown tick, for tests.
func WithTick(d time.Duration) Option {
	return func(s *Service) { s.timers.tick = d }
}

func NewService(store Store, source QuestionSource, opts ...Option) *Service {
	s := &Service{
		store:               store,
		source:              source,
		rules:               DefaultRules(),
		defaultTimerSeconds: 15,
		now:                 time.Now,
	}
	s.timers = NewCoordinator(time.Second, func(lobbyID string, index int) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.tryAdvanceToReveal(ctx, lobbyID, index)
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams describes a new lobby.
type CreateParams struct {
	Topic        string
	Questions    int
	Difficulty   string
	TimerSeconds int
	HostName     string
}

// CreateLobby generates a quiz and creates the lobby document in the waiting
// state. Generator failures surface as domain.ErrQuizUnavailable so the host
// can retry.
func (s *Service) CreateLobby(ctx context.Context, p CreateParams) (domain.Lobby, error) {
	questions, err := s.source.Questions(ctx, p.Topic, p.Questions, p.Difficulty)
	if err != nil {
		return domain.Lobby{}, err
	}

	timer := p.TimerSeconds
	if timer <= 0 {
		timer = s.defaultTimerSeconds
	}

	lobby := domain.Lobby{
		Topic:        p.Topic,
		TimerSeconds: timer,
		HostName:     p.HostName,
		Quiz:         questions,
		Status:       domain.StatusWaiting,
		GameState: domain.GameState{
			CurrentQuestionIndex: 0,
			Phase:                domain.PhaseQuestion,
		},
		CreatedAt: s.now(),
	}

	// Room codes can collide; regenerate a few times before giving up.
	for attempt := 0; attempt < 5; attempt++ {
		lobby.ID = newRoomCode()
		if err = s.store.CreateLobby(ctx, lobby); err == nil {
			return lobby, nil
		}
	}
	return domain.Lobby{}, fmt.Errorf("create lobby: %w", err)
}

// Join registers a player in a waiting lobby. Rejoining under the same name
// while the game is running is treated as a reconnect and leaves the player
// record untouched.
func (s *Service) Join(ctx context.Context, lobbyID, name string) (domain.Lobby, error) {
	var snapshot domain.Lobby
	err := s.store.Update(ctx, lobbyID, func(tx Tx) error {
		lobby, err := tx.Lobby()
		if err != nil {
			return err
		}
		snapshot = lobby

		players, err := tx.Players()
		if err != nil {
			return err
		}
		for _, p := range players {
			if p.Name == name {
				return nil // already joined; reconnect
			}
		}
		if lobby.Status != domain.StatusWaiting {
			return domain.ErrLobbyStarted
		}
		tx.PutPlayer(domain.Player{Name: name, JoinedAt: s.now()})
		return nil
	})
	if err != nil {
		return domain.Lobby{}, err
	}
	return snapshot, nil
}

// Leave removes a player's record. Answers are kept for the results screen.
func (s *Service) Leave(ctx context.Context, lobbyID, name string) error {
	return s.store.DeletePlayer(ctx, lobbyID, name)
}

// Start moves a waiting lobby to playing and opens question 0. Host only.
// Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context, lobbyID, actor string) error {
	var started bool
	var timerSeconds int
	err := s.store.Update(ctx, lobbyID, func(tx Tx) error {
		started = false
		lobby, err := tx.Lobby()
		if err != nil {
			return err
		}
		if lobby.HostName != actor {
			return domain.ErrNotHost
		}
		if lobby.Status != domain.StatusWaiting {
			return nil
		}
		lobby.Status = domain.StatusPlaying
		lobby.GameState = domain.GameState{
			CurrentQuestionIndex: 0,
			Phase:                domain.PhaseQuestion,
			PhaseStartedAt:       s.now(),
		}
		tx.PutLobby(lobby)
		started = true
		timerSeconds = lobby.TimerSeconds
		return nil
	})
	if err != nil {
		return err
	}
	if started {
		s.timers.Start(lobbyID, 0, timerSeconds)
	}
	return nil
}

// SubmitAnswer records a player's answer for the given question index.
// Resubmissions overwrite (last write wins) while the question is open; once
// the phase leaves question the submission is rejected, re-checked inside the
// transaction rather than trusting the client. When every registered player
// has answered, the reveal transition is attempted immediately.
func (s *Service) SubmitAnswer(ctx context.Context, lobbyID, name string, questionIndex int, option string) (domain.Answer, error) {
	var answer domain.Answer
	var allAnswered bool
	err := s.store.Update(ctx, lobbyID, func(tx Tx) error {
		allAnswered = false
		lobby, err := tx.Lobby()
		if err != nil {
			return err
		}
		gs := lobby.GameState
		if lobby.Status != domain.StatusPlaying || gs.Phase != domain.PhaseQuestion || gs.CurrentQuestionIndex != questionIndex {
			return domain.ErrAnswerClosed
		}

		players, err := tx.Players()
		if err != nil {
			return err
		}
		found := false
		for _, p := range players {
			if p.Name == name {
				found = true
				break
			}
		}
		if !found {
			return domain.ErrPlayerNotFound
		}

		question := lobby.Quiz[questionIndex]
		answer = domain.Answer{
			PlayerName:     name,
			QuestionIndex:  questionIndex,
			SelectedOption: option,
			IsCorrect:      option == question.CorrectOption,
			SubmittedAt:    s.now(),
		}
		tx.PutAnswer(answer)

		existing, err := tx.Answers(questionIndex)
		if err != nil {
			return err
		}
		answered := map[string]bool{name: true}
		for _, a := range existing {
			answered[a.PlayerName] = true
		}
		allAnswered = true
		for _, p := range players {
			if !answered[p.Name] {
				allAnswered = false
				break
			}
		}
		return nil
	})
	if err != nil {
		return domain.Answer{}, err
	}
	if allAnswered {
		s.tryAdvanceToReveal(ctx, lobbyID, questionIndex)
	}
	return answer, nil
}

// tryAdvanceToReveal flips question → reveal for the given index. Both the
// timer expiry and the all-answered detection call it; the check-before-write
// inside the transaction makes the race harmless (writing reveal when already
// revealed is a no-op).
func (s *Service) tryAdvanceToReveal(ctx context.Context, lobbyID string, index int) {
	var advanced bool
	err := s.store.Update(ctx, lobbyID, func(tx Tx) error {
		advanced = false
		lobby, err := tx.Lobby()
		if err != nil {
			return err
		}
		gs := lobby.GameState
		if lobby.Status != domain.StatusPlaying || gs.Phase != domain.PhaseQuestion || gs.CurrentQuestionIndex != index {
			return nil
		}
		lobby.GameState.Phase = domain.PhaseReveal
		lobby.GameState.PhaseStartedAt = s.now()
		tx.PutLobby(lobby)
		advanced = true
		return nil
	})
	if err != nil {
		// Next trigger (timer tick, host click) retries; game state favors
		// eventual consistency over hard failure here.
		log.Printf("lobby %s: reveal transition failed: %v", lobbyID, err)
		return
	}
	if advanced {
		s.timers.Cancel(lobbyID)
	}
}

// errUnscoredReveal aborts an advance transaction that found a revealed
// question with no score marker yet.
var errUnscoredReveal = errors.New("reveal not scored")

// Advance moves the lobby past a revealed or nullified question: to the next
// question, or to finished after the last one. Leaving reveal applies scoring
// for the current index first; leaving nulled never does. The scoring decision
// is made inside the transaction (the phase may flip question to reveal between
// any outside read and the commit), so an advance can never commit past a
// revealed question whose marker is missing: the transaction aborts, scoring
// runs, and the advance retries.
func (s *Service) Advance(ctx context.Context, lobbyID, actor string) error {
	for {
		var opened, finished bool
		var nextIndex, timerSeconds, scoreIndex int
		err := s.store.Update(ctx, lobbyID, func(tx Tx) error {
			opened, finished = false, false
			lobby, err := tx.Lobby()
			if err != nil {
				return err
			}
			if lobby.HostName != actor {
				return domain.ErrNotHost
			}
			gs := lobby.GameState
			switch gs.Phase {
			case domain.PhaseReveal:
				marker, err := tx.Marker(gs.CurrentQuestionIndex)
				if err != nil {
					return err
				}
				if marker == nil {
					scoreIndex = gs.CurrentQuestionIndex
					return errUnscoredReveal
				}
			case domain.PhaseNulled:
			default:
				return nil // nothing to advance; stay idempotent
			}

			next := gs.CurrentQuestionIndex + 1
			if next >= len(lobby.Quiz) {
				lobby.GameState.Phase = domain.PhaseFinished
				lobby.GameState.PhaseStartedAt = s.now()
				lobby.Status = domain.StatusFinished
				finished = true
			} else {
				lobby.GameState = domain.GameState{
					CurrentQuestionIndex: next,
					Phase:                domain.PhaseQuestion,
					PhaseStartedAt:       s.now(),
				}
				opened = true
				nextIndex = next
				timerSeconds = lobby.TimerSeconds
			}
			tx.PutLobby(lobby)
			return nil
		})
		if errors.Is(err, errUnscoredReveal) {
			if err := s.ApplyScores(ctx, lobbyID, scoreIndex); err != nil {
				return fmt.Errorf("apply scores before advance: %w", err)
			}
			continue
		}
		if err != nil {
			return err
		}
		switch {
		case opened:
			s.timers.Start(lobbyID, nextIndex, timerSeconds)
		case finished:
			s.timers.Cancel(lobbyID)
		}
		return nil
	}
}

// Nullify voids the current revealed question: phase moves to nulled and a
// skip marker is written in the same transaction so no racing scorer can award
// points for the index. Host only.
func (s *Service) Nullify(ctx context.Context, lobbyID, actor string) error {
	return s.store.Update(ctx, lobbyID, func(tx Tx) error {
		lobby, err := tx.Lobby()
		if err != nil {
			return err
		}
		if lobby.HostName != actor {
			return domain.ErrNotHost
		}
		gs := lobby.GameState
		if gs.Phase != domain.PhaseReveal {
			return nil
		}
		marker, err := tx.Marker(gs.CurrentQuestionIndex)
		if err != nil {
			return err
		}
		if marker != nil {
			// Scoring already ran; too late to void the question.
			return nil
		}
		lobby.GameState.Phase = domain.PhaseNulled
		lobby.GameState.PhaseStartedAt = s.now()
		tx.PutLobby(lobby)
		tx.PutMarker(domain.ScoreMarker{
			QuestionIndex: gs.CurrentQuestionIndex,
			Skipped:       true,
			AppliedAt:     s.now(),
		})
		return nil
	})
}

// Close tears the lobby down, cascading over players and answers. Host only.
func (s *Service) Close(ctx context.Context, lobbyID, actor string) error {
	lobby, err := s.store.Lobby(ctx, lobbyID)
	if err != nil {
		return err
	}
	if lobby.HostName != actor {
		return domain.ErrNotHost
	}
	s.timers.Cancel(lobbyID)
	return s.store.DeleteLobby(ctx, lobbyID)
}

// Lobby returns the current lobby snapshot.
func (s *Service) Lobby(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return s.store.Lobby(ctx, lobbyID)
}

// Watch subscribes to lobby snapshots. The caller must invoke the returned
// cancel function to avoid leaks.
func (s *Service) Watch(ctx context.Context, lobbyID string) (<-chan LobbyEvent, func(), error) {
	return s.store.Watch(ctx, lobbyID)
}

// Remaining reports the seconds left on the lobby's countdown, for clients
// that reconnect mid-question.
func (s *Service) Remaining(lobbyID string) (int, bool) {
	return s.timers.Remaining(lobbyID)
}

// Results aggregates the final standings once the game is finished.
func (s *Service) Results(ctx context.Context, lobbyID string) (domain.Results, error) {
	lobby, err := s.store.Lobby(ctx, lobbyID)
	if err != nil {
		return domain.Results{}, err
	}
	if lobby.Status != domain.StatusFinished {
		return domain.Results{}, domain.ErrGameNotFinished
	}
	players, err := s.store.Players(ctx, lobbyID)
	if err != nil {
		return domain.Results{}, err
	}
	answers, err := s.store.Answers(ctx, lobbyID)
	if err != nil {
		return domain.Results{}, err
	}
	return buildResults(lobby, players, answers), nil
}

func newRoomCode() string {
	code := make([]byte, 6)
	for i := range code {
		code[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
	}
	return string(code)
}
