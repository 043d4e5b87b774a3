package domain

import "errors"

var (
	// ErrLobbyNotFound is returned when a room code resolves to nothing;
	// clients show "room closed or does not exist".
	ErrLobbyNotFound = errors.New("lobby not found")
	// ErrPlayerNotFound is returned when a player acts before joining.
	ErrPlayerNotFound = errors.New("player not found in lobby")
	// ErrNotHost is returned when a non-host issues a host-only action.
	ErrNotHost = errors.New("action requires the lobby host")
	// ErrLobbyStarted is returned when joining a lobby that already left the waiting room.
	ErrLobbyStarted = errors.New("lobby already started")
	// ErrAnswerClosed is returned for submissions outside the question window.
	ErrAnswerClosed = errors.New("answers are closed for this question")
	// ErrGameNotFinished is returned when results are requested mid-game.
	ErrGameNotFinished = errors.New("game is not finished")
	// ErrQuizUnavailable indicates the question generator failed; the caller
	// may retry manually.
	ErrQuizUnavailable = errors.New("quiz generation unavailable")
	// ErrBadQuestionSet indicates the generator violated its contract.
	ErrBadQuestionSet = errors.New("malformed question set")
)
