package game

import (
	"context"

	"polyquiz-service/internal/domain"
)

// Tx is the view handed to Store.Update callbacks. Reads observe the lobby's
// documents as of transaction start; Put* calls are buffered and committed
// atomically when the callback returns nil. If the underlying documents change
// between read and commit the whole callback is retried, so it must be free of
// side effects.
type Tx interface {
	Lobby() (domain.Lobby, error)
	Players() ([]domain.Player, error)
	Answers(questionIndex int) ([]domain.Answer, error)
	// Marker returns nil when scoring has not run for the index.
	Marker(questionIndex int) (*domain.ScoreMarker, error)

	PutLobby(domain.Lobby)
	PutPlayer(domain.Player)
	PutAnswer(domain.Answer)
	PutMarker(domain.ScoreMarker)
}

// LobbyEvent is one snapshot pushed to watchers whenever anything in the lobby
// changes. Closed marks the final event after the lobby is deleted.
type LobbyEvent struct {
	Lobby   domain.Lobby
	Players []domain.Player
	Closed  bool
}

// Store abstracts the document store holding lobbies, players, answers and
// score markers. It is injected into the game service; there is no ambient
// connection.
type Store interface {
	CreateLobby(ctx context.Context, lobby domain.Lobby) error
	Lobby(ctx context.Context, lobbyID string) (domain.Lobby, error)
	// DeleteLobby cascades over players and answers. Best effort: a partial
	// failure may leave orphaned sub-records behind.
	DeleteLobby(ctx context.Context, lobbyID string) error

	// Players returns players in join order (ties broken by name).
	Players(ctx context.Context, lobbyID string) ([]domain.Player, error)
	DeletePlayer(ctx context.Context, lobbyID, name string) error

	Answers(ctx context.Context, lobbyID string) ([]domain.Answer, error)

	// Update runs fn inside an atomic optimistic transaction over the lobby's
	// documents. fn may be invoked more than once on conflict.
	Update(ctx context.Context, lobbyID string, fn func(Tx) error) error

	// Watch delivers a snapshot on every change until ctx ends or the cancel
	// function is called.
	Watch(ctx context.Context, lobbyID string) (<-chan LobbyEvent, func(), error)
}

// QuestionSource produces the quiz for a new lobby. Implementations include
// the external generator client, the Postgres question bank and static sets
// for tests.
type QuestionSource interface {
	Questions(ctx context.Context, topic string, count int, difficulty string) ([]domain.Question, error)
}
