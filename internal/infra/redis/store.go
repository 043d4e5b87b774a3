package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"polyquiz-service/internal/domain"
	"polyquiz-service/internal/game"
)

const (
	lobbyTTL     = 24 * time.Hour
	maxTxRetries = 16

	closedMessage = "closed"
	updateMessage = "update"
)

// Store is a Redis-backed implementation of game.Store.
//
// Layout:
//
//	lobby:{id}          JSON lobby document (game state included)
//	lobby:{id}:players  hash, field = player name, value = JSON player
//	lobby:{id}:answers  hash, field = "{index}-{name}" for answers and
//	                    "score-calculated-{index}" for score markers; markers
//	                    deliberately share the answers hash as a generic keyed
//	                    record space
//	lobby:{id}:events   pub/sub channel notifying watchers to re-read
//
// Update uses WATCH over the lobby's three keys with a MULTI/EXEC pipeline:
// a concurrent write between read and commit fails the EXEC and the callback
// is retried, which is exactly the optimistic read-then-write contract the
// game service builds its exactly-once scoring on.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) CreateLobby(ctx context.Context, lobby domain.Lobby) error {
	data, err := json.Marshal(lobby)
	if err != nil {
		return fmt.Errorf("marshal lobby: %w", err)
	}
	ok, err := s.client.SetNX(ctx, lobbyKey(lobby.ID), data, lobbyTTL).Result()
	if err != nil {
		return fmt.Errorf("create lobby: %w", err)
	}
	if !ok {
		return fmt.Errorf("lobby %s already exists", lobby.ID)
	}
	return nil
}

func (s *Store) Lobby(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return getLobby(ctx, s.client, lobbyID)
}

func (s *Store) DeleteLobby(ctx context.Context, lobbyID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, lobbyKey(lobbyID), playersKey(lobbyID), answersKey(lobbyID))
	pipe.Publish(ctx, eventsKey(lobbyID), closedMessage)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete lobby: %w", err)
	}
	return nil
}

func (s *Store) Players(ctx context.Context, lobbyID string) ([]domain.Player, error) {
	if _, err := getLobby(ctx, s.client, lobbyID); err != nil {
		return nil, err
	}
	return getPlayers(ctx, s.client, lobbyID)
}

func (s *Store) DeletePlayer(ctx context.Context, lobbyID, name string) error {
	if _, err := getLobby(ctx, s.client, lobbyID); err != nil {
		return err
	}
	if err := s.client.HDel(ctx, playersKey(lobbyID), name).Err(); err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	s.client.Publish(ctx, eventsKey(lobbyID), updateMessage)
	return nil
}

func (s *Store) Answers(ctx context.Context, lobbyID string) ([]domain.Answer, error) {
	if _, err := getLobby(ctx, s.client, lobbyID); err != nil {
		return nil, err
	}
	raw, err := s.client.HGetAll(ctx, answersKey(lobbyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	answers := make([]domain.Answer, 0, len(raw))
	for field, value := range raw {
		if strings.HasPrefix(field, markerPrefix) {
			continue
		}
		var a domain.Answer
		if err := json.Unmarshal([]byte(value), &a); err != nil {
			return nil, fmt.Errorf("unmarshal answer %s: %w", field, err)
		}
		answers = append(answers, a)
	}
	return answers, nil
}

func (s *Store) Update(ctx context.Context, lobbyID string, fn func(game.Tx) error) error {
	keys := []string{lobbyKey(lobbyID), playersKey(lobbyID), answersKey(lobbyID)}

	var dirty bool
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			view := &redisTx{ctx: ctx, cmd: tx, lobbyID: lobbyID}
			if err := fn(view); err != nil {
				return err
			}
			dirty = view.dirty()
			if !dirty {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return view.apply(pipe)
			})
			return err
		}, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue // another writer got in first; re-read and retry
		}
		if err != nil {
			return err
		}
		if dirty {
			s.client.Publish(ctx, eventsKey(lobbyID), updateMessage)
		}
		return nil
	}
	return fmt.Errorf("lobby %s: too many transaction conflicts", lobbyID)
}

func (s *Store) Watch(ctx context.Context, lobbyID string) (<-chan game.LobbyEvent, func(), error) {
	initial, err := s.snapshot(ctx, lobbyID)
	if err != nil {
		return nil, nil, err
	}

	pubsub := s.client.Subscribe(ctx, eventsKey(lobbyID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe lobby events: %w", err)
	}

	out := make(chan game.LobbyEvent, 8)
	out <- initial
	done := make(chan struct{})

	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if msg.Payload == closedMessage {
					sendEvent(out, game.LobbyEvent{Closed: true})
					return
				}
				event, err := s.snapshot(ctx, lobbyID)
				if err != nil {
					if errors.Is(err, domain.ErrLobbyNotFound) {
						sendEvent(out, game.LobbyEvent{Closed: true})
						return
					}
					continue // transient read failure; next event re-reads
				}
				sendEvent(out, event)
			}
		}
	}()

	cancel := func() {
		select {
		case <-done:
		default:
			close(done)
		}
		_ = pubsub.Close()
	}
	return out, cancel, nil
}

func (s *Store) snapshot(ctx context.Context, lobbyID string) (game.LobbyEvent, error) {
	lobby, err := getLobby(ctx, s.client, lobbyID)
	if err != nil {
		return game.LobbyEvent{}, err
	}
	players, err := getPlayers(ctx, s.client, lobbyID)
	if err != nil {
		return game.LobbyEvent{}, err
	}
	return game.LobbyEvent{Lobby: lobby, Players: players}, nil
}

// sendEvent drops the oldest queued snapshot rather than letting a slow
// watcher block the pump; only the latest state matters.
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

// redisTx adapts a watched connection to game.Tx: reads go through the
// WATCHed conn, writes are buffered for the MULTI/EXEC pipeline.
type redisTx struct {
	ctx     context.Context
	cmd     redis.Cmdable
	lobbyID string

	lobby   *domain.Lobby
	players []domain.Player
	answers []domain.Answer
	markers []domain.ScoreMarker
}

func (t *redisTx) Lobby() (domain.Lobby, error) {
	return getLobby(t.ctx, t.cmd, t.lobbyID)
}

func (t *redisTx) Players() ([]domain.Player, error) {
	return getPlayers(t.ctx, t.cmd, t.lobbyID)
}

func (t *redisTx) Answers(questionIndex int) ([]domain.Answer, error) {
	raw, err := t.cmd.HGetAll(t.ctx, answersKey(t.lobbyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	prefix := fmt.Sprintf("%d-", questionIndex)
	var answers []domain.Answer
	for field, value := range raw {
		if !strings.HasPrefix(field, prefix) {
			continue
		}
		var a domain.Answer
		if err := json.Unmarshal([]byte(value), &a); err != nil {
			return nil, fmt.Errorf("unmarshal answer %s: %w", field, err)
		}
		answers = append(answers, a)
	}
	return answers, nil
}

func (t *redisTx) Marker(questionIndex int) (*domain.ScoreMarker, error) {
	value, err := t.cmd.HGet(t.ctx, answersKey(t.lobbyID), markerField(questionIndex)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read score marker: %w", err)
	}
	var m domain.ScoreMarker
	if err := json.Unmarshal([]byte(value), &m); err != nil {
		return nil, fmt.Errorf("unmarshal score marker: %w", err)
	}
	return &m, nil
}

func (t *redisTx) PutLobby(lobby domain.Lobby) { t.lobby = &lobby }

func (t *redisTx) PutPlayer(p domain.Player) { t.players = append(t.players, p) }

func (t *redisTx) PutAnswer(a domain.Answer) { t.answers = append(t.answers, a) }

func (t *redisTx) PutMarker(m domain.ScoreMarker) { t.markers = append(t.markers, m) }

func (t *redisTx) dirty() bool {
	return t.lobby != nil || len(t.players) > 0 || len(t.answers) > 0 || len(t.markers) > 0
}

func (t *redisTx) apply(pipe redis.Pipeliner) error {
	if t.lobby != nil {
		data, err := json.Marshal(*t.lobby)
		if err != nil {
			return fmt.Errorf("marshal lobby: %w", err)
		}
		pipe.Set(t.ctx, lobbyKey(t.lobbyID), data, lobbyTTL)
	}
	for _, p := range t.players {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal player: %w", err)
		}
		pipe.HSet(t.ctx, playersKey(t.lobbyID), p.Name, data)
	}
	for _, a := range t.answers {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal answer: %w", err)
		}
		pipe.HSet(t.ctx, answersKey(t.lobbyID), answerField(a.QuestionIndex, a.PlayerName), data)
	}
	for _, m := range t.markers {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal score marker: %w", err)
		}
		pipe.HSet(t.ctx, answersKey(t.lobbyID), markerField(m.QuestionIndex), data)
	}
	pipe.Expire(t.ctx, playersKey(t.lobbyID), lobbyTTL)
	pipe.Expire(t.ctx, answersKey(t.lobbyID), lobbyTTL)
	return nil
}

func getLobby(ctx context.Context, cmd redis.Cmdable, lobbyID string) (domain.Lobby, error) {
	data, err := cmd.Get(ctx, lobbyKey(lobbyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	if err != nil {
		return domain.Lobby{}, fmt.Errorf("read lobby: %w", err)
	}
	var lobby domain.Lobby
	if err := json.Unmarshal(data, &lobby); err != nil {
		return domain.Lobby{}, fmt.Errorf("unmarshal lobby: %w", err)
	}
	return lobby, nil
}

func getPlayers(ctx context.Context, cmd redis.Cmdable, lobbyID string) ([]domain.Player, error) {
	raw, err := cmd.HGetAll(ctx, playersKey(lobbyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read players: %w", err)
	}
	players := make([]domain.Player, 0, len(raw))
	for name, value := range raw {
		var p domain.Player
		if err := json.Unmarshal([]byte(value), &p); err != nil {
			return nil, fmt.Errorf("unmarshal player %s: %w", name, err)
		}
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].Name < players[j].Name
	})
	return players, nil
}
