package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"polyquiz-service/internal/domain"
	"polyquiz-service/internal/game"
)

const roleHost = "host"

type WSHandler struct {
	service  *game.Service
	upgrader websocket.Upgrader
}

func NewWSHandler(service *game.Service) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex int    `json:"questionIndex"`
	Option        string `json:"option"`
}

type answerAck struct {
	QuestionIndex  int    `json:"questionIndex"`
	SelectedOption string `json:"selectedOption"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type playerView struct {
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Streak int    `json:"streak"`
}

type questionView struct {
	Index         int      `json:"index"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correctOption,omitempty"`
	Explanation   string   `json:"explanation,omitempty"`
}

type lobbyView struct {
	ID               string             `json:"id"`
	Topic            string             `json:"topic"`
	HostName         string             `json:"hostName"`
	TimerSeconds     int                `json:"timerSeconds"`
	Status           domain.LobbyStatus `json:"status"`
	Phase            domain.Phase       `json:"phase"`
	QuestionIndex    int                `json:"questionIndex"`
	QuestionCount    int                `json:"questionCount"`
	RemainingSeconds int                `json:"remainingSeconds"`
	Players          []playerView       `json:"players"`
	Question         *questionView      `json:"question,omitempty"`
}

// ServeWS upgrades the connection and wires it into the game use cases.
// Players join on connect and leave on disconnect; the host drives the game
// through start/next/nullify/close messages.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	lobbyID := r.URL.Query().Get("lobbyId")
	name := r.URL.Query().Get("name")
	role := r.URL.Query().Get("role")
	if lobbyID == "" || name == "" {
		http.Error(w, "missing lobbyId or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	isHost := role == roleHost

	if isHost {
		lobby, err := h.service.Lobby(ctx, lobbyID)
		if err == nil && lobby.HostName != name {
			err = domain.ErrNotHost
		}
		if err != nil {
			_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: userMessage(err)}})
			return
		}
	} else {
		if _, err := h.service.Join(ctx, lobbyID, name); err != nil {
			_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: userMessage(err)}})
			return
		}
		defer func() {
			if err := h.service.Leave(ctx, lobbyID, name); err != nil && !errors.Is(err, domain.ErrLobbyNotFound) {
				log.Printf("leave %s/%s: %v", lobbyID, name, err)
			}
		}()
	}

	events, cancel, err := h.service.Watch(ctx, lobbyID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: userMessage(err)}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				msg := outboundMessage[any]{Type: "lobby", Payload: h.view(event)}
				if event.Closed {
					msg = outboundMessage[any]{Type: "closed", Payload: nil}
				}
				select {
				case send <- msg:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	select {
	case send <- outboundMessage[any]{Type: "joined", Payload: map[string]any{"lobbyId": lobbyID, "name": name, "host": isHost}}:
	case <-writerDone:
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if stop := h.dispatch(ctx, send, writerDone, inbound, lobbyID, name); stop {
			break
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

// dispatch handles one inbound message; it reports true when the connection
// should wind down (lobby closed by the host). Replies go through deliver so a
// dead writer (the send buffer full, nobody draining) cannot wedge the read
// loop.
func (h *WSHandler) dispatch(ctx context.Context, send chan outboundMessage[any], writerDone <-chan struct{}, inbound inboundMessage, lobbyID, name string) bool {
	deliver := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}
	sendErr := func(err error) {
		deliver(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: userMessage(err)}})
	}

	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			deliver(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
			return false
		}
		answer, err := h.service.SubmitAnswer(ctx, lobbyID, name, payload.QuestionIndex, payload.Option)
		if err != nil {
			sendErr(err)
			return false
		}
		deliver(outboundMessage[any]{Type: "answerAck", Payload: answerAck{
			QuestionIndex:  answer.QuestionIndex,
			SelectedOption: answer.SelectedOption,
		}})
	case "start":
		if err := h.service.Start(ctx, lobbyID, name); err != nil {
			sendErr(err)
		}
	case "next":
		if err := h.service.Advance(ctx, lobbyID, name); err != nil {
			sendErr(err)
		}
	case "nullify":
		if err := h.service.Nullify(ctx, lobbyID, name); err != nil {
			sendErr(err)
		}
	case "results":
		results, err := h.service.Results(ctx, lobbyID)
		if err != nil {
			sendErr(err)
			return false
		}
		deliver(outboundMessage[any]{Type: "results", Payload: results})
	case "close":
		if err := h.service.Close(ctx, lobbyID, name); err != nil {
			sendErr(err)
			return false
		}
		return true
	default:
		deliver(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
	}
	return false
}

func (h *WSHandler) view(event game.LobbyEvent) lobbyView {
	lobby := event.Lobby
	view := lobbyView{
		ID:            lobby.ID,
		Topic:         lobby.Topic,
		HostName:      lobby.HostName,
		TimerSeconds:  lobby.TimerSeconds,
		Status:        lobby.Status,
		Phase:         lobby.GameState.Phase,
		QuestionIndex: lobby.GameState.CurrentQuestionIndex,
		QuestionCount: len(lobby.Quiz),
		Players:       make([]playerView, 0, len(event.Players)),
	}
	for _, p := range event.Players {
		view.Players = append(view.Players, playerView{Name: p.Name, Score: p.Score, Streak: p.Streak})
	}

	idx := lobby.GameState.CurrentQuestionIndex
	if lobby.Status == domain.StatusPlaying && idx >= 0 && idx < len(lobby.Quiz) {
		q := lobby.Quiz[idx]
		qv := &questionView{Index: idx, Text: q.Text, Options: q.Options}
		switch lobby.GameState.Phase {
		case domain.PhaseQuestion:
			// correct answer withheld while the window is open
			if remaining, ok := h.service.Remaining(lobby.ID); ok {
				view.RemainingSeconds = remaining
			}
		case domain.PhaseReveal, domain.PhaseNulled:
			qv.CorrectOption = q.CorrectOption
			qv.Explanation = q.Explanation
		case domain.PhaseFinished:
		}
		view.Question = qv
	}
	return view
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrLobbyNotFound):
		return "this room is closed or does not exist"
	case errors.Is(err, domain.ErrLobbyStarted):
		return "the game already started"
	case errors.Is(err, domain.ErrAnswerClosed):
		return "answers are closed for this question"
	case errors.Is(err, domain.ErrNotHost):
		return "only the host can do that"
	case errors.Is(err, domain.ErrPlayerNotFound):
		return "join the lobby before answering"
	case errors.Is(err, domain.ErrGameNotFinished):
		return "the game is still running"
	default:
		return err.Error()
	}
}
