package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"polyquiz-service/internal/domain"
	"polyquiz-service/internal/game"
)

// LobbyHandler exposes the REST side of the service: lobby creation and the
// post-game results panel.
type LobbyHandler struct {
	service *game.Service
}

func NewLobbyHandler(service *game.Service) *LobbyHandler {
	return &LobbyHandler{service: service}
}

type createLobbyRequest struct {
	Topic        string `json:"topic"`
	Questions    int    `json:"questions"`
	Difficulty   string `json:"difficulty"`
	TimerSeconds int    `json:"timerSeconds"`
	HostName     string `json:"hostName"`
}

type createLobbyResponse struct {
	LobbyID       string `json:"lobbyId"`
	Topic         string `json:"topic"`
	QuestionCount int    `json:"questionCount"`
	TimerSeconds  int    `json:"timerSeconds"`
	HostName      string `json:"hostName"`
}

// CreateLobby handles POST /lobbies.
func (h *LobbyHandler) CreateLobby(w http.ResponseWriter, r *http.Request) {
	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Topic == "" || req.HostName == "" {
		writeError(w, http.StatusBadRequest, "topic and hostName are required")
		return
	}

	lobby, err := h.service.CreateLobby(r.Context(), game.CreateParams{
		Topic:        req.Topic,
		Questions:    req.Questions,
		Difficulty:   req.Difficulty,
		TimerSeconds: req.TimerSeconds,
		HostName:     req.HostName,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrQuizUnavailable):
			writeError(w, http.StatusServiceUnavailable, "quiz generation unavailable, try again")
		case errors.Is(err, domain.ErrBadQuestionSet):
			writeError(w, http.StatusBadGateway, "generator returned a malformed quiz")
		default:
			log.Printf("create lobby: %v", err)
			writeError(w, http.StatusInternalServerError, "could not create lobby")
		}
		return
	}

	writeJSON(w, http.StatusCreated, createLobbyResponse{
		LobbyID:       lobby.ID,
		Topic:         lobby.Topic,
		QuestionCount: len(lobby.Quiz),
		TimerSeconds:  lobby.TimerSeconds,
		HostName:      lobby.HostName,
	})
}

// Results handles GET /lobbies/{lobbyID}/results.
func (h *LobbyHandler) Results(w http.ResponseWriter, r *http.Request) {
	lobbyID := r.PathValue("lobbyID")
	results, err := h.service.Results(r.Context(), lobbyID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLobbyNotFound):
			writeError(w, http.StatusNotFound, "this room is closed or does not exist")
		case errors.Is(err, domain.ErrGameNotFinished):
			writeError(w, http.StatusConflict, "the game is still running")
		default:
			log.Printf("results %s: %v", lobbyID, err)
			writeError(w, http.StatusInternalServerError, "could not load results")
		}
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
