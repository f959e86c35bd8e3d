// Package api serves the plain request/response side of the service:
// paginated message history, the current roster, and guest login.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/mahaj/samvad/pkg/auth"
	"github.com/mahaj/samvad/pkg/presence"
	"github.com/mahaj/samvad/pkg/store"
)

const (
	defaultPage  = 1
	defaultLimit = 50
)

type Server struct {
	store    store.MessageStore
	registry *presence.Registry
}

func NewServer(st store.MessageStore, reg *presence.Registry) *Server {
	return &Server{store: st, registry: reg}
}

// Routes mounts the API handlers on a mux router.
func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/api/messages", s.handleMessages).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/users", s.handleUsers).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost, http.MethodOptions)
	r.Use(CORSMiddleware)
}

// handleMessages returns one skip/limit page of persisted messages
// ordered ascending by id.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", defaultPage)
	limit := intQuery(r, "limit", defaultLimit)

	msgs, err := s.store.Page(r.Context(), page, limit)
	if err != nil {
		log.WithError(err).Error("failed to load message history")
		http.Error(w, `{"error":"Failed to load messages"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.registry.List())
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// handleLogin issues a guest token for a display name. There is no
// password; the token only carries the name to the websocket handshake.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}

	token, err := auth.GenerateToken(req.Username)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loginResponse{Token: token})
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
