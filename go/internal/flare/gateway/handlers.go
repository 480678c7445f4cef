package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleFlareConnection handles GET /ws/flare?flare=<name>.
func (h *WebSocketHandler) HandleFlareConnection(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("flare")
	if name == "" {
		http.Error(w, "flare is required", http.StatusBadRequest)
		return
	}

	// on failure the upgrader has already written the response
	if err := h.connectionManager.UpgradeConnection(w, r, name); err != nil {
		log.Warn().Err(err).Str("flare", name).Msg("failed to upgrade WebSocket connection")
	}
}

func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.connectionManager.GetConnectionStats())
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/flare", h.HandleFlareConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

type StateHandler struct {
	store *StateStore
}

func NewStateHandler(store *StateStore) *StateHandler {
	return &StateHandler{store: store}
}

// HandleGetFlareState handles GET /api/state?flare=<name>. Without a name it
// lists the flares the gateway knows about.
func (h *StateHandler) HandleGetFlareState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("flare")
	if name == "" {
		writeJSON(w, map[string][]string{"flares": h.store.Names()})
		return
	}

	state, ok := h.store.Get(name)
	if !ok {
		http.Error(w, "unknown flare", http.StatusNotFound)
		return
	}
	writeJSON(w, state)
}

func (h *StateHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.HandleGetFlareState)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
