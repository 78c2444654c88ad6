package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/cryptoedge/candlestream/internal/ws"
)

// ConnectorStater is satisfied by *ws.Connector; declared as an interface so
// tests can report synthetic states without opening a real connection.
type ConnectorStater interface {
	State() ws.State
}

// HealthHandler reports overall process health plus per-connector state.
type HealthHandler struct {
	connectors map[string]ConnectorStater
	startTime  time.Time
	version    string
}

func NewHealthHandler(connectors map[string]ConnectorStater, version string) *HealthHandler {
	return &HealthHandler{connectors: connectors, startTime: time.Now(), version: version}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Version    string            `json:"version"`
	Goroutines int               `json:"goroutines"`
	Connectors map[string]string `json:"connectors"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.startTime).String(),
		Version:    h.version,
		Goroutines: runtime.NumGoroutine(),
		Connectors: make(map[string]string, len(h.connectors)),
	}

	healthy := true
	for name, c := range h.connectors {
		s := c.State()
		resp.Connectors[name] = s.String()
		if s == ws.Errored {
			healthy = false
		}
	}

	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusOK) // degraded connectors retry on their own; not a fatal service condition
	}
	json.NewEncoder(w).Encode(resp)
}
