package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"nearchat/server/room"
)

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Connections int       `json:"connections"`
	Error       string    `json:"error,omitempty"`
}

// HandleHealth reports UP while the database answers pings.
func HandleHealth(chat *room.Room, ping func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:      "UP",
			Timestamp:   time.Now(),
			Connections: chat.Count(),
		}
		status := http.StatusOK
		if err := ping(); err != nil {
			response.Status = "DOWN"
			response.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(response)
	}
}
