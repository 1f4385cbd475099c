package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Qdrant    string `json:"qdrant"`
	Metastore string `json:"metastore"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker reports whether the vector store is reachable.
// The storage layer implements this via its Health() method.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Pinger reports whether the metadata database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// It checks Qdrant and metadata store connectivity and returns 503 if
// either is down.
func NewHealthHandler(vectors HealthChecker, meta Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Qdrant:    "connected",
			Metastore: "connected",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		if err := vectors.Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.Qdrant = "disconnected"
		}
		if err := meta.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Metastore = "disconnected"
		}

		w.Header().Set("Content-Type", "application/json")
		if response.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(response)
	}
}
