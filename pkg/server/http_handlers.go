package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aeolun/wschat/pkg/database"
	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/process"
)

// maxAPIMessages caps the limit accepted by /api/messages
const maxAPIMessages = 500

var endpoints = []string{
	"GET /",
	"GET /health",
	"GET /api/messages?limit=N",
	"GET /api/stats",
	"GET /metrics",
	"GET /ws (WebSocket)",
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.RootHandler)
	r.Get("/health", s.HealthHandler)
	r.Route("/api", func(r chi.Router) {
		r.Get("/messages", s.MessagesHandler)
		r.Get("/stats", s.StatsHandler)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
	r.Get("/ws", s.HandleWebSocket)
	r.NotFound(s.NotFoundHandler)
	return r
}

// apiMessage is the JSON shape of a stored message on the HTTP API
type apiMessage struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// RootHandler serves the service banner
func (s *Server) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "wschat",
		"status":    "running",
		"version":   s.config.Version,
		"timestamp": protocol.FormatTimestamp(time.Now()),
	})
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.StoreTimeout)
	defer cancel()

	status := http.StatusOK
	health := map[string]any{
		"status":         "healthy",
		"version":        s.config.Version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"timestamp":      protocol.FormatTimestamp(time.Now()),
	}

	db := map[string]any{"reachable": true}
	if err := s.store.Ping(ctx); err != nil {
		errorLog.Printf("Health check: store unreachable: %v", err)
		status = http.StatusServiceUnavailable
		health["status"] = "unhealthy"
		db["reachable"] = false
		db["error"] = err.Error()
	} else if stats, err := s.store.Stats(ctx); err == nil {
		db["total_messages"] = stats.TotalMessages
		db["unique_usernames"] = stats.UniqueUsernames
		if stats.MostRecent != nil {
			db["most_recent"] = protocol.FormatTimestamp(*stats.MostRecent)
		}
	}
	health["database"] = db

	rs := s.registry.Stats()
	health["connections"] = map[string]any{
		"count":                rs.Count,
		"unique_users":         len(rs.Usernames),
		"usernames":            rs.Usernames,
		"longest_connected_ms": rs.LongestConnectedMs,
	}

	if rss, err := residentMemory(); err == nil {
		health["memory"] = map[string]any{"rss_bytes": rss}
	}

	writeJSON(w, status, health)
}

func residentMemory() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// MessagesHandler returns the most recent messages, oldest first
func (s *Server) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.config.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   "limit must be a positive integer",
			})
			return
		}
		limit = n
	}
	limit = min(limit, maxAPIMessages)

	ctx, cancel := context.WithTimeout(r.Context(), s.config.StoreTimeout)
	defer cancel()

	messages, err := s.store.Recent(ctx, limit)
	if err != nil {
		errorLog.Printf("Error listing messages for HTTP endpoint: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   protocol.ErrMsgDatabaseError,
		})
		return
	}

	data := lo.Map(messages, func(m database.ChatMessage, _ int) apiMessage {
		return apiMessage{
			ID:        m.ID,
			Username:  m.Username,
			Message:   m.Body,
			Timestamp: protocol.FormatTimestamp(m.CreatedAt),
		}
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
		"count":   len(data),
	})
}

// StatsHandler returns message and connection statistics
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.StoreTimeout)
	defer cancel()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		errorLog.Printf("Error reading stats for HTTP endpoint: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   protocol.ErrMsgDatabaseError,
		})
		return
	}

	messages := map[string]any{
		"total":            stats.TotalMessages,
		"unique_usernames": stats.UniqueUsernames,
		"most_recent":      nil,
	}
	if stats.MostRecent != nil {
		messages["most_recent"] = protocol.FormatTimestamp(*stats.MostRecent)
	}

	rs := s.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"messages": messages,
			"connections": map[string]any{
				"count":        rs.Count,
				"unique_users": len(rs.Usernames),
				"usernames":    rs.Usernames,
			},
		},
	})
}

// NotFoundHandler lists the available endpoints
func (s *Server) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"success":   false,
		"error":     "Not found",
		"endpoints": endpoints,
	})
}
