// Package httpapi serves read access to order projections, their event logs
// and dead letters.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

const defaultDeadLetterLimit = 50

type (
	// OrderReader loads a projection.
	OrderReader interface {
		FindByID(ctx context.Context, id string) (domain.Order, error)
	}

	// EventReader lists the logged events of an order.
	EventReader interface {
		List(ctx context.Context, orderID string) ([]domain.EventLogEntry, error)
	}

	// Rebuilder folds an order's event log into a fresh projection.
	Rebuilder interface {
		Rebuild(ctx context.Context, orderID string) (domain.Order, error)
	}

	// DeadLetterReader lists dead letters, newest first.
	DeadLetterReader interface {
		List(ctx context.Context, topic domain.EventType, limit int) ([]messaging.DeadLetter, error)
	}
)

// Dependencies are the read sides served by the router. DeadLetters may be
// nil, in which case its route is not mounted.
type Dependencies struct {
	Orders      OrderReader
	Events      EventReader
	Rebuilder   Rebuilder
	DeadLetters DeadLetterReader
	Logger      *slog.Logger
}

// NewRouter returns the HTTP handler for deps.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Health())
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", GetOrder(deps.Orders, logger))
		r.Get("/events", ListEvents(deps.Events, logger))
		r.Get("/replay", ReplayOrder(deps.Rebuilder, logger))
	})
	if deps.DeadLetters != nil {
		r.Get("/deadletters", ListDeadLetters(deps.DeadLetters, logger))
	}
	return r
}

// Health reports liveness.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// GetOrder returns the stored projection of an order.
func GetOrder(orders OrderReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		order, err := orders.FindByID(r.Context(), id)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

// ListEvents returns an order's event log in processing order.
func ListEvents(events EventReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		entries, err := events.List(r.Context(), id)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		if entries == nil {
			entries = []domain.EventLogEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// ReplayOrder returns the projection rebuilt from the event log without
// storing it.
func ReplayOrder(rebuilder Rebuilder, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		order, err := rebuilder.Rebuild(r.Context(), id)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

type deadLetterResponse struct {
	Topic     domain.EventType `json:"topic"`
	MessageID string           `json:"messageId,omitempty"`
	Key       string           `json:"key,omitempty"`
	Body      string           `json:"body"`
	Attempts  int              `json:"attempts"`
	Kind      domain.Kind      `json:"kind"`
	LastError string           `json:"lastError"`
	CreatedAt string           `json:"createdAt"`
}

// ListDeadLetters returns the newest dead letters, optionally filtered by the
// topic query parameter.
func ListDeadLetters(store DeadLetterReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := domain.EventType(strings.TrimSpace(r.URL.Query().Get("topic")))
		if topic != "" && !topic.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown topic " + topic.String()})
			return
		}
		limit := defaultDeadLetterLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		letters, err := store.List(r.Context(), topic, limit)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		resp := make([]deadLetterResponse, 0, len(letters))
		for _, l := range letters {
			resp = append(resp, deadLetterResponse{
				Topic:     l.Topic,
				MessageID: l.MessageID,
				Key:       l.Key,
				Body:      string(l.Body),
				Attempts:  l.Attempts,
				Kind:      l.Kind,
				LastError: l.LastError,
				CreatedAt: l.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	logger.ErrorContext(r.Context(), "request failed",
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
