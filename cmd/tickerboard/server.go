package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/rickgao/tickerboard/internal/api"
	"github.com/rickgao/tickerboard/internal/board"
	"github.com/rickgao/tickerboard/internal/connection"
	"github.com/rickgao/tickerboard/internal/model"
	"github.com/rickgao/tickerboard/internal/version"
)

const wsWriteTimeout = 5 * time.Second

// boardService is the part of *board.Board the HTTP layer uses.
type boardService interface {
	Entries() []board.Entry
	Entry(symbol string) (board.Entry, bool)
	Subscribe() (<-chan board.Entry, func())
	Watch(ctx context.Context, symbol string) error
	Unwatch(ctx context.Context, symbol string) error
}

type chartSource interface {
	GetCandles(ctx context.Context, symbol string, rng api.Range) (model.ChartSeries, error)
}

// feedStatus is implemented by every connection.Transport.
type feedStatus interface {
	IsConnected() bool
	State() connection.ReconnectState
	Symbols() []string
}

type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	board    boardService
	charts   chartSource
	feeds    map[string]feedStatus
	db       pinger // nil when history is disabled
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// closed on shutdown; hijacked stream connections watch it
	done <-chan struct{}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /prices", s.handlePrices)
	mux.HandleFunc("GET /prices/{symbol}", s.handlePrice)
	mux.HandleFunc("POST /watchlist", s.handleWatch)
	mux.HandleFunc("DELETE /watchlist/{symbol}", s.handleUnwatch)
	mux.HandleFunc("GET /chart/{symbol}", s.handleChart)
	mux.HandleFunc("GET /ws", s.handleStream)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Version    version.Info   `json:"version"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.Get(),
		Components: make(map[string]any),
	}

	for name, f := range s.feeds {
		st := f.State()
		health.Components[name] = map[string]any{
			"connected": f.IsConnected(),
			"symbols":   len(f.Symbols()),
			"reconnect": st,
		}
		// A failed feed only degrades: reconcilers fall back to polling.
		if st.Failed {
			health.Status = "degraded"
		}
	}

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["database"] = "connected"
		}
	}

	health.Components["instruments"] = len(s.board.Entries())

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *server) handlePrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.board.Entries())
}

func (s *server) handlePrice(w http.ResponseWriter, r *http.Request) {
	e, ok := s.board.Entry(r.PathValue("symbol"))
	if !ok {
		writeError(w, http.StatusNotFound, "symbol not on watchlist")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if err := s.board.Watch(r.Context(), symbol); err != nil {
		s.logger.Error("watch failed", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"symbol": symbol})
}

func (s *server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if err := s.board.Unwatch(r.Context(), symbol); err != nil {
		s.logger.Error("unwatch failed", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleChart(w http.ResponseWriter, r *http.Request) {
	rng := api.Range(r.URL.Query().Get("range"))
	if rng == "" {
		rng = api.Range1D
	}
	if !rng.Valid() {
		writeError(w, http.StatusBadRequest, "unsupported range "+string(rng))
		return
	}

	series, err := s.charts.GetCandles(r.Context(), r.PathValue("symbol"), rng)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, api.ErrNoData) {
			code = http.StatusNotFound
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// handleStream sends every current entry, then each update, until the
// client goes away or the server shuts down.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.board.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for _, e := range s.board.Entries() {
		if err := sendEntry(conn, e); err != nil {
			return
		}
	}

	for {
		select {
		case <-gone:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case e := <-updates:
			if err := sendEntry(conn, e); err != nil {
				s.logger.Debug("stream client write failed", "error", err)
				return
			}
		}
	}
}

func sendEntry(conn *websocket.Conn, e board.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
