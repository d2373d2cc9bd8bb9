package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/chatstream/internal/channel"
	"github.com/ent0n29/chatstream/internal/config"
	"github.com/ent0n29/chatstream/internal/history"
	"github.com/ent0n29/chatstream/internal/observability"
	"github.com/ent0n29/chatstream/internal/protocol"
	"github.com/ent0n29/chatstream/internal/relay"
)

type Server struct {
	cfg      config.Config
	relay    *relay.Manager
	store    history.Store
	metrics  *observability.Metrics
	window   *observability.DeliveryWindow
	upgrader websocket.Upgrader
}

func New(cfg config.Config, rel *relay.Manager, store history.Store, metrics *observability.Metrics, window *observability.DeliveryWindow) *Server {
	return &Server{
		cfg:     cfg,
		relay:   rel,
		store:   store,
		metrics: metrics,
		window:  window,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same origin
				// unless explicitly opened up. Producers are not browsers and
				// usually omit Origin; allow them.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/streams", s.handleOpenStream)
	r.Post("/v1/streams/{id}/update", s.handleUpdateStream)
	r.Post("/v1/streams/{id}/finalize", s.handleFinalizeStream)
	r.Get("/v1/streams/ws", s.handleStreamWS)
	r.Get("/v1/chats/{id}/replies", s.handleRecentReplies)
	r.Get("/v1/perf/delivery", s.handlePerfDelivery)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_streams": s.relay.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"active_streams": s.relay.ActiveCount(),
	})
}

type openStreamRequest struct {
	StreamID string `json:"stream_id"`
	ChatID   string `json:"chat_id"`
	ReplyTo  string `json:"reply_to"`
	Markdown bool   `json:"markdown"`
}

type openStreamResponse struct {
	StreamID         string `json:"stream_id"`
	ChatID           string `json:"chat_id"`
	UpdateIntervalMS int64  `json:"update_interval_ms"`
}

func (s *Server) handleOpenStream(w http.ResponseWriter, r *http.Request) {
	var req openStreamRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		respondError(w, http.StatusBadRequest, "missing_chat_id", "chat_id is required")
		return
	}
	if strings.TrimSpace(req.StreamID) == "" {
		req.StreamID = uuid.NewString()
	}

	target := channel.Target{ChatID: req.ChatID, ReplyTo: req.ReplyTo, Markdown: req.Markdown}
	if err := s.relay.Open(req.StreamID, target); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_stream", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, openStreamResponse{
		StreamID:         req.StreamID,
		ChatID:           req.ChatID,
		UpdateIntervalMS: s.cfg.UpdateInterval.Milliseconds(),
	})
}

type streamContentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleUpdateStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req streamContentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := s.relay.Delta(id, req.Content); err != nil {
		respondError(w, http.StatusNotFound, "stream_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"stream_id": id, "accepted": true})
}

func (s *Server) handleFinalizeStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req streamContentRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := s.relay.Final(id, req.Content); err != nil {
		respondError(w, http.StatusNotFound, "stream_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stream_id": id, "finalized": true})
}

func (s *Server) handleRecentReplies(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	if s.store == nil {
		respondJSON(w, http.StatusOK, []history.ReplyRecord{})
		return
	}
	replies, err := s.store.RecentReplies(r.Context(), chatID, 20)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if replies == nil {
		replies = []history.ReplyRecord{}
	}
	respondJSON(w, http.StatusOK, replies)
}

// handleStreamWS is the push ingest path. One producer connection can drive
// any number of streams; every accepted event is acked in order so the
// producer can pace itself.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.writeWS(conn, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}

		var streamID string
		var dispatchErr error
		switch msg := parsed.(type) {
		case protocol.StreamOpen:
			streamID = msg.StreamID
			dispatchErr = s.relay.Open(msg.StreamID, channel.Target{
				ChatID:   msg.ChatID,
				ReplyTo:  msg.ReplyTo,
				Markdown: msg.Markdown,
			})
		case protocol.ReplyDelta:
			streamID = msg.StreamID
			dispatchErr = s.relay.Delta(msg.StreamID, msg.Content)
		case protocol.ReplyFinal:
			streamID = msg.StreamID
			dispatchErr = s.relay.Final(msg.StreamID, msg.Content)
		default:
			continue
		}

		if dispatchErr != nil {
			s.writeWS(conn, protocol.ErrorEvent{
				Type:     protocol.TypeErrorEvent,
				StreamID: streamID,
				Code:     "stream_rejected",
				Detail:   dispatchErr.Error(),
			})
			continue
		}
		s.writeWS(conn, protocol.StreamAck{
			Type:     protocol.TypeStreamAck,
			StreamID: streamID,
			Accepted: true,
		})
	}
}

func (s *Server) writeWS(conn *websocket.Conn, msg any) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteJSON(msg)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
