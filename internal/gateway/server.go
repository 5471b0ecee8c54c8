// Package gateway implements the inbound RPC transport (spec §6): a
// WebSocket connection per client, each carrying framed chat.send /
// chat.history requests that drive the Dispatch Orchestrator. Grounded on
// the teacher's internal/gateway/server.go (gorilla/websocket upgrade,
// Server/mux/Start shape), trimmed of the teacher's managed-mode HTTP API
// surface (agents/skills/channels/teams CRUD, pairing, MCP) which has no
// SPEC_FULL.md counterpart.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/neomagi/neomagi/internal/agent"
	"github.com/neomagi/neomagi/internal/config"
	"github.com/neomagi/neomagi/internal/dispatch"
	"github.com/neomagi/neomagi/internal/scope"
	"github.com/neomagi/neomagi/internal/store"
	"github.com/neomagi/neomagi/pkg/protocol"
)

// Server is the gateway's WebSocket RPC endpoint.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	sessions   store.SessionStore

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer builds a Server bound to dispatcher and sessions.
func NewServer(cfg *config.Config, dispatcher *dispatch.Dispatcher, sessions store.SessionStore) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		sessions:   sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.mux = s.buildMux()
	return s
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	snap := s.cfg.Snapshot()
	addr := fmt.Sprintf("%s:%d", snap.Gateway.Host, snap.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}

	errc := make(chan error, 1)
	go func() {
		slog.Info("gateway_listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) authorized(r *http.Request) bool {
	snap := s.cfg.Snapshot()
	if snap.Gateway.Token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+snap.Gateway.Token || r.URL.Query().Get("token") == snap.Gateway.Token
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	snap := s.cfg.Snapshot()
	rpm := snap.Gateway.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}
	limiter := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	ctx := r.Context()
	for {
		var req protocol.Request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket_read_closed", "error", err)
			}
			return
		}

		if !limiter.Allow() {
			_ = write(protocol.NewErrorFrame(req.ID, protocol.ErrCodeInternalError, "rate limit exceeded"))
			continue
		}

		s.handleRequest(ctx, req, write)
	}
}

func (s *Server) handleRequest(ctx context.Context, req protocol.Request, write func(interface{}) error) {
	switch req.Method {
	case protocol.MethodChatSend:
		s.handleChatSend(ctx, req, write)
	case protocol.MethodChatHistory:
		s.handleChatHistory(ctx, req, write)
	default:
		_ = write(protocol.NewErrorFrame(req.ID, protocol.ErrCodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)))
	}
}

func (s *Server) handleChatHistory(ctx context.Context, req protocol.Request, write func(interface{}) error) {
	var params protocol.ChatHistoryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		_ = write(protocol.NewErrorFrame(req.ID, protocol.ErrCodeInvalidArgs, "invalid chat.history params"))
		return
	}

	messages, err := s.sessions.GetEffectiveHistory(ctx, params.SessionID, nil)
	if err != nil {
		_ = write(protocol.NewErrorFrame(req.ID, protocol.ErrCodeInternalError, err.Error()))
		return
	}

	out := make([]protocol.ChatHistoryMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, protocol.ChatHistoryMessage{Seq: m.Seq, Role: m.Role, Content: m.Content})
	}
	_ = write(protocol.NewResponseFrame(req.ID, out))
}

func (s *Server) handleChatSend(ctx context.Context, req protocol.Request, write func(interface{}) error) {
	var params protocol.ChatSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		_ = write(protocol.NewErrorFrame(req.ID, protocol.ErrCodeInvalidArgs, "invalid chat.send params"))
		return
	}

	events, errc, err := s.dispatcher.Dispatch(ctx, dispatch.Request{
		SessionID: params.SessionID,
		Content:   params.Content,
		Provider:  params.Provider,
		Identity:  scope.Identity{SessionID: params.SessionID, ChannelType: "rpc", PeerID: params.SessionID},
		DMScope:   scope.DMScopePolicy(s.cfg.Snapshot().Runtime.DMScopePolicy),
	})
	if err != nil {
		_ = write(protocol.NewErrorFrame(req.ID, dispatchErrorCode(err), err.Error()))
		return
	}

	for ev := range events {
		s.forwardEvent(req.ID, ev, write)
	}

	if turnErr := <-errc; turnErr != nil {
		_ = write(protocol.NewErrorFrame(req.ID, sessionErrorCode(turnErr), turnErr.Error()))
		return
	}

	_ = write(protocol.StreamChunk{Type: protocol.FrameStreamChunk, ID: req.ID, Data: protocol.StreamChunkData{Done: true}})
}

func (s *Server) forwardEvent(id string, ev agent.Event, write func(interface{}) error) {
	switch ev.Type {
	case agent.EventTextChunk:
		_ = write(protocol.StreamChunk{Type: protocol.FrameStreamChunk, ID: id, Data: protocol.StreamChunkData{Content: ev.TextChunk}})
	case agent.EventToolCall:
		_ = write(protocol.ToolCallFrame{Type: protocol.FrameToolCall, ID: id, Data: protocol.ToolCallFrameData{
			ToolName:  ev.ToolCall.ToolName,
			CallID:    ev.ToolCall.CallID,
			Arguments: ev.ToolCall.Arguments,
		}})
	case agent.EventToolDenied:
		_ = write(protocol.ToolDeniedFrame{Type: protocol.FrameToolDenied, ID: id, Data: protocol.ToolDeniedFrameData{
			CallID:     ev.ToolDenied.CallID,
			ToolName:   ev.ToolDenied.ToolName,
			Mode:       ev.ToolDenied.Mode,
			ErrorCode:  ev.ToolDenied.ErrorCode,
			Message:    ev.ToolDenied.Message,
			NextAction: ev.ToolDenied.NextAction,
		}})
	}
}

func dispatchErrorCode(err error) string {
	var dispatchErr *dispatch.Error
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Code
	}
	return protocol.ErrCodeInternalError
}

func sessionErrorCode(err error) string {
	if errors.Is(err, store.ErrSessionFenced) {
		return protocol.ErrCodeSessionFenced
	}
	return protocol.ErrCodeInternalError
}
