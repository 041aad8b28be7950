package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"clara-ai/internal/domain"
	"clara-ai/internal/usecase"
)

// Server accepts companion-app connections. Each connection gets its own
// session: a fresh history, capability set, dispatcher, and handoff
// state, all torn down when the socket closes.
type Server struct {
	sessions  *usecase.SessionManager
	assistant *usecase.Assistant
	logger    *slog.Logger
	addr      string
	token     string

	httpSrv      *http.Server
	boundAddr    string
	onSession    func(*usecase.Session)
	onToolResult func(ctx context.Context, sess *usecase.Session, tool string, args, result json.RawMessage)
	wrap         func(http.Handler) http.Handler
}

// NewServer creates the data channel server. token may be empty to skip
// authentication (local development).
func NewServer(sessions *usecase.SessionManager, assistant *usecase.Assistant, addr, token string, logger *slog.Logger) *Server {
	return &Server{
		sessions:  sessions,
		assistant: assistant,
		logger:    logger.With("component", "client_server"),
		addr:      addr,
		token:     token,
	}
}

// OnSession registers a callback invoked for each new session before its
// read loop starts. Used to attach per-session wiring (e.g. the reminder
// monitor's client channel). Must be called before Start.
func (s *Server) OnSession(fn func(*usecase.Session)) {
	s.onSession = fn
}

// OnToolResult registers a callback invoked after every successful
// client tool round trip, with the tool's arguments and result. Used to
// mirror confirmed client-side state (reminders) into server-side stores.
// Must be called before Start.
func (s *Server) OnToolResult(fn func(ctx context.Context, sess *usecase.Session, tool string, args, result json.RawMessage)) {
	s.onToolResult = fn
}

// Use installs HTTP middleware around the upgrade endpoint (rate
// limiting). Must be called before Start.
func (s *Server) Use(mw func(http.Handler) http.Handler) {
	s.wrap = mw
}

// Start begins accepting connections. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	var upgrade http.Handler = http.HandlerFunc(s.handleUpgrade)
	if s.wrap != nil {
		upgrade = s.wrap(upgrade)
	}
	mux.Handle("/session", upgrade)
	mux.HandleFunc("/model/tool", s.handleModelTool)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("client server listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: mux, BaseContext: func(net.Listener) context.Context { return ctx }}

	s.logger.Info("client server started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("client server serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down and closes all live sessions.
func (s *Server) Stop(ctx context.Context) error {
	s.sessions.CloseAll(ctx)
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to. Valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.URL.Query().Get("token") != s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost", "localhost:*",
			"127.0.0.1", "127.0.0.1:*",
			"[::1]", "[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	channel := NewChannel(ws, s.logger)
	sess := s.sessions.Create(ctx, channel)
	if s.onSession != nil {
		s.onSession(sess)
	}
	s.logger.Info("client connected", "session_id", sess.ID)

	s.readLoop(ctx, sess, channel)

	channel.Close()
	if err := s.sessions.Close(context.Background(), sess.ID); err != nil {
		s.logger.Debug("session already closed", "session_id", sess.ID)
	}
	s.logger.Info("client disconnected", "session_id", sess.ID)
}

func (s *Server) readLoop(ctx context.Context, sess *usecase.Session, channel *Channel) {
	for {
		frame, err := channel.ReadFrame(ctx)
		if err != nil {
			return
		}

		switch frame.Type {
		case FrameUserTurn:
			var turn UserTurnPayload
			if err := json.Unmarshal(frame.Payload, &turn); err != nil {
				s.logger.Warn("malformed user turn", "session_id", sess.ID, "error", err)
				continue
			}
			if _, err := s.assistant.HandleUserTurn(ctx, sess, turn.Text); err != nil {
				s.logger.Warn("user turn failed", "session_id", sess.ID, "error", err)
				// Always answer with a next step, never a raw error.
				_ = channel.SendEvent(ctx, "ui_notification", map[string]string{
					"text": domain.UserMessage(err),
				})
			}

		case FrameToolResponse:
			var resp domain.ToolResponse
			if err := json.Unmarshal(frame.Payload, &resp); err != nil {
				s.logger.Warn("malformed tool response", "session_id", sess.ID, "error", err)
				continue
			}
			// Unknown and duplicate ids are discarded inside.
			_ = sess.Dispatcher.HandleResponse(ctx, resp)

		default:
			s.logger.Debug("ignoring frame", "type", string(frame.Type), "session_id", sess.ID)
		}
	}
}
