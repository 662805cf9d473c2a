// Package authz exposes the workspace validator over HTTP for tool servers
// that run outside the agent process, plus a websocket stream of live access
// decisions for operators.
package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/yudame/valor/internal/logger"
	"github.com/yudame/valor/internal/securemem"
	"github.com/yudame/valor/internal/workspace"
)

const maxBodySize = 64 << 10

// ValidatorSource yields the validator to enforce. It is consulted on every
// request so that a reloaded config takes effect immediately.
type ValidatorSource interface {
	Current() *workspace.Validator
}

// StaticSource serves a fixed validator.
type StaticSource struct{ V *workspace.Validator }

// Current returns s.V.
func (s StaticSource) Current() *workspace.Validator { return s.V }

func alog() *logger.Logger {
	return logger.Global().WithPrefix("authz")
}

// Server provides the HTTP interface to the validator.
type Server struct {
	source    ValidatorSource
	addr      string
	authToken *securemem.String // nil when authentication is off
	lookupEnv workspace.LookupEnvFunc
	router    *httprouter.Router
	server    *http.Server
	listener  net.Listener
	hub       *Hub
}

// NewServer creates a server for addr. An empty token disables
// authentication, which is only sensible on a loopback address.
func NewServer(source ValidatorSource, addr, token string) *Server {
	s := &Server{
		source: source,
		addr:   addr,
		router: httprouter.New(),
		hub:    NewHub(),
	}
	if token != "" {
		s.authToken = securemem.NewString(token)
	}
	s.setupRoutes()
	go s.hub.Run()
	return s
}

// SetLookupEnv overrides how the environment endpoints read
// TELEGRAM_ALLOWED_GROUPS and TELEGRAM_ALLOW_DMS.
func (s *Server) SetLookupEnv(lookup workspace.LookupEnvFunc) {
	s.lookupEnv = lookup
}

// Hub returns the audit stream hub; pass it to the validator as an auditor.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	s.router.POST("/v1/notion/check", s.handleNotionCheck)
	s.router.POST("/v1/directory/check", s.handleDirectoryCheck)
	s.router.GET("/v1/chats/:chat_id", s.handleChat)
	s.router.GET("/v1/environment", s.handleEnvironment)
	s.router.POST("/v1/whitelist/check", s.handleWhitelistCheck)
	s.router.GET("/v1/audit/stream", s.handleStream)

	s.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		alog().Error("panic serving %s %s: %v", r.Method, r.URL.Path, v)
		writeJSON(w, http.StatusInternalServerError, Decision{Allowed: false, Message: "Request failed."})
	}
}

// Handler returns the routed handler wrapped in authentication.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && !s.authorized(r) {
			alog().Warn("rejected %s %s from %s: invalid auth token", r.Method, r.URL.Path, r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer realm="valor"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		s.router.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == nil {
		return true
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		// Browsers cannot set headers on websocket upgrades.
		token = r.URL.Query().Get("token")
	}
	return token != "" && s.authToken.Equal(token)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.NewStdLogger(alog(), slog.LevelError),
	}

	go func() {
		alog().Info("authorization service listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			alog().Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop stops the HTTP server, disconnects stream clients and wipes the auth
// token. Requests after Stop are rejected.
func (s *Server) Stop() error {
	s.hub.Stop()
	defer s.authToken.Destroy()
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	v := s.source.Current()
	status := map[string]interface{}{"status": "ok", "workspaces": 0}
	if v == nil {
		status["status"] = "unconfigured"
	} else {
		status["workspaces"] = len(v.Registry().Names())
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) validator(w http.ResponseWriter) (*workspace.Validator, bool) {
	v := s.source.Current()
	if v == nil {
		writeJSON(w, http.StatusServiceUnavailable, Decision{
			Kind:    workspace.KindConfiguration,
			Message: workspace.DenialMessage(&workspace.ConfigurationError{}),
		})
		return nil, false
	}
	return v, true
}

func (s *Server) handleNotionCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req notionCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, ok := s.validator(w)
	if !ok {
		return
	}
	writeDecision(w, v.ValidateNotionAccess(req.ChatID, req.Workspace))
}

func (s *Server) handleDirectoryCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req directoryCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, ok := s.validator(w)
	if !ok {
		return
	}
	writeDecision(w, v.ValidateDirectoryAccess(req.ChatID, req.Path))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	v, ok := s.validator(w)
	if !ok {
		return
	}
	chatID := ps.ByName("chat_id")
	name, ok := v.WorkspaceForChat(chatID)
	if !ok {
		writeJSON(w, http.StatusNotFound, Decision{
			Kind:    workspace.KindUnmappedChat,
			Message: workspace.DenialMessage(&workspace.UnmappedChatError{ChatID: chatID}),
		})
		return
	}
	ws, _ := v.Registry().Workspace(name)
	writeJSON(w, http.StatusOK, ChatInfo{
		ChatID:             chatID,
		Workspace:          ws.Name,
		Type:               ws.Type.String(),
		NotionDatabaseID:   ws.NotionDatabaseID,
		AllowedDirectories: ws.AllowedDirectories,
	})
}

func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	v, ok := s.validator(w)
	if !ok {
		return
	}
	report, err := workspace.NewEnvironmentValidator(v.Registry(), s.lookupEnv).Validate()
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, report)
}

func (s *Server) handleWhitelistCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req whitelistCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, ok := s.validator(w)
	if !ok {
		return
	}
	allowed := workspace.NewEnvironmentValidator(v.Registry(), s.lookupEnv).
		IsChatWhitelisted(req.ChatID, req.IsPrivate, req.Username)
	status := http.StatusOK
	if !allowed {
		status = http.StatusForbidden
	}
	writeJSON(w, status, Decision{Allowed: allowed})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bearer token is the gate; there is no browser UI to protect.
		return true
	},
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		alog().Error("failed to upgrade audit stream: %v", err)
		return
	}

	client := NewClient(s.hub, conn, r.URL.Query().Get("chat_id"))
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeDecision maps a validator result to a response. Denials carry only the
// kind and the non-revealing message; the detail stays in the server log.
func writeDecision(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, Decision{Allowed: true})
		return
	}
	status := http.StatusForbidden
	if workspace.Kind(err) == "" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, Decision{
		Allowed: false,
		Kind:    workspace.Kind(err),
		Message: workspace.DenialMessage(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		alog().Error("failed to encode response: %v", err)
	}
}

// ParseChatID accepts the signed decimal chat ids Telegram uses.
func ParseChatID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
