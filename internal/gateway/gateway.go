// Package gateway exposes the task lifecycle engine over a JSON-RPC
// websocket and a small read-only REST surface.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/workforce/internal/agent"
	"github.com/basket/workforce/internal/bridge"
	"github.com/basket/workforce/internal/bus"
	"github.com/basket/workforce/internal/coordinator"
	otelPkg "github.com/basket/workforce/internal/otel"
	"github.com/basket/workforce/internal/persistence"
	"github.com/basket/workforce/internal/shared"
	"github.com/basket/workforce/internal/telemetry"
)

const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInternal       = -32603

	// Stable app error taxonomy.
	ErrCodeInvalid  = 1000
	ErrCodeNotFound = 1004
	ErrCodeConflict = 1009

	ProtocolVersion = "1.0"

	notifyWriteTimeout = 5 * time.Second
	maxMessageBytes    = 1 << 20
)

type Config struct {
	Coordinator *coordinator.Coordinator
	Bridge      *bridge.Bridge
	Waiter      *coordinator.Waiter
	Journal     *persistence.Journal // nil disables replay
	Bus         *bus.Bus
	Registry    *agent.Registry

	// AuthToken guards every endpoint except /healthz. Empty means open.
	AuthToken string

	// AllowOrigins lists accepted Origin patterns for browser clients.
	// Empty means same-origin only.
	AllowOrigins []string

	ConfigFingerprint string
	RateLimit         RateLimitConfig
	MaxRequestBytes   int64

	Metrics *otelPkg.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	limiter *RateLimitMiddleware

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

type client struct {
	id         string
	conn       *websocket.Conn
	mu         sync.Mutex
	handshaken bool

	subMu     sync.Mutex
	busSub    *bus.Subscription
	busCancel context.CancelFunc
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	Method  string    `json:"method,omitempty"`
	Params  any       `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(otelPkg.TracerName)
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "gateway"),
		tracer:  tracer,
		limiter: NewRateLimitMiddleware(cfg.RateLimit),
		clients: map[*client]struct{}{},
	}
}

// StartBackgroundTasks runs housekeeping until ctx is done.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.cfg.RateLimit.Enabled {
		s.limiter.StartEviction(ctx, time.Minute, 10*time.Minute)
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/tasks", s.handleAPITasks)
	mux.HandleFunc("/api/tasks/", s.handleAPITaskByID)
	mux.HandleFunc("/api/employees", s.handleAPIEmployees)

	var h http.Handler = mux
	h = s.limiter.Wrap(h)
	h = RequestSizeLimitMiddleware(s.cfg.MaxRequestBytes)(h)
	h = NewCORSMiddleware(s.cfg.AllowOrigins)(h)
	return h
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}
	s.addClient(c)
	logger := s.logger.With("client_id", c.id)
	logger.Info("ws: client connected", "url", shared.RedactURL(r.URL.String()))
	defer func() {
		s.removeClient(c)
		logger.Info("ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	conn.SetReadLimit(maxMessageBytes)
	ctx := shared.WithClientID(r.Context(), c.id)
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.Warn("ws: read error, closing", "error", err)
			}
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			_ = c.write(ctx, &rpcResponse{
				JSONRPC: "2.0",
				Error:   &rpcError{Code: ErrCodeParse, Message: "parse error"},
			})
			continue
		}
		logger.Debug("ws: request", "method", req.Method, "id", string(req.ID))
		if req.Method == "task.wait" {
			// Long poll; keep reading other requests meanwhile.
			go s.respond(ctx, c, req, logger)
			continue
		}
		s.respond(ctx, c, req, logger)
	}
}

func (s *Server) respond(ctx context.Context, c *client, req rpcRequest, logger *slog.Logger) {
	resp := s.handleRPC(ctx, c, req)
	if resp == nil {
		return
	}
	if err := c.write(ctx, resp); err != nil && ctx.Err() == nil {
		logger.Error("ws: write response error", "method", req.Method, "error", err)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	token := ExtractToken(r)
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

func isMutatingMethod(method string) bool {
	return strings.HasPrefix(method, "agent.") || (strings.HasPrefix(method, "task.") && !isReadMethod(method))
}

func isReadMethod(method string) bool {
	switch method {
	case "task.get", "task.list", "task.events.replay", "task.wait":
		return true
	default:
		return false
	}
}

func (s *Server) handleRPC(ctx context.Context, c *client, req rpcRequest) *rpcResponse {
	id, hasID := decodeID(req.ID)
	if req.JSONRPC != "2.0" || req.Method == "" {
		if !hasID {
			return nil
		}
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &rpcError{Code: ErrCodeInvalidRequest, Message: "invalid JSON-RPC request"},
		}
	}
	if isMutatingMethod(req.Method) && !c.isHandshaken() {
		if !hasID {
			return nil
		}
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &rpcError{Code: ErrCodeInvalidRequest, Message: "system.hello required before mutating calls"},
		}
	}

	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	ctx, span := otelPkg.StartServerSpan(ctx, s.tracer, "gateway."+req.Method,
		attribute.String("rpc.method", req.Method))
	defer span.End()
	start := time.Now()

	result, err := s.dispatch(ctx, c, req)
	rpcErr := toRPCError(err)
	s.cfg.Metrics.Request(ctx, req.Method, time.Since(start), rpcErr != nil)
	if rpcErr != nil {
		span.SetAttributes(attribute.Int("rpc.error_code", rpcErr.Code))
		level := slog.LevelInfo
		if rpcErr.Code == ErrCodeInternal {
			level = slog.LevelError
		}
		telemetry.FromContext(ctx, s.logger).Log(ctx, level, "rpc failed",
			"method", req.Method, "code", rpcErr.Code, "error", rpcErr.Message)
	}

	if !hasID {
		return nil
	}
	if rpcErr != nil {
		return &rpcResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	}
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func (s *Server) dispatch(ctx context.Context, c *client, req rpcRequest) (any, error) {
	switch req.Method {
	case "system.hello":
		c.markHandshaken()
		s.startForwarding(c)
		return s.hello(), nil
	case "system.status":
		return s.status(ctx), nil
	case "employee.list":
		return map[string]any{"employees": s.employees()}, nil
	case "agent.event":
		return s.agentEvent(ctx, req.Params)
	case "agent.run.started":
		return s.agentRunStarted(ctx, req.Params)
	case "agent.run.ended":
		return s.agentRunEnded(ctx, req.Params)
	case "task.create":
		return s.taskCreate(ctx, req.Params)
	case "task.clarify":
		return s.taskClarify(ctx, req.Params)
	case "task.plan.approve":
		return s.taskApprove(ctx, req.Params)
	case "task.plan.reject":
		return s.taskReject(ctx, req.Params)
	case "task.cancel":
		return s.taskCancel(ctx, req.Params)
	case "task.revise":
		return s.taskRevise(ctx, req.Params)
	case "task.output.present":
		return s.taskPresentOutput(ctx, req.Params)
	case "task.get":
		return s.taskGet(ctx, req.Params)
	case "task.list":
		return s.taskList(ctx, req.Params)
	case "task.events.replay":
		return s.taskReplay(ctx, req.Params)
	case "task.wait":
		return s.taskWait(ctx, req.Params)
	default:
		return nil, &rpcError{Code: ErrCodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (s *Server) hello() map[string]any {
	return map[string]any{
		"protocol":          "workforce",
		"version":           ProtocolVersion,
		"supported_min":     ProtocolVersion,
		"supported_max":     ProtocolVersion,
		"configFingerprint": s.cfg.ConfigFingerprint,
		"employees":         s.employees(),
	}
}

func (s *Server) status(ctx context.Context) map[string]any {
	out := map[string]any{
		"clients":           s.ClientCount(),
		"configFingerprint": s.cfg.ConfigFingerprint,
	}
	if s.cfg.Bridge != nil {
		out["activeRuns"] = s.cfg.Bridge.ActiveRuns()
	}
	if s.cfg.Bus != nil {
		out["busDropped"] = s.cfg.Bus.Dropped()
	}
	if s.cfg.Journal != nil {
		if n, err := s.cfg.Journal.Count(ctx); err == nil {
			out["journalEvents"] = n
		}
	}
	return out
}

func (s *Server) employees() []agent.Employee {
	if s.cfg.Registry == nil {
		return []agent.Employee{}
	}
	return s.cfg.Registry.List()
}

func decodeID(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false
	}
	if generic == nil {
		return nil, false
	}
	return generic, true
}

// startForwarding pushes every bus event to the client as a JSON-RPC
// notification whose method is the event topic.
func (s *Server) startForwarding(c *client) {
	if s.cfg.Bus == nil {
		return
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.busSub != nil {
		return
	}
	c.busSub = s.cfg.Bus.Subscribe("")
	var ctx context.Context
	ctx, c.busCancel = context.WithCancel(context.Background())
	go s.forwardBusEvents(ctx, c, c.busSub)
}

func (s *Server) forwardBusEvents(ctx context.Context, c *client, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, notifyWriteTimeout)
			err := c.write(wctx, rpcResponse{JSONRPC: "2.0", Method: ev.Topic, Params: ev.Payload})
			cancel()
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("ws: notification write error", "client_id", c.id, "topic", ev.Topic, "error", err)
			}
		}
	}
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	c.subMu.Lock()
	if c.busCancel != nil {
		c.busCancel()
	}
	if c.busSub != nil && s.cfg.Bus != nil {
		s.cfg.Bus.Unsubscribe(c.busSub)
	}
	c.subMu.Unlock()

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

func (c *client) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

func (c *client) markHandshaken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handshaken = true
}

func (c *client) isHandshaken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshaken
}
