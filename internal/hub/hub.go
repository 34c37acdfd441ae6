// Package hub keeps the live WebSocket connections of each mailbox owner
// and pushes events to them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"jobinbox/contracts/ws"
	"jobinbox/pkg/metrics"
	"jobinbox/pkg/util"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
)

var ErrUnauthenticated = errors.New("authentication required")

// Conn 一个双向连接
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Authenticator resolves an auth message to the owner address.
type Authenticator func(req ws.AuthRequest) (string, error)

// Relay forwards deliveries to other instances. An empty owner means broadcast.
type Relay interface {
	Publish(ctx context.Context, owner string, data []byte) error
}

type Config struct {
	SweepInterval time.Duration
	WriteTimeout  time.Duration
}

type Hub struct {
	mu       sync.Mutex
	registry *Registry
	conns    map[SessionID]Conn

	auth   Authenticator
	relay  Relay
	cfg    Config
	logger *zap.Logger
}

func New(auth Authenticator, cfg Config, logger *zap.Logger) *Hub {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Hub{
		registry: NewRegistry(),
		conns:    make(map[SessionID]Conn),
		auth:     auth,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetRelay 设置跨实例转发
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Register adds an unauthenticated connection.
func (h *Hub) Register(id SessionID, conn Conn) {
	h.mu.Lock()
	h.conns[id] = conn
	effects := h.registry.Apply(Connected{ID: id})
	count := h.registry.Count()
	h.mu.Unlock()

	metrics.SetHubConnections(count)
	h.execute(context.Background(), effects)
}

// Authenticate binds the connection to owner. It reports false when the
// session is already gone.
func (h *Hub) Authenticate(id SessionID, owner string) bool {
	for _, eff := range h.apply(context.Background(), Authenticated{ID: id, Owner: owner}) {
		if e, ok := eff.(SendEffect); ok && e.Kind == ws.TypeAuthSuccess {
			h.logger.Info("WebSocket authenticated", zap.String("session_id", string(id)), zap.String("owner", owner))
			return true
		}
	}
	return false
}

// HandleMessage 处理客户端发来的消息，目前只有 auth
func (h *Hub) HandleMessage(id SessionID, data []byte) {
	var req ws.AuthRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Debug("Ignoring undecodable WebSocket message",
			zap.String("session_id", string(id)),
			zap.Error(err),
		)
		return
	}
	if req.Type != ws.TypeAuth {
		h.logger.Debug("Ignoring WebSocket message", zap.String("session_id", string(id)), zap.String("type", req.Type))
		return
	}

	owner, err := h.auth(req)
	if err != nil {
		h.logger.Warn("WebSocket authentication failed", zap.String("session_id", string(id)), zap.Error(err))
		h.apply(context.Background(), AuthFailed{ID: id, Reason: err.Error()})
		return
	}
	h.Authenticate(id, owner)
}

// Unregister removes the connection after it closed.
func (h *Hub) Unregister(id SessionID) {
	h.mu.Lock()
	delete(h.conns, id)
	h.registry.Apply(Closed{ID: id})
	count := h.registry.Count()
	h.mu.Unlock()
	metrics.SetHubConnections(count)
}

// Notify pushes payload to every connection of owner, here and through the
// relay. It returns the number of local connections targeted.
func (h *Hub) Notify(ctx context.Context, owner string, payload any) int {
	data, kind, err := encode(payload)
	if err != nil {
		h.logger.Error("Failed to encode notification", zap.String("owner", owner), zap.Error(err))
		return 0
	}
	n := h.DeliverLocal(ctx, owner, data, kind)
	h.forward(ctx, owner, data)
	return n
}

// Broadcast 推送给所有连接（管理员使用）
func (h *Hub) Broadcast(ctx context.Context, payload any) int {
	data, kind, err := encode(payload)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.Error(err))
		return 0
	}
	n := h.BroadcastLocal(ctx, data, kind)
	h.forward(ctx, "", data)
	return n
}

// DeliverLocal sends already encoded data to owner's local connections.
func (h *Hub) DeliverLocal(ctx context.Context, owner string, data []byte, kind string) int {
	effects := h.apply(ctx, Deliver{Owner: owner, Data: data, Kind: kind})
	return len(effects)
}

// BroadcastLocal sends already encoded data to all local connections.
func (h *Hub) BroadcastLocal(ctx context.Context, data []byte, kind string) int {
	effects := h.apply(ctx, Broadcast{Data: data, Kind: kind})
	return len(effects)
}

// Sweep runs one liveness pass.
func (h *Hub) Sweep(ctx context.Context) {
	h.apply(ctx, Sweep{})
}

// Run 每个周期执行一次探活，直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll("server shutting down")
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// ConnectedOwners 当前在线的用户
func (h *Hub) ConnectedOwners() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Owners()
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Count()
}

// Session 返回连接的状态快照
func (h *Hub) Session(id SessionID) (Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Session(id)
}

func (h *Hub) apply(ctx context.Context, ev Event) []Effect {
	h.mu.Lock()
	effects := h.registry.Apply(ev)
	count := h.registry.Count()
	h.mu.Unlock()

	if _, ok := ev.(Sweep); ok {
		metrics.SetHubConnections(count)
	}
	h.execute(ctx, effects)
	return effects
}

func (h *Hub) execute(ctx context.Context, effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case SendEffect:
			h.send(ctx, e)
		case PingEffect:
			h.ping(e.ID)
		case CloseEffect:
			h.close(e.ID, e.Reason)
		}
	}
}

func (h *Hub) conn(id SessionID) Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id]
}

// send failures are only logged; the sweep prunes dead connections.
func (h *Hub) send(ctx context.Context, e SendEffect) {
	c := h.conn(e.ID)
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.WriteTimeout)
	defer cancel()
	if err := c.Send(ctx, e.Data); err != nil {
		_, errType := util.IsRetryableError(err)
		h.logger.Warn("WebSocket send failed",
			zap.String("session_id", string(e.ID)),
			zap.String("kind", e.Kind),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		metrics.IncrementPush(e.Kind, "error")
		return
	}
	metrics.IncrementPush(e.Kind, "sent")
}

func (h *Hub) ping(id SessionID) {
	c := h.conn(id)
	if c == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SweepInterval)
		defer cancel()
		if err := c.Ping(ctx); err != nil {
			h.logger.Debug("Liveness probe failed", zap.String("session_id", string(id)), zap.Error(err))
			return
		}
		h.apply(context.Background(), Pong{ID: id})
	}()
}

func (h *Hub) close(id SessionID, reason string) {
	h.mu.Lock()
	c := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if c == nil {
		return
	}
	h.logger.Info("Closing WebSocket", zap.String("session_id", string(id)), zap.String("reason", reason))
	if err := c.Close(reason); err != nil {
		h.logger.Debug("WebSocket close error", zap.String("session_id", string(id)), zap.Error(err))
	}
}

func (h *Hub) closeAll(reason string) {
	h.mu.Lock()
	ids := make([]SessionID, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.close(id, reason)
	}
}

func (h *Hub) forward(ctx context.Context, owner string, data []byte) {
	h.mu.Lock()
	relay := h.relay
	h.mu.Unlock()
	if relay == nil {
		return
	}
	if err := relay.Publish(ctx, owner, data); err != nil {
		h.logger.Warn("Relay publish failed", zap.String("owner", owner), zap.Error(err))
	}
}

func encode(payload any) ([]byte, string, error) {
	switch p := payload.(type) {
	case []byte:
		return p, kindOf(p), nil
	case json.RawMessage:
		return p, kindOf(p), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal payload: %w", err)
	}
	return data, kindOf(data), nil
}

// kindOf reads the "type" field for metrics labels.
func kindOf(data []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &head) != nil || head.Type == "" {
		return "unknown"
	}
	return head.Type
}
