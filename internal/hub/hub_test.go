package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"jobinbox/contracts/ws"
	"jobinbox/pkg/util"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  string
	sendErr error
	pingErr error
	pinged  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{pinged: make(chan struct{}, 8)}
}

func (f *fakeConn) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) Ping(context.Context) error {
	defer func() { f.pinged <- struct{}{} }()
	return f.pingErr
}

func (f *fakeConn) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = reason
	return nil
}

func (f *fakeConn) types(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, d := range f.sent {
		var head struct{ Type string }
		require.NoError(t, json.Unmarshal(d, &head))
		out = append(out, head.Type)
	}
	return out
}

const secret = "test-secret"

func newTestHub() *Hub {
	return New(NewJWTAuthenticator(secret, false), Config{}, zap.NewNop())
}

func authMessage(t *testing.T, email string) []byte {
	t.Helper()
	token, err := util.GenerateJWT(email, "user", secret, 0)
	require.NoError(t, err)
	b, _ := json.Marshal(ws.AuthRequest{Type: ws.TypeAuth, Token: token})
	return b
}

func TestHub_AuthThenNotify(t *testing.T) {
	h := newTestHub()
	a, b := newFakeConn(), newFakeConn()
	h.Register("a", a)
	h.Register("b", b)

	h.HandleMessage("a", authMessage(t, "alice@example.com"))
	h.HandleMessage("b", authMessage(t, "bob@example.com"))

	n := h.Notify(context.Background(), "alice@example.com", ws.NewMessages([]ws.NewMessage{{ID: "m1"}}))

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{ws.TypeAuthSuccess, ws.TypeNewMessages}, a.types(t))
	assert.Equal(t, []string{ws.TypeAuthSuccess}, b.types(t))
	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, h.ConnectedOwners())
}

func TestHub_RejectsBareEmailWhenJWTRequired(t *testing.T) {
	h := newTestHub()
	c := newFakeConn()
	h.Register("c", c)

	h.HandleMessage("c", []byte(`{"type":"auth","email":"alice@example.com"}`))

	assert.Equal(t, []string{ws.TypeAuthError}, c.types(t))
	assert.Empty(t, h.ConnectedOwners())
}

func TestHub_EmailAuthWhenAllowed(t *testing.T) {
	h := New(NewJWTAuthenticator("", true), Config{}, zap.NewNop())
	c := newFakeConn()
	h.Register("c", c)

	h.HandleMessage("c", []byte(`{"type":"auth","email":"alice@example.com"}`))
	h.HandleMessage("c", []byte(`not json`))
	h.HandleMessage("c", []byte(`{"type":"chat"}`))

	assert.Equal(t, []string{ws.TypeAuthSuccess}, c.types(t))
}

func TestHub_AuthenticateGoneSessionLogsNothing(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := New(NewJWTAuthenticator(secret, false), Config{}, zap.New(core))

	assert.False(t, h.Authenticate("gone", "alice@example.com"))
	assert.Zero(t, logs.FilterMessage("WebSocket authenticated").Len())

	conn := newFakeConn()
	h.Register("c", conn)
	assert.True(t, h.Authenticate("c", "alice@example.com"))
	assert.Equal(t, 1, logs.FilterMessage("WebSocket authenticated").Len())
	assert.Equal(t, []string{ws.TypeAuthSuccess}, conn.types(t))
}

func TestHub_SendFailureIsContained(t *testing.T) {
	h := newTestHub()
	c := newFakeConn()
	h.Register("c", c)
	h.Authenticate("c", "alice@example.com")
	c.sendErr = errors.New("broken pipe")

	assert.NotPanics(t, func() {
		h.Notify(context.Background(), "alice@example.com", map[string]string{"type": "x"})
	})
	assert.Equal(t, 1, h.Count())
}

func TestHub_SweepEvictsUnresponsive(t *testing.T) {
	h := newTestHub()
	live, dead := newFakeConn(), newFakeConn()
	dead.pingErr = errors.New("timeout")
	h.Register("live", live)
	h.Register("dead", dead)
	h.Authenticate("dead", "alice@example.com")

	ctx := context.Background()
	h.Sweep(ctx)
	<-live.pinged
	<-dead.pinged
	require.Eventually(t, func() bool {
		s, _ := h.Session("live")
		return s.Alive
	}, 2*time.Second, 10*time.Millisecond)

	h.Sweep(ctx)

	_, ok := h.Session("dead")
	assert.False(t, ok)
	assert.Equal(t, "liveness probe unanswered", dead.closed)
	assert.Empty(t, h.ConnectedOwners())
	_, ok = h.Session("live")
	assert.True(t, ok)
}

func TestHub_UnregisterRemovesOwner(t *testing.T) {
	h := newTestHub()
	h.Register("c", newFakeConn())
	h.Authenticate("c", "alice@example.com")

	h.Unregister("c")

	assert.Zero(t, h.Count())
	assert.Zero(t, h.Notify(context.Background(), "alice@example.com", map[string]string{"type": "x"}))
}

type recordingRelay struct {
	owners []string
}

func (r *recordingRelay) Publish(_ context.Context, owner string, _ []byte) error {
	r.owners = append(r.owners, owner)
	return nil
}

func TestHub_ForwardsToRelay(t *testing.T) {
	h := newTestHub()
	relay := &recordingRelay{}
	h.SetRelay(relay)

	h.Notify(context.Background(), "alice@example.com", map[string]string{"type": "x"})
	h.Broadcast(context.Background(), ws.BroadcastPayload{Type: ws.TypeBroadcast, Message: "hi"})

	assert.Equal(t, []string{"alice@example.com", ""}, relay.owners)
}

func TestRedisRelay_HandleSkipsOwnOrigin(t *testing.T) {
	h := newTestHub()
	c := newFakeConn()
	h.Register("c", c)
	h.Authenticate("c", "alice@example.com")
	relay := NewRedisRelay(nil, "", h, zap.NewNop())

	own, _ := json.Marshal(envelope{Origin: relay.origin, Owner: "alice@example.com", Payload: json.RawMessage(`{"type":"own"}`)})
	other, _ := json.Marshal(envelope{Origin: "elsewhere", Owner: "alice@example.com", Payload: json.RawMessage(`{"type":"remote"}`)})
	relay.handle(context.Background(), own)
	relay.handle(context.Background(), other)
	relay.handle(context.Background(), []byte("garbage"))

	assert.Equal(t, []string{ws.TypeAuthSuccess, "remote"}, c.types(t))
}
