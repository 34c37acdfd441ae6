package hub

import (
	"encoding/json"
	"sort"

	"jobinbox/contracts/ws"
)

type SessionID string

// State 连接状态：Connected -> Authenticated -> Closed
type State int

const (
	StateConnected State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 一个连接的注册信息
type Session struct {
	ID    SessionID
	Owner string
	State State
	// 上次探测后是否收到过回应
	Alive bool
}

// Event drives the registry.
type Event interface{ event() }

type (
	// Connected 新连接，未认证
	Connected struct{ ID SessionID }
	// Authenticated 认证通过，Owner 已校验
	Authenticated struct {
		ID    SessionID
		Owner string
	}
	// AuthFailed 认证失败，连接保持在 Connected
	AuthFailed struct {
		ID     SessionID
		Reason string
	}
	// Closed 连接断开或出错
	Closed struct{ ID SessionID }
	// Pong 探测得到回应
	Pong struct{ ID SessionID }
	// Sweep 周期性探活
	Sweep struct{}
	// Deliver 推送给 Owner 的所有连接
	Deliver struct {
		Owner string
		Data  []byte
		Kind  string
	}
	// Broadcast 推送给所有连接
	Broadcast struct {
		Data []byte
		Kind string
	}
)

func (Connected) event()     {}
func (Authenticated) event() {}
func (AuthFailed) event()    {}
func (Closed) event()        {}
func (Pong) event()          {}
func (Sweep) event()         {}
func (Deliver) event()       {}
func (Broadcast) event()     {}

// Effect is an action the runtime performs on a connection.
type Effect interface{ effect() }

type (
	SendEffect struct {
		ID   SessionID
		Data []byte
		Kind string
	}
	PingEffect  struct{ ID SessionID }
	CloseEffect struct {
		ID     SessionID
		Reason string
	}
)

func (SendEffect) effect()  {}
func (PingEffect) effect()  {}
func (CloseEffect) effect() {}

// Registry is the connection ownership map. Apply is a deterministic
// transition; it is not safe for concurrent use.
type Registry struct {
	sessions map[SessionID]*Session
	owners   map[string]map[SessionID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]*Session),
		owners:   make(map[string]map[SessionID]struct{}),
	}
}

// Apply 处理一个事件并返回需要执行的副作用
func (r *Registry) Apply(ev Event) []Effect {
	switch e := ev.(type) {
	case Connected:
		if _, exists := r.sessions[e.ID]; exists {
			return nil
		}
		r.sessions[e.ID] = &Session{ID: e.ID, State: StateConnected, Alive: true}
		return nil

	case Authenticated:
		s, ok := r.sessions[e.ID]
		if !ok {
			return nil
		}
		if s.State == StateAuthenticated && s.Owner != e.Owner {
			r.detach(s)
		}
		s.Owner = e.Owner
		s.State = StateAuthenticated
		set, ok := r.owners[e.Owner]
		if !ok {
			set = make(map[SessionID]struct{})
			r.owners[e.Owner] = set
		}
		set[e.ID] = struct{}{}
		return []Effect{SendEffect{ID: e.ID, Data: mustJSON(ws.AuthReply{Type: ws.TypeAuthSuccess, Email: e.Owner}), Kind: ws.TypeAuthSuccess}}

	case AuthFailed:
		if _, ok := r.sessions[e.ID]; !ok {
			return nil
		}
		return []Effect{SendEffect{ID: e.ID, Data: mustJSON(ws.AuthReply{Type: ws.TypeAuthError, Message: e.Reason}), Kind: ws.TypeAuthError}}

	case Closed:
		r.remove(e.ID)
		return nil

	case Pong:
		if s, ok := r.sessions[e.ID]; ok {
			s.Alive = true
		}
		return nil

	case Sweep:
		var effects []Effect
		for _, id := range r.ids() {
			s := r.sessions[id]
			if !s.Alive {
				r.remove(id)
				effects = append(effects, CloseEffect{ID: id, Reason: "liveness probe unanswered"})
				continue
			}
			s.Alive = false
			effects = append(effects, PingEffect{ID: id})
		}
		return effects

	case Deliver:
		set := r.owners[e.Owner]
		if len(set) == 0 {
			return nil
		}
		ids := make([]SessionID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sortIDs(ids)
		effects := make([]Effect, 0, len(ids))
		for _, id := range ids {
			effects = append(effects, SendEffect{ID: id, Data: e.Data, Kind: e.Kind})
		}
		return effects

	case Broadcast:
		ids := r.ids()
		effects := make([]Effect, 0, len(ids))
		for _, id := range ids {
			effects = append(effects, SendEffect{ID: id, Data: e.Data, Kind: e.Kind})
		}
		return effects
	}
	return nil
}

// Session returns a copy of the session. Closed sessions are gone.
func (r *Registry) Session(id SessionID) (Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return Session{ID: id, State: StateClosed}, false
	}
	return *s, true
}

// Owners 当前有连接的用户，已排序
func (r *Registry) Owners() []string {
	out := make([]string, 0, len(r.owners))
	for owner := range r.owners {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out
}

// OwnerConnections 某个用户的连接数
func (r *Registry) OwnerConnections(owner string) int {
	return len(r.owners[owner])
}

func (r *Registry) Count() int {
	return len(r.sessions)
}

func (r *Registry) remove(id SessionID) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	r.detach(s)
	s.State = StateClosed
	delete(r.sessions, id)
}

func (r *Registry) detach(s *Session) {
	if s.Owner == "" {
		return
	}
	if set, ok := r.owners[s.Owner]; ok {
		delete(set, s.ID)
		if len(set) == 0 {
			delete(r.owners, s.Owner)
		}
	}
}

func (r *Registry) ids() []SessionID {
	ids := make([]SessionID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []SessionID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
