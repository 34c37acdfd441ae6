// Package credential stores the OAuth tokens each mailbox owner granted.
package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

var ErrNotFound = errors.New("credential not found")

// Credential 某个邮箱用户的 OAuth 令牌
type Credential struct {
	Owner        string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Token 转换为 oauth2.Token，供 Gmail 客户端使用
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.Expiry,
	}
}

// FromToken builds a credential for owner from an exchanged token.
func FromToken(owner string, t *oauth2.Token) Credential {
	return Credential{
		Owner:        owner,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// Store 凭证存储。Get 在不存在时返回 ErrNotFound。
type Store interface {
	Get(ctx context.Context, owner string) (*Credential, error)
	Put(ctx context.Context, c Credential) error
}

// MemoryStore 进程内凭证存储
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]Credential)}
}

func (s *MemoryStore) Get(_ context.Context, owner string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[owner]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) Put(_ context.Context, c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.creds[c.Owner]; ok && c.RefreshToken == "" {
		c.RefreshToken = prev.RefreshToken
	}
	s.creds[c.Owner] = c
	return nil
}
