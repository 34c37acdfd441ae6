package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jobinbox/contracts/db"
	"jobinbox/internal/repository"
	"jobinbox/pkg/logger"
)

// UserStore is the subset of repository.UserRepository used here.
type UserStore interface {
	UpsertUser(ctx context.Context, u *db.User) error
	FindByEmail(ctx context.Context, email string) (*db.User, error)
}

// PostgresStore 将凭证保存在 users 表，令牌经 Sealer 加密
type PostgresStore struct {
	users  UserStore
	sealer *Sealer
	logger *zap.Logger
}

func NewPostgresStore(users UserStore, sealer *Sealer, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{users: users, sealer: sealer, logger: logger}
}

func (s *PostgresStore) Get(ctx context.Context, owner string) (*Credential, error) {
	u, err := s.users.FindByEmail(ctx, owner)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u.AccessToken == "" && u.RefreshToken == "" {
		return nil, ErrNotFound
	}

	access, err := s.sealer.Open(u.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sealer.Open(u.RefreshToken)
	if err != nil {
		return nil, err
	}
	c := &Credential{Owner: u.Email, AccessToken: access, RefreshToken: refresh}
	if u.TokenExpiry != nil {
		c.Expiry = *u.TokenExpiry
	}
	return c, nil
}

func (s *PostgresStore) Put(ctx context.Context, c Credential) error {
	return s.PutProfile(ctx, c, "", "")
}

// PutProfile stores the credential together with the account's display data.
func (s *PostgresStore) PutProfile(ctx context.Context, c Credential, name, picture string) error {
	access, err := s.sealer.Seal(c.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := s.sealer.Seal(c.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	var expiry *time.Time
	if !c.Expiry.IsZero() {
		expiry = &c.Expiry
	}
	u := &db.User{
		Email:        c.Owner,
		Name:         name,
		Picture:      picture,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenExpiry:  expiry,
	}
	if err := s.users.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	logger.WithTrace(ctx, s.logger).Debug("Credential stored", zap.String("owner", c.Owner), zap.Int("user_id", u.ID))
	return nil
}
