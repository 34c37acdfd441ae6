package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobinbox/contracts/db"
	"jobinbox/pkg/metrics"
	"jobinbox/pkg/otel"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Available 连接池是否已配置
func (r *UserRepository) Available() bool {
	return r != nil && r.db != nil
}

// UpsertUser inserts the user or refreshes profile and tokens.
func (r *UserRepository) UpsertUser(ctx context.Context, u *db.User) error {
	query := `
        INSERT INTO users (email, name, picture, access_token, refresh_token, token_expiry, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        ON CONFLICT (email)
        DO UPDATE SET
            name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
            picture = COALESCE(NULLIF(EXCLUDED.picture, ''), users.picture),
            access_token = EXCLUDED.access_token,
            refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), users.refresh_token),
            token_expiry = EXCLUDED.token_expiry,
            updated_at = NOW()
        RETURNING id, created_at, updated_at
    `
	start := time.Now()
	ctx, span := otel.DBSpan(ctx, "upsert", "users")
	err := r.db.QueryRow(ctx, query,
		u.Email, u.Name, u.Picture, u.AccessToken, u.RefreshToken, u.TokenExpiry,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	metrics.RecordDBQueryDuration("upsert", "users", time.Since(start))
	otel.EndDBSpan(span, err)
	return err
}

// FindByEmail returns user by email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*db.User, error) {
	query := `
        SELECT id, email, COALESCE(name, ''), COALESCE(picture, ''),
               COALESCE(access_token, ''), COALESCE(refresh_token, ''), token_expiry,
               created_at, updated_at
        FROM users
        WHERE email = $1
    `
	start := time.Now()
	ctx, span := otel.DBSpan(ctx, "select", "users")
	var u db.User
	err := r.db.QueryRow(ctx, query, email).Scan(
		&u.ID, &u.Email, &u.Name, &u.Picture,
		&u.AccessToken, &u.RefreshToken, &u.TokenExpiry,
		&u.CreatedAt, &u.UpdatedAt,
	)
	metrics.RecordDBQueryDuration("select", "users", time.Since(start))
	otel.EndDBSpan(span, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
