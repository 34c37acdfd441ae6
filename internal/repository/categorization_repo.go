package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"jobinbox/contracts/db"
	"jobinbox/internal/taxonomy"
	"jobinbox/pkg/logger"
	"jobinbox/pkg/metrics"
	"jobinbox/pkg/otel"
	"jobinbox/pkg/util"
)

const assignmentColumns = `message_id, owner, thread_id, sender, subject, snippet, received_at,
        category, confidence, company, action_needed, relevance_score,
        is_action_complete, manual, updated_at`

// PostgresCategorizationRepository 基于 emails 表的 CategorizationStore 实现
type PostgresCategorizationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresCategorizationRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresCategorizationRepository {
	return &PostgresCategorizationRepository{db: pool, logger: logger}
}

// Available 连接池是否已配置
func (r *PostgresCategorizationRepository) Available() bool {
	return r != nil && r.db != nil
}

// Upsert inserts or merges one assignment keyed by (message_id, owner).
func (r *PostgresCategorizationRepository) Upsert(ctx context.Context, a db.Assignment) *db.Assignment {
	if !r.Available() {
		return nil
	}
	query := `
        INSERT INTO emails (
            message_id, owner, thread_id, sender, subject, snippet, received_at,
            category, confidence, company, action_needed, relevance_score, updated_at
        )
        VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7,
                $8, $9, $10, $11, $12, NOW())
        ON CONFLICT (message_id, owner)
        DO UPDATE SET
            thread_id = COALESCE(emails.thread_id, EXCLUDED.thread_id),
            sender = COALESCE(emails.sender, EXCLUDED.sender),
            subject = COALESCE(emails.subject, EXCLUDED.subject),
            snippet = COALESCE(emails.snippet, EXCLUDED.snippet),
            received_at = COALESCE(emails.received_at, EXCLUDED.received_at),
            category = COALESCE(EXCLUDED.category, emails.category),
            confidence = COALESCE(EXCLUDED.confidence, emails.confidence),
            company = COALESCE(EXCLUDED.company, emails.company),
            action_needed = COALESCE(EXCLUDED.action_needed, emails.action_needed),
            relevance_score = COALESCE(EXCLUDED.relevance_score, emails.relevance_score),
            manual = CASE WHEN EXCLUDED.category IS NULL THEN emails.manual ELSE FALSE END,
            updated_at = NOW()
        RETURNING ` + assignmentColumns

	ctx, done := r.observe(ctx, "upsert")
	row := r.db.QueryRow(ctx, query,
		a.MessageID, a.Owner, a.ThreadID, a.Sender, a.Subject, a.Snippet, nullableTime(a.ReceivedAt),
		categoryParam(a.Category), a.Confidence, a.Company, a.ActionNeeded, a.RelevanceScore,
	)
	stored, err := scanAssignment(row)
	done(err)
	if err != nil {
		r.logFault(ctx, "upsert", err, zap.String("message_id", a.MessageID))
		return nil
	}
	return stored
}

// MergeGet returns the stored assignments among ids for owner.
func (r *PostgresCategorizationRepository) MergeGet(ctx context.Context, ids []string, owner string) map[string]db.Assignment {
	out := make(map[string]db.Assignment)
	if !r.Available() || len(ids) == 0 {
		return out
	}
	query := `
        SELECT ` + assignmentColumns + `
        FROM emails
        WHERE message_id = ANY($1) AND owner = $2
    `
	ctx, done := r.observe(ctx, "merge_get")
	rows, err := r.db.Query(ctx, query, ids, owner)
	if err != nil {
		done(err)
		r.logFault(ctx, "merge_get", err)
		return out
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			done(err)
			r.logFault(ctx, "merge_get", err)
			return make(map[string]db.Assignment)
		}
		out[a.MessageID] = *a
	}
	err = rows.Err()
	done(err)
	if err != nil {
		r.logFault(ctx, "merge_get", err)
		return make(map[string]db.Assignment)
	}
	return out
}

// SetCategory 手动覆盖分类，记录不存在时创建
func (r *PostgresCategorizationRepository) SetCategory(ctx context.Context, id, owner string, category taxonomy.Category) *db.Assignment {
	if !r.Available() {
		return nil
	}
	query := `
        INSERT INTO emails (message_id, owner, category, confidence, manual, updated_at)
        VALUES ($1, $2, $3, 1.0, TRUE, NOW())
        ON CONFLICT (message_id, owner)
        DO UPDATE SET
            category = EXCLUDED.category,
            confidence = 1.0,
            manual = TRUE,
            updated_at = NOW()
        RETURNING ` + assignmentColumns

	ctx, done := r.observe(ctx, "set_category")
	stored, err := scanAssignment(r.db.QueryRow(ctx, query, id, owner, string(category)))
	done(err)
	if err != nil {
		r.logFault(ctx, "set_category", err, zap.String("message_id", id))
		return nil
	}
	return stored
}

// ToggleActionComplete 翻转完成标记并返回新值；记录不存在时返回 nil
func (r *PostgresCategorizationRepository) ToggleActionComplete(ctx context.Context, id, owner string) *bool {
	if !r.Available() {
		return nil
	}
	query := `
        UPDATE emails
        SET is_action_complete = NOT is_action_complete, updated_at = NOW()
        WHERE message_id = $1 AND owner = $2
        RETURNING is_action_complete
    `
	ctx, done := r.observe(ctx, "toggle_action")
	var complete bool
	err := r.db.QueryRow(ctx, query, id, owner).Scan(&complete)
	done(err)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logFault(ctx, "toggle_action", err, zap.String("message_id", id))
		}
		return nil
	}
	return &complete
}

// ListCategorized returns owner's categorized emails, newest first.
func (r *PostgresCategorizationRepository) ListCategorized(ctx context.Context, owner string, opts ListOptions) []db.Assignment {
	out := []db.Assignment{}
	if !r.Available() {
		return out
	}
	query := `
        SELECT ` + assignmentColumns + `
        FROM emails
        WHERE owner = $1
          AND category IS NOT NULL
          AND ($2::text IS NULL OR category = $2)
        ORDER BY received_at DESC NULLS LAST, updated_at DESC
        LIMIT $3
    `
	ctx, done := r.observe(ctx, "list_categorized")
	rows, err := r.db.Query(ctx, query, owner, categoryParam(opts.Category), opts.limit())
	if err != nil {
		done(err)
		r.logFault(ctx, "list_categorized", err)
		return out
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			done(err)
			r.logFault(ctx, "list_categorized", err)
			return []db.Assignment{}
		}
		out = append(out, *a)
	}
	err = rows.Err()
	done(err)
	if err != nil {
		r.logFault(ctx, "list_categorized", err)
		return []db.Assignment{}
	}
	return out
}

// CompletedActions 返回已完成的邮件 id 集合
func (r *PostgresCategorizationRepository) CompletedActions(ctx context.Context, owner string) map[string]bool {
	out := make(map[string]bool)
	if !r.Available() {
		return out
	}
	query := `
        SELECT message_id
        FROM emails
        WHERE owner = $1 AND is_action_complete = TRUE
    `
	ctx, done := r.observe(ctx, "completed_actions")
	rows, err := r.db.Query(ctx, query, owner)
	if err != nil {
		done(err)
		r.logFault(ctx, "completed_actions", err)
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			done(err)
			r.logFault(ctx, "completed_actions", err)
			return make(map[string]bool)
		}
		out[id] = true
	}
	err = rows.Err()
	done(err)
	return out
}

// observe 为一次查询开启 span 并在结束时记录耗时
func (r *PostgresCategorizationRepository) observe(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.DBSpan(ctx, op, "emails")
	return ctx, func(err error) {
		metrics.RecordDBQueryDuration(op, "emails", time.Since(start))
		otel.EndDBSpan(span, err)
	}
}

func (r *PostgresCategorizationRepository) logFault(ctx context.Context, op string, err error, fields ...zap.Field) {
	_, errType := util.IsRetryableError(err)
	fields = append(fields,
		zap.String("operation", op),
		zap.String("error_type", errType),
		zap.Error(err),
	)
	logger.WithTrace(ctx, r.logger).Warn("Categorization store unavailable, degrading", fields...)
}

func scanAssignment(row pgx.Row) (*db.Assignment, error) {
	var (
		a                                  db.Assignment
		threadID, sender, subject, snippet *string
		receivedAt                         *time.Time
		category                           *string
	)
	err := row.Scan(
		&a.MessageID,
		&a.Owner,
		&threadID,
		&sender,
		&subject,
		&snippet,
		&receivedAt,
		&category,
		&a.Confidence,
		&a.Company,
		&a.ActionNeeded,
		&a.RelevanceScore,
		&a.IsActionComplete,
		&a.Manual,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ThreadID = deref(threadID)
	a.Sender = deref(sender)
	a.Subject = deref(subject)
	a.Snippet = deref(snippet)
	if receivedAt != nil {
		a.ReceivedAt = *receivedAt
	}
	if category != nil {
		c := taxonomy.Category(*category)
		a.Category = &c
	}
	return &a, nil
}

func categoryParam(c *taxonomy.Category) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
