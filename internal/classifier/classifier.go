// Package classifier assigns taxonomy categories to messages through a
// language-model provider, in paced sub-batches with a retry policy.
// It never fails: every input gets exactly one result.
package classifier

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"jobinbox/internal/taxonomy"
	"jobinbox/pkg/logger"
	"jobinbox/pkg/metrics"
	"jobinbox/pkg/otel"
	"jobinbox/pkg/util"
)

const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = 500 * time.Millisecond

	fallbackMarker = "categorization failed"
)

// Provider is a language-model completion endpoint.
type Provider interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Excerpt is the message content sent for classification.
type Excerpt struct {
	Sender  string
	Subject string
	Snippet string
	Body    string
}

// Result is the classification of one message. Error is set when the
// result is a default produced by a failed provider call.
type Result struct {
	Category     taxonomy.Category `json:"category"`
	Confidence   float64           `json:"confidence"`
	Company      *string           `json:"company"`
	ActionNeeded *string           `json:"actionNeeded"`
	Error        string            `json:"error,omitempty"`
}

type Config struct {
	BatchSize  int
	BatchDelay time.Duration
	Policy     RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		BatchSize:  DefaultBatchSize,
		BatchDelay: DefaultBatchDelay,
		Policy:     DefaultRetryPolicy(),
	}
}

type Classifier struct {
	provider Provider
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Classifier)

// WithSleep replaces the wait used for pacing and backoff.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Classifier) { c.sleep = fn }
}

func New(provider Provider, cfg Config, logger *zap.Logger, opts ...Option) *Classifier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Policy.MaxAttempts == 0 && cfg.Policy.Retryable == nil {
		cfg.Policy = DefaultRetryPolicy()
	}
	c := &Classifier{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns one result per message, in input order.
func (c *Classifier) Classify(ctx context.Context, messages []Excerpt) []Result {
	results := make([]Result, 0, len(messages))
	if len(messages) == 0 {
		return results
	}

	for start, batchIndex := 0, 0; start < len(messages); start, batchIndex = start+c.cfg.BatchSize, batchIndex+1 {
		if start > 0 && c.cfg.BatchDelay > 0 {
			if err := c.sleep(ctx, c.cfg.BatchDelay); err != nil {
				logger.WithTrace(ctx, c.logger).Warn("Inter-batch pause interrupted", zap.Error(err))
			}
		}
		end := start + c.cfg.BatchSize
		if end > len(messages) {
			end = len(messages)
		}
		results = append(results, c.classifyBatch(ctx, messages[start:end], batchIndex)...)
	}
	return results
}

// ClassifyOne classifies a singleton batch.
func (c *Classifier) ClassifyOne(ctx context.Context, m Excerpt) Result {
	return c.Classify(ctx, []Excerpt{m})[0]
}

func (c *Classifier) classifyBatch(ctx context.Context, batch []Excerpt, batchIndex int) []Result {
	ctx, span := otel.StartSpan(ctx, "classifier.batch")
	span.SetAttributes(
		attribute.Int("classifier.batch_index", batchIndex),
		attribute.Int("classifier.batch_size", len(batch)),
	)
	defer span.End()

	log := logger.WithTrace(ctx, c.logger).With(zap.Int("batch_index", batchIndex), zap.Int("batch_size", len(batch)))
	prompt := BuildPrompt(batch)

	var lastErr error
	for attempt := 0; ; attempt++ {
		text, err := c.provider.Complete(ctx, prompt)
		if err == nil {
			results, defaulted, perr := ParseResponse(text, len(batch))
			if perr == nil {
				metrics.IncrementClassification("ok", len(batch)-defaulted)
				metrics.IncrementClassification("defaulted", defaulted)
				if defaulted > 0 {
					log.Warn("Classifier reply missing or invalid entries, defaulted",
						zap.Int("defaulted", defaulted),
					)
				}
				return results
			}
			// A malformed reply is not retried.
			lastErr = perr
			break
		}

		lastErr = err
		delay, retry := c.cfg.Policy.ShouldRetry(attempt, err)
		_, errType := util.IsRetryableError(err)
		if !retry {
			log.Error("Classifier provider call failed",
				zap.Int("attempt", attempt+1),
				zap.String("error_type", errType),
				zap.Error(err),
			)
			break
		}

		log.Warn("Classifier provider rate limited, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.cfg.Policy.MaxAttempts),
			zap.Duration("delay", delay),
		)
		if serr := c.sleep(ctx, delay); serr != nil {
			lastErr = serr
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "sub-batch degraded")
	metrics.IncrementClassification("failed", len(batch))

	marker := fallbackMarker
	if lastErr != nil {
		marker = lastErr.Error()
	}
	results := make([]Result, len(batch))
	for i := range results {
		results[i] = defaultResult(marker)
	}
	return results
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
