package mailbox

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"jobinbox/internal/credential"
	"jobinbox/pkg/config"
	"jobinbox/pkg/logger"
	"jobinbox/pkg/util"
)

const (
	userID = "me"

	// DefaultFetchConcurrency 并发获取邮件详情的上限
	DefaultFetchConcurrency = 5
)

var DefaultScopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailLabelsScope,
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// NewOAuthConfig 构建 Google OAuth2 配置
func NewOAuthConfig(cfg config.GoogleConfig) *oauth2.Config {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint:     endpoints.Google,
	}
}

// Gmail implements Provider on the Gmail REST API.
type Gmail struct {
	oauth       *oauth2.Config
	logger      *zap.Logger
	concurrency int
	onRefresh   func(ctx context.Context, c credential.Credential)

	// test hooks
	endpoint   string
	httpClient *http.Client
}

type GmailOption func(*Gmail)

// WithTokenRefreshHook is called when the token source hands out a new access
// token, so the caller can persist it.
func WithTokenRefreshHook(fn func(ctx context.Context, c credential.Credential)) GmailOption {
	return func(g *Gmail) { g.onRefresh = fn }
}

// WithFetchConcurrency 设置并发获取上限
func WithFetchConcurrency(n int) GmailOption {
	return func(g *Gmail) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithEndpoint points the client at another API host with a plain HTTP client.
func WithEndpoint(endpoint string, client *http.Client) GmailOption {
	return func(g *Gmail) {
		g.endpoint = endpoint
		g.httpClient = client
	}
}

func NewGmail(oauth *oauth2.Config, logger *zap.Logger, opts ...GmailOption) *Gmail {
	g := &Gmail{
		oauth:       oauth,
		logger:      logger,
		concurrency: DefaultFetchConcurrency,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gmail) service(ctx context.Context, cred credential.Credential) (*gmail.Service, error) {
	if g.httpClient != nil {
		return gmail.NewService(ctx, option.WithHTTPClient(g.httpClient), option.WithEndpoint(g.endpoint))
	}
	ts := g.oauth.TokenSource(ctx, cred.Token())
	if g.onRefresh != nil {
		ts = &refreshNotifier{base: ts, cred: cred, ctx: ctx, notify: g.onRefresh}
	}
	return gmail.NewService(ctx, option.WithTokenSource(ts))
}

// ListRecentMessages 列出收件箱最近的 max 封邮件
func (g *Gmail) ListRecentMessages(ctx context.Context, cred credential.Credential, max int) ([]MessageRef, error) {
	page, err := g.ListPage(ctx, cred, max, "")
	if err != nil {
		return nil, err
	}
	return page.Refs, nil
}

func (g *Gmail) ListPage(ctx context.Context, cred credential.Credential, max int, pageToken string) (*Page, error) {
	svc, err := g.service(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("gmail client: %w", err)
	}
	call := svc.Users.Messages.List(userID).LabelIds(InboxLabel).MaxResults(int64(max)).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	page := &Page{Refs: make([]MessageRef, 0, len(resp.Messages)), NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.Refs = append(page.Refs, MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return page, nil
}

// GetMessage 获取单封邮件；metadata 格式只取 From/Subject/Date 头
func (g *Gmail) GetMessage(ctx context.Context, cred credential.Credential, id string, format Format) (*Message, error) {
	svc, err := g.service(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("gmail client: %w", err)
	}
	return g.getMessage(ctx, svc, cred.Owner, id, format)
}

func (g *Gmail) getMessage(ctx context.Context, svc *gmail.Service, owner, id string, format Format) (*Message, error) {
	call := svc.Users.Messages.Get(userID, id).Format(string(format)).Context(ctx)
	if format == FormatMetadata {
		call = call.MetadataHeaders("From", "Subject", "Date")
	}
	m, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	out := toMessage(owner, m)
	if format == FormatFull {
		out.Body = extractBody(m.Payload)
	}
	return out, nil
}

// FetchRecent lists the newest inbox messages and loads their metadata
// concurrently. Messages that fail to load are logged and left out.
func (g *Gmail) FetchRecent(ctx context.Context, cred credential.Credential, max int) ([]Message, error) {
	page, err := g.ListPage(ctx, cred, max, "")
	if err != nil {
		return nil, err
	}
	return g.FetchRefs(ctx, cred, page.Refs)
}

// FetchRefs loads metadata for refs, preserving their order.
func (g *Gmail) FetchRefs(ctx context.Context, cred credential.Credential, refs []MessageRef) ([]Message, error) {
	if len(refs) == 0 {
		return []Message{}, nil
	}
	svc, err := g.service(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("gmail client: %w", err)
	}

	slots := make([]*Message, len(refs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, ref := range refs {
		eg.Go(func() error {
			m, err := g.getMessage(egCtx, svc, cred.Owner, ref.ID, FormatMetadata)
			if err != nil {
				_, errType := util.IsRetryableError(err)
				logger.WithTrace(ctx, g.logger).Warn("Failed to fetch message, skipping",
					zap.String("owner", cred.Owner),
					zap.String("message_id", ref.ID),
					zap.String("error_type", errType),
					zap.Error(err),
				)
				return nil
			}
			if m.ThreadID == "" {
				m.ThreadID = ref.ThreadID
			}
			slots[i] = m
			return nil
		})
	}
	_ = eg.Wait()

	out := make([]Message, 0, len(refs))
	for _, m := range slots {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// RegisterChangeWatch 为收件箱注册 Pub/Sub 推送
func (g *Gmail) RegisterChangeWatch(ctx context.Context, cred credential.Credential, topic string) (*WatchHandle, error) {
	if topic == "" {
		return nil, ErrNoTopic
	}
	svc, err := g.service(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("gmail client: %w", err)
	}
	resp, err := svc.Users.Watch(userID, &gmail.WatchRequest{
		TopicName: topic,
		LabelIds:  []string{InboxLabel},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("watch mailbox: %w", err)
	}
	return &WatchHandle{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration),
	}, nil
}

// Profile returns the mailbox address the credential belongs to.
func (g *Gmail) Profile(ctx context.Context, cred credential.Credential) (string, error) {
	svc, err := g.service(ctx, cred)
	if err != nil {
		return "", fmt.Errorf("gmail client: %w", err)
	}
	p, err := svc.Users.GetProfile(userID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	return p.EmailAddress, nil
}

// refreshNotifier reports access tokens that differ from the stored one.
type refreshNotifier struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	cred   credential.Credential
	ctx    context.Context
	notify func(ctx context.Context, c credential.Credential)
}

func (r *refreshNotifier) Token() (*oauth2.Token, error) {
	t, err := r.base.Token()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.AccessToken != r.cred.AccessToken {
		fresh := credential.FromToken(r.cred.Owner, t)
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = r.cred.RefreshToken
		}
		r.cred = fresh
		r.notify(context.WithoutCancel(r.ctx), fresh)
	}
	return t, nil
}
