package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"jobinbox/contracts/db"
	"jobinbox/internal/credential"
	"jobinbox/internal/mailbox"
	"jobinbox/pkg/logger"
	"jobinbox/pkg/rbac"
	"jobinbox/pkg/util"
)

var (
	ErrMissingCode   = errors.New("missing authorization code")
	ErrCodeExchange  = errors.New("authorization code exchange failed")
	ErrProfileLookup = errors.New("failed to read google profile")
)

// TokenExchanger 由 *oauth2.Config 实现
type TokenExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// Profile Google 账号资料
type Profile struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

type ProfileFetcher interface {
	FetchProfile(ctx context.Context, tok *oauth2.Token) (*Profile, error)
}

type CredentialWriter interface {
	PutProfile(ctx context.Context, c credential.Credential, name, picture string) error
}

type WatchRegistrar interface {
	RegisterChangeWatch(ctx context.Context, cred credential.Credential, topic string) (*mailbox.WatchHandle, error)
}

type UserLookup interface {
	FindByEmail(ctx context.Context, email string) (*db.User, error)
}

type ActionLookup interface {
	CompletedActions(ctx context.Context, owner string) map[string]bool
}

// GoogleProfiles reads the userinfo endpoint with the exchanged token.
type GoogleProfiles struct {
	oauth *oauth2.Config
	opts  []option.ClientOption
}

func NewGoogleProfiles(oauth *oauth2.Config, opts ...option.ClientOption) *GoogleProfiles {
	return &GoogleProfiles{oauth: oauth, opts: opts}
}

func (g *GoogleProfiles) FetchProfile(ctx context.Context, tok *oauth2.Token) (*Profile, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(g.oauth.TokenSource(ctx, tok))}, g.opts...)
	svc, err := googleoauth.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return &Profile{Email: info.Email, Name: info.Name, Picture: info.Picture}, nil
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	// 为空时登录不注册推送
	Topic string
}

// LoginResult 登录成功后的会话信息
type LoginResult struct {
	Token   string               `json:"token"`
	Profile Profile              `json:"user"`
	Role    string               `json:"role"`
	Watch   *mailbox.WatchHandle `json:"watch,omitempty"`
}

// Me /auth/me 的返回
type Me struct {
	Email            string          `json:"email"`
	Name             string          `json:"name,omitempty"`
	Picture          string          `json:"picture,omitempty"`
	Role             string          `json:"role"`
	CompletedActions map[string]bool `json:"completedActions"`
}

// AuthService Google 登录、凭证保存和会话签发
type AuthService struct {
	oauth    TokenExchanger
	profiles ProfileFetcher
	creds    CredentialWriter
	watches  WatchRegistrar
	users    UserLookup
	actions  ActionLookup
	authz    *rbac.Authorizer
	cfg      AuthConfig
	logger   *zap.Logger
}

// NewAuthService users 可为 nil（未配置数据库）
func NewAuthService(
	oauth TokenExchanger,
	profiles ProfileFetcher,
	creds CredentialWriter,
	watches WatchRegistrar,
	users UserLookup,
	actions ActionLookup,
	authz *rbac.Authorizer,
	cfg AuthConfig,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		oauth:    oauth,
		profiles: profiles,
		creds:    creds,
		watches:  watches,
		users:    users,
		actions:  actions,
		authz:    authz,
		cfg:      cfg,
		logger:   logger,
	}
}

// AuthURL 返回 Google 授权页地址，请求离线访问以拿到 refresh token
func (s *AuthService) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Login exchanges the authorization code, stores the owner's tokens,
// registers the inbox change watch and issues a session token.
func (s *AuthService) Login(ctx context.Context, code string) (*LoginResult, error) {
	if code == "" {
		return nil, ErrMissingCode
	}
	log := logger.WithTrace(ctx, s.logger)

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeExchange, err)
	}
	profile, err := s.profiles.FetchProfile(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileLookup, err)
	}
	if profile.Email == "" {
		return nil, fmt.Errorf("%w: no email in profile", ErrProfileLookup)
	}

	cred := credential.FromToken(profile.Email, tok)
	if err := s.creds.PutProfile(ctx, cred, profile.Name, profile.Picture); err != nil {
		return nil, fmt.Errorf("store credentials: %w", err)
	}

	var watch *mailbox.WatchHandle
	if s.cfg.Topic != "" {
		watch, err = s.watches.RegisterChangeWatch(ctx, cred, s.cfg.Topic)
		if err != nil {
			log.Warn("Failed to register inbox change watch",
				zap.String("owner", profile.Email),
				zap.Error(err),
			)
		} else {
			log.Info("Inbox change watch registered",
				zap.String("owner", profile.Email),
				zap.Uint64("history_id", watch.HistoryID),
				zap.Time("expiration", watch.Expiration),
			)
		}
	}

	role := s.authz.RoleOf(profile.Email)
	token, err := util.GenerateJWT(profile.Email, role, s.cfg.JWTSecret, s.cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	log.Info("User logged in", zap.String("owner", profile.Email), zap.String("role", role))
	return &LoginResult{Token: token, Profile: *profile, Role: role, Watch: watch}, nil
}

// Me 当前用户资料和已完成的行动项
func (s *AuthService) Me(ctx context.Context, owner string) *Me {
	me := &Me{
		Email:            owner,
		Role:             s.authz.RoleOf(owner),
		CompletedActions: s.actions.CompletedActions(ctx, owner),
	}
	if s.users == nil {
		return me
	}
	u, err := s.users.FindByEmail(ctx, owner)
	if err != nil {
		logger.WithTrace(ctx, s.logger).Debug("Profile lookup failed", zap.String("owner", owner), zap.Error(err))
		return me
	}
	me.Name = u.Name
	me.Picture = u.Picture
	return me
}
