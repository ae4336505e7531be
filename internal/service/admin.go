package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sitechat/wa-relay-go/internal/model"
	"github.com/sitechat/wa-relay-go/internal/repository"
	"github.com/sitechat/wa-relay-go/internal/util"
)

const adminSessionTTL = 24 * time.Hour

// LoginMeta is recorded with each console session.
type LoginMeta struct {
	IP        string
	UserAgent string
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
}

// AdminService manages operator console sessions. The console is disabled
// when no password hash is configured. Only an HMAC of each token is stored.
type AdminService struct {
	sessionRepo   repository.AdminSessionRepository
	passwordHash  string
	sessionSecret string
	now           func() time.Time
}

func NewAdminService(sessionRepo repository.AdminSessionRepository, passwordHash, sessionSecret string) *AdminService {
	return &AdminService{
		sessionRepo:   sessionRepo,
		passwordHash:  passwordHash,
		sessionSecret: sessionSecret,
		now:           time.Now,
	}
}

func (s *AdminService) Enabled() bool {
	return s.passwordHash != ""
}

func (s *AdminService) tokenHash(token string) string {
	return util.HmacSHA256(s.sessionSecret, token)
}

// Login opens a session. A wrong password yields a nil result and no error.
func (s *AdminService) Login(ctx context.Context, password string, meta LoginMeta) (*LoginResult, error) {
	if !s.Enabled() || !util.CheckPasswordHash(password, s.passwordHash) {
		return nil, nil
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	expiresAt := s.now().Add(adminSessionTTL)
	if _, err := s.sessionRepo.Create(ctx, model.CreateAdminSessionParams{
		TokenHash: s.tokenHash(token),
		ClientIP:  optional(meta.IP),
		UserAgent: optional(meta.UserAgent),
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("create admin session: %w", err)
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt}, nil
}

func (s *AdminService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessionRepo.DeleteByTokenHash(ctx, s.tokenHash(token))
}

// Session resolves a cookie token to its live session, or nil.
func (s *AdminService) Session(ctx context.Context, token string) (*model.AdminSession, error) {
	if token == "" {
		return nil, nil
	}
	session, err := s.sessionRepo.FindByTokenHash(ctx, s.tokenHash(token))
	if err != nil {
		return nil, fmt.Errorf("find admin session: %w", err)
	}
	return session, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
