package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sitechat/wa-relay-go/internal/correlation"
	apperrors "github.com/sitechat/wa-relay-go/internal/errors"
	"github.com/sitechat/wa-relay-go/internal/model"
	"github.com/sitechat/wa-relay-go/internal/repository"
)

const (
	// siteCodeAlphabet leaves out characters that are easy to misread.
	siteCodeAlphabet   = "abcdefghijkmnopqrstuvwxyz23456789"
	siteCodeLength     = 8
	maxCodeGenAttempts = 10
)

type CreateSiteParams struct {
	OperatorPhone string
	DisplayName   *string
}

type SiteService struct {
	repo       repository.SiteRepository
	normalizer correlation.Normalizer
}

func NewSiteService(repo repository.SiteRepository, normalizer correlation.Normalizer) *SiteService {
	return &SiteService{repo: repo, normalizer: normalizer}
}

func (s *SiteService) Create(ctx context.Context, params CreateSiteParams) (*model.Site, error) {
	phone := s.normalizer.Normalize(params.OperatorPhone)
	if len(correlation.Digits(phone)) < 8 {
		return nil, apperrors.InvalidInput("operatorPhone", "must contain a full phone number")
	}

	var name *string
	if params.DisplayName != nil {
		if trimmed := strings.TrimSpace(*params.DisplayName); trimmed != "" {
			name = &trimmed
		}
	}

	site, err := s.createWithUniqueCode(ctx, phone, name)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("siteId", site.ID).
		Str("code", site.Code).
		Msg("site created")

	return site, nil
}

func (s *SiteService) List(ctx context.Context) ([]model.Site, error) {
	sites, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

// createWithUniqueCode draws codes until one is free. The insert itself can
// still collide with a concurrent create, which counts as another attempt.
func (s *SiteService) createWithUniqueCode(ctx context.Context, phone string, name *string) (*model.Site, error) {
	for range maxCodeGenAttempts {
		code, err := generateSiteCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		exists, err := s.repo.ExistsByCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("check code existence: %w", err)
		}
		if exists {
			continue
		}

		site, err := s.repo.Create(ctx, model.CreateSiteParams{
			Code:          code,
			OperatorPhone: phone,
			DisplayName:   name,
		})
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create site: %w", err)
		}
		return site, nil
	}
	return nil, apperrors.Internal("failed to generate a unique site code")
}

func generateSiteCode() (string, error) {
	max := big.NewInt(int64(len(siteCodeAlphabet)))
	b := make([]byte, siteCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = siteCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}
