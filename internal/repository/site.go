package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/sitechat/wa-relay-go/internal/model"
)

type SiteRepository interface {
	Create(ctx context.Context, params model.CreateSiteParams) (*model.Site, error)
	FindByCode(ctx context.Context, code string) (*model.Site, error)
	FindByID(ctx context.Context, id string) (*model.Site, error)
	FindAll(ctx context.Context) ([]model.Site, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
}

type siteRepo struct {
	db *sqlx.DB
}

func NewSiteRepository(db *sqlx.DB) SiteRepository {
	return &siteRepo{db: db}
}

func (r *siteRepo) Create(ctx context.Context, params model.CreateSiteParams) (*model.Site, error) {
	var site model.Site
	err := r.db.GetContext(ctx, &site, `
		INSERT INTO sites (code, operator_phone, display_name)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.Code, params.OperatorPhone, params.DisplayName)
	if err != nil {
		return nil, translateInsertError(err)
	}
	return &site, nil
}

func (r *siteRepo) FindByCode(ctx context.Context, code string) (*model.Site, error) {
	var site model.Site
	err := r.db.GetContext(ctx, &site, `SELECT * FROM sites WHERE code = $1`, code)
	return HandleNotFound(&site, err)
}

func (r *siteRepo) FindByID(ctx context.Context, id string) (*model.Site, error) {
	var site model.Site
	err := r.db.GetContext(ctx, &site, `SELECT * FROM sites WHERE id = $1`, id)
	return HandleNotFound(&site, err)
}

func (r *siteRepo) FindAll(ctx context.Context) ([]model.Site, error) {
	var sites []model.Site
	err := r.db.SelectContext(ctx, &sites, `SELECT * FROM sites ORDER BY created_at DESC`)
	return sites, err
}

func (r *siteRepo) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM sites WHERE code = $1)`, code)
	return exists, err
}
