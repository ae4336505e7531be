package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitechat/wa-relay-go/internal/database"
	"github.com/sitechat/wa-relay-go/internal/model"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Open(context.Background(), url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestSite(t *testing.T, repo SiteRepository, phone string) *model.Site {
	t.Helper()
	code := fmt.Sprintf("t%07d", time.Now().UnixNano()%10000000)
	site, err := repo.Create(context.Background(), model.CreateSiteParams{
		Code:          code,
		OperatorPhone: phone,
	})
	require.NoError(t, err)
	return site
}
