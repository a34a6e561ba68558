package catalogue

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/agentflow/llm"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, rdb
}

func TestCachedCatalogue_ModelProviderLinks_CacheMissThenHit(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	mr, rdb := setupTestRedis(t)
	defer mr.Close()

	mock.ExpectQuery(`SELECT \* FROM "llm_models" WHERE name = \$1`).
		WithArgs("gpt-5").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_enabled"}).AddRow(1, "gpt-5", true))
	mock.ExpectQuery(`SELECT \* FROM "llm_model_providers" WHERE`).
		WithArgs(uint64(1), true).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "llm_id", "provider_id", "remote_model_name", "price_input", "price_output", "max_tokens", "weight", "is_enabled",
		}).AddRow(1, 1, 7, "gpt-5-2026", 0.01, 0.03, 128000, 10, true))

	inner := New(gormDB, zap.NewNop())
	cached := NewCached(inner, rdb, 5*time.Second, zap.NewNop())

	ctx := context.Background()
	links, err := cached.ModelProviderLinks(ctx, "gpt-5")
	require.NoError(t, err)
	require.Len(t, links, 1)

	// Second call must be served from cache: no further gorm query expected.
	links2, err := cached.ModelProviderLinks(ctx, "gpt-5")
	require.NoError(t, err)
	assert.Equal(t, links, links2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedCatalogue_ModelProviderLinks_ExpiresAfterTTL(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	mr, rdb := setupTestRedis(t)
	defer mr.Close()

	modelRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "name", "is_enabled"}).AddRow(1, "gpt-5", true)
	}
	linkRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "llm_id", "provider_id", "remote_model_name", "price_input", "price_output", "max_tokens", "weight", "is_enabled",
		}).AddRow(1, 1, 7, "gpt-5-2026", 0.01, 0.03, 128000, 10, true)
	}

	mock.ExpectQuery(`SELECT \* FROM "llm_models" WHERE name = \$1`).WithArgs("gpt-5").WillReturnRows(modelRows())
	mock.ExpectQuery(`SELECT \* FROM "llm_model_providers" WHERE`).WithArgs(uint64(1), true).WillReturnRows(linkRows())
	mock.ExpectQuery(`SELECT \* FROM "llm_models" WHERE name = \$1`).WithArgs("gpt-5").WillReturnRows(modelRows())
	mock.ExpectQuery(`SELECT \* FROM "llm_model_providers" WHERE`).WithArgs(uint64(1), true).WillReturnRows(linkRows())

	inner := New(gormDB, zap.NewNop())
	cached := NewCached(inner, rdb, 50*time.Millisecond, zap.NewNop())

	ctx := context.Background()
	_, err := cached.ModelProviderLinks(ctx, "gpt-5")
	require.NoError(t, err)

	mr.FastForward(100 * time.Millisecond)

	_, err = cached.ModelProviderLinks(ctx, "gpt-5")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedCatalogue_NilRedisPassesThrough(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT \* FROM "llm_models" WHERE name = \$1`).
		WithArgs("gpt-5").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_enabled"}).AddRow(1, "gpt-5", true))
	mock.ExpectQuery(`SELECT \* FROM "llm_model_providers" WHERE`).
		WithArgs(uint64(1), true).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "llm_id", "provider_id", "remote_model_name", "price_input", "price_output", "max_tokens", "weight", "is_enabled",
		}).AddRow(1, 1, 7, "gpt-5-2026", 0.01, 0.03, 128000, 10, true))

	inner := New(gormDB, zap.NewNop())
	cached := NewCached(inner, nil, 0, zap.NewNop())

	links, err := cached.ModelProviderLinks(context.Background(), "gpt-5")
	require.NoError(t, err)
	require.Len(t, links, 1)
}

var _ llm.Catalogue = (*CachedCatalogue)(nil)
var _ llm.Catalogue = (*GormCatalogue)(nil)
