//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-sunat/internal/application/billing"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	domsunat "github.com/jhoicas/facturador-sunat/internal/domain/sunat"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/postgres"
	"github.com/jhoicas/facturador-sunat/pkg/config"
)

// Se ejecutan con: TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/infrastructure/postgres/
func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL no definido")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, config.DBConfig{DatabaseURL: dsn, MaxConns: 10})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.RunMigrations(ctx, pool, zerolog.Nop()))
	return pool
}

func seedCompany(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := uuid.NewString()
	ruc := fmt.Sprintf("20%09d", rand.IntN(1_000_000_000))
	_, err := pool.Exec(context.Background(),
		`INSERT INTO companies (id, name, ruc) VALUES ($1, $2, $3)`, id, "EMPRESA "+ruc, ruc)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM document_series WHERE company_id = $1`, id)
		_, _ = pool.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	})
	return id
}

func TestSeriesRepo_CreateSoloUnaVez(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	companyID := seedCompany(t, pool)
	repo := postgres.NewSeriesRepository(pool)

	created, err := repo.Create(ctx, &entity.DocumentSeries{CompanyID: companyID, DocumentTypeCode: "01", Series: "F001"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Create(ctx, &entity.DocumentSeries{CompanyID: companyID, DocumentTypeCode: "01", Series: "F002", LastCorrelative: 9})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.Get(ctx, companyID, "01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "F001", got.Series)
	assert.Equal(t, 0, got.LastCorrelative)
}

func TestSeriesRepo_CompareAndSwapDesactualizado(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	companyID := seedCompany(t, pool)
	repo := postgres.NewSeriesRepository(pool)

	_, err := repo.Create(ctx, &entity.DocumentSeries{CompanyID: companyID, DocumentTypeCode: "01", Series: "F001"})
	require.NoError(t, err)
	prev, err := repo.Get(ctx, companyID, "01")
	require.NoError(t, err)

	next := *prev
	next.LastCorrelative = 1
	ok, err := repo.CompareAndSwap(ctx, *prev, next)
	require.NoError(t, err)
	assert.True(t, ok)

	// Misma lectura vieja: otro proceso ya avanzó el carril.
	stale := next
	stale.LastCorrelative = 1
	ok, err = repo.CompareAndSwap(ctx, *prev, stale)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, companyID, "01")
	require.NoError(t, err)
	assert.Equal(t, 1, got.LastCorrelative)
}

func TestSeriesAllocator_ConcurrenteSinHuecosNiDuplicados(t *testing.T) {
	pool := integrationPool(t)
	ctx := context.Background()
	companyID := seedCompany(t, pool)
	repo := postgres.NewSeriesRepository(pool)
	alloc := billing.NewSeriesAllocator(50, zerolog.Nop())
	key := domsunat.SeriesKey{CompanyID: companyID, DocumentTypeCode: "01"}

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int]bool{}
		errs []error
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := alloc.Allocate(ctx, repo, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			seen[n.Correlative] = true
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	for i := 1; i <= workers; i++ {
		assert.True(t, seen[i], "falta el correlativo %d", i)
	}
	got, err := repo.Get(ctx, companyID, "01")
	require.NoError(t, err)
	assert.Equal(t, workers, got.LastCorrelative)
}
