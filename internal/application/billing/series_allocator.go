package billing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
	domsunat "github.com/jhoicas/facturador-sunat/internal/domain/sunat"
)

const (
	defaultAllocationAttempts = 10
	allocationBackoff         = 5 * time.Millisecond
)

// SeriesAllocator entrega correlativos sin huecos ni duplicados por carril.
// No guarda estado propio: toda la coordinación pasa por el compare-and-swap del repositorio.
type SeriesAllocator struct {
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
}

// NewSeriesAllocator crea el asignador. attempts <= 0 usa el valor por defecto.
func NewSeriesAllocator(attempts int, log zerolog.Logger) *SeriesAllocator {
	if attempts <= 0 {
		attempts = defaultAllocationAttempts
	}
	return &SeriesAllocator{maxAttempts: attempts, backoff: allocationBackoff, log: log}
}

// Allocate lee el carril, calcula el siguiente número y lo confirma con compare-and-swap.
// Ante un conflicto vuelve a leer; agotados los intentos devuelve ErrAllocationConflict.
// Crea el carril (F001 / B001) la primera vez que se usa.
func (a *SeriesAllocator) Allocate(ctx context.Context, repo repository.SeriesRepository, key domsunat.SeriesKey) (domsunat.AllocatedNumber, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domsunat.AllocatedNumber{}, err
		}

		cur, err := repo.Get(ctx, key.CompanyID, key.DocumentTypeCode)
		if err != nil {
			return domsunat.AllocatedNumber{}, fmt.Errorf("allocate: leer carril: %w", err)
		}
		if cur == nil {
			series, err := domsunat.FirstSeries(key.DocumentTypeCode)
			if err != nil {
				return domsunat.AllocatedNumber{}, err
			}
			fresh := &entity.DocumentSeries{
				CompanyID:        key.CompanyID,
				DocumentTypeCode: key.DocumentTypeCode,
				Series:           series,
			}
			if _, err := repo.Create(ctx, fresh); err != nil {
				return domsunat.AllocatedNumber{}, fmt.Errorf("allocate: crear carril: %w", err)
			}
			// Si otro proceso lo creó primero, la relectura trae su versión.
			if cur, err = repo.Get(ctx, key.CompanyID, key.DocumentTypeCode); err != nil {
				return domsunat.AllocatedNumber{}, fmt.Errorf("allocate: leer carril: %w", err)
			}
			if cur == nil {
				return domsunat.AllocatedNumber{}, fmt.Errorf("allocate: carril %s/%s no visible tras crearlo", key.CompanyID, key.DocumentTypeCode)
			}
		}

		next, err := domsunat.Advance(*cur)
		if err != nil {
			return domsunat.AllocatedNumber{}, err
		}
		ok, err := repo.CompareAndSwap(ctx, *cur, next)
		if err != nil {
			return domsunat.AllocatedNumber{}, fmt.Errorf("allocate: confirmar carril: %w", err)
		}
		if ok {
			n := domsunat.AllocatedNumber{
				CompanyID:        key.CompanyID,
				DocumentTypeCode: key.DocumentTypeCode,
				Series:           next.Series,
				Correlative:      next.LastCorrelative,
			}
			if next.Series != cur.Series {
				a.log.Info().Str("company_id", key.CompanyID).Str("from", cur.Series).Str("to", next.Series).
					Msg("serie agotada, se continúa con la siguiente")
			}
			return n, nil
		}

		a.log.Debug().Str("company_id", key.CompanyID).Str("doc_type", key.DocumentTypeCode).
			Int("attempt", attempt).Msg("conflicto de numeración, reintentando")
		if err := a.wait(ctx, attempt); err != nil {
			return domsunat.AllocatedNumber{}, err
		}
	}
	return domsunat.AllocatedNumber{}, fmt.Errorf("%w: %s/%s tras %d intentos",
		domain.ErrAllocationConflict, key.CompanyID, key.DocumentTypeCode, a.maxAttempts)
}

// wait espera un tiempo aleatorio creciente para desincronizar a los competidores.
func (a *SeriesAllocator) wait(ctx context.Context, attempt int) error {
	if a.backoff <= 0 {
		return nil
	}
	d := time.Duration(rand.Int64N(int64(a.backoff) * int64(attempt)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
