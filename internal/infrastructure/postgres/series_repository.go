package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
)

var _ repository.SeriesRepository = (*SeriesRepo)(nil)

// SeriesRepo carriles de numeración (document_series). Usable con pool o tx.
type SeriesRepo struct {
	q Querier
}

// NewSeriesRepository construye el adaptador.
func NewSeriesRepository(q Querier) *SeriesRepo {
	return &SeriesRepo{q: q}
}

// Get devuelve el carril o nil, nil si aún no existe.
func (r *SeriesRepo) Get(ctx context.Context, companyID, docTypeCode string) (*entity.DocumentSeries, error) {
	query := `
		SELECT company_id, document_type_code, series, last_correlative, updated_at
		FROM document_series WHERE company_id = $1 AND document_type_code = $2`
	var s entity.DocumentSeries
	err := r.q.QueryRow(ctx, query, companyID, docTypeCode).Scan(
		&s.CompanyID, &s.DocumentTypeCode, &s.Series, &s.LastCorrelative, &s.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document series: %w", err)
	}
	return &s, nil
}

// Create inserta el carril; false si ya existía.
func (r *SeriesRepo) Create(ctx context.Context, s *entity.DocumentSeries) (bool, error) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	query := `
		INSERT INTO document_series (company_id, document_type_code, series, last_correlative, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, document_type_code) DO NOTHING`
	cmd, err := r.q.Exec(ctx, query, s.CompanyID, s.DocumentTypeCode, s.Series, s.LastCorrelative, s.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert document series: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

// CompareAndSwap actualiza solo si serie y correlativo siguen como en prev.
func (r *SeriesRepo) CompareAndSwap(ctx context.Context, prev, next entity.DocumentSeries) (bool, error) {
	query := `
		UPDATE document_series
		SET series = $3, last_correlative = $4, updated_at = $5
		WHERE company_id = $1 AND document_type_code = $2
		  AND series = $6 AND last_correlative = $7`
	cmd, err := r.q.Exec(ctx, query,
		prev.CompanyID, prev.DocumentTypeCode,
		next.Series, next.LastCorrelative, time.Now(),
		prev.Series, prev.LastCorrelative,
	)
	if err != nil {
		return false, fmt.Errorf("update document series: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}
