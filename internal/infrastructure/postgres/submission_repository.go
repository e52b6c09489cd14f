package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
)

var _ repository.SubmissionRepository = (*SubmissionRepo)(nil)

// SubmissionRepo historial de envíos (submission_records). Solo INSERT y SELECT.
type SubmissionRepo struct {
	q Querier
}

// NewSubmissionRepository construye el adaptador.
func NewSubmissionRepository(q Querier) *SubmissionRepo {
	return &SubmissionRepo{q: q}
}

// Append calcula attempt_seq en la misma sentencia; la PK (invoice_id, attempt_seq)
// hace fallar a un segundo escritor concurrente en vez de duplicar la secuencia.
func (r *SubmissionRepo) Append(ctx context.Context, rec *entity.SubmissionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = time.Now()
	}
	query := `
		INSERT INTO submission_records (id, invoice_id, document_id, attempt_seq, attempted_at, file_name,
			http_outcome, authority_decision, response_code, error_message, raw_response)
		SELECT $1, $2, $3, COALESCE(MAX(attempt_seq), 0) + 1, $4, $5, $6, $7, $8, $9, $10
		FROM submission_records WHERE invoice_id = $2
		RETURNING attempt_seq`
	err := r.q.QueryRow(ctx, query,
		rec.ID, rec.InvoiceID, rec.DocumentID, rec.AttemptedAt, rec.FileName,
		rec.HTTPOutcome, rec.AuthorityDecision, nullIfEmpty(rec.ResponseCode), nullIfEmpty(rec.ErrorMessage), rec.RawResponse,
	).Scan(&rec.AttemptSeq)
	if err != nil {
		return fmt.Errorf("insert submission record: %w", err)
	}
	return nil
}

// ListByInvoice intentos en orden de secuencia.
func (r *SubmissionRepo) ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.SubmissionRecord, error) {
	query := `
		SELECT id, invoice_id, document_id, attempt_seq, attempted_at, file_name,
			http_outcome, authority_decision, response_code, error_message, raw_response
		FROM submission_records WHERE invoice_id = $1 ORDER BY attempt_seq`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list submission records: %w", err)
	}
	defer rows.Close()

	var list []*entity.SubmissionRecord
	for rows.Next() {
		var s entity.SubmissionRecord
		var code, msg *string
		if err := rows.Scan(&s.ID, &s.InvoiceID, &s.DocumentID, &s.AttemptSeq, &s.AttemptedAt, &s.FileName,
			&s.HTTPOutcome, &s.AuthorityDecision, &code, &msg, &s.RawResponse); err != nil {
			return nil, fmt.Errorf("scan submission record: %w", err)
		}
		s.ResponseCode = stringOrEmpty(code)
		s.ErrorMessage = stringOrEmpty(msg)
		list = append(list, &s)
	}
	return list, rows.Err()
}
