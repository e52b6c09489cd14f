package repository

import (
	"context"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

// SubmissionRepository historial de envíos: solo inserción.
type SubmissionRepository interface {
	// Append asigna AttemptSeq (max+1 por comprobante) y guarda el intento.
	Append(ctx context.Context, record *entity.SubmissionRecord) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.SubmissionRecord, error)
}
