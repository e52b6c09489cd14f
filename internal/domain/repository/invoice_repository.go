package repository

import (
	"context"
	"time"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

// InvoiceRepository persiste los comprobantes electrónicos por id de documento.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	GetByDocumentID(ctx context.Context, companyID, documentID string) (*entity.Invoice, error)
	// GetLatestBySale devuelve el comprobante más reciente de la venta (nil si no hay).
	GetLatestBySale(ctx context.Context, companyID, saleID string) (*entity.Invoice, error)

	// Update guarda los campos mutables solo si el estado almacenado es expectedStatus.
	// Si otro proceso ya lo cambió devuelve domain.ErrConflict.
	Update(ctx context.Context, invoice *entity.Invoice, expectedStatus string) error

	// ListRetryable comprobantes en SEND_ERROR cuyo next_retry_at ya venció.
	ListRetryable(ctx context.Context, now time.Time, limit int) ([]*entity.Invoice, error)
	// ListStaleSending comprobantes en SENDING sin actualizar desde before.
	ListStaleSending(ctx context.Context, before time.Time, limit int) ([]*entity.Invoice, error)
}
