package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo implementación de InvoiceRepository (usable con pool o tx).
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

const invoiceColumns = `
	id, company_id, sale_id, document_type_code, series, correlative, document_id, issue_date,
	currency, tax_total, grand_total, customer_id_type, customer_id_number, status,
	unsigned_xml, signed_xml, digest_value, cdr, response_code, response_message,
	retry_count, next_retry_at, last_error, created_at, updated_at`

// Create persiste el comprobante recién numerado.
func (r *InvoiceRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	now := time.Now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = inv.CreatedAt
	query := `INSERT INTO invoice_documents (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`
	_, err := r.q.Exec(ctx, query,
		inv.ID, inv.CompanyID, inv.SaleID, inv.DocumentTypeCode, inv.Series, inv.Correlative, inv.DocumentID, inv.IssueDate,
		inv.Currency, inv.TaxTotal, inv.GrandTotal, inv.CustomerIDType, inv.CustomerIDNumber, inv.Status,
		inv.UnsignedXML, inv.SignedXML, nullIfEmpty(inv.DigestValue), inv.CDR, nullIfEmpty(inv.ResponseCode), nullIfEmpty(inv.ResponseMessage),
		inv.RetryCount, inv.NextRetryAt, nullIfEmpty(inv.LastError), inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: comprobante %s ya existe", domain.ErrDuplicate, inv.DocumentID)
		}
		return fmt.Errorf("insert invoice document: %w", err)
	}
	return nil
}

// GetByID obtiene el comprobante por su id interno.
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM invoice_documents WHERE id = $1`, id)
}

// GetByDocumentID busca por serie-correlativo dentro de la empresa.
func (r *InvoiceRepo) GetByDocumentID(ctx context.Context, companyID, documentID string) (*entity.Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM invoice_documents WHERE company_id = $1 AND document_id = $2`, companyID, documentID)
}

// GetLatestBySale último comprobante de la venta.
func (r *InvoiceRepo) GetLatestBySale(ctx context.Context, companyID, saleID string) (*entity.Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM invoice_documents
		WHERE company_id = $1 AND sale_id = $2 ORDER BY created_at DESC, correlative DESC LIMIT 1`, companyID, saleID)
}

// Update guarda el estado y los artefactos; condicionado al estado esperado.
func (r *InvoiceRepo) Update(ctx context.Context, inv *entity.Invoice, expectedStatus string) error {
	inv.UpdatedAt = time.Now()
	query := `
		UPDATE invoice_documents
		SET status           = $3,
		    unsigned_xml     = $4,
		    signed_xml       = $5,
		    digest_value     = $6,
		    cdr              = $7,
		    response_code    = $8,
		    response_message = $9,
		    retry_count      = $10,
		    next_retry_at    = $11,
		    last_error       = $12,
		    updated_at       = $13
		WHERE id = $1 AND status = $2`
	cmd, err := r.q.Exec(ctx, query,
		inv.ID, expectedStatus, inv.Status,
		inv.UnsignedXML, inv.SignedXML, nullIfEmpty(inv.DigestValue), inv.CDR,
		nullIfEmpty(inv.ResponseCode), nullIfEmpty(inv.ResponseMessage),
		inv.RetryCount, inv.NextRetryAt, nullIfEmpty(inv.LastError), inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice document: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s ya no está en %s", domain.ErrConflict, inv.DocumentID, expectedStatus)
	}
	return nil
}

// ListRetryable SEND_ERROR con next_retry_at vencido, los más antiguos primero.
func (r *InvoiceRepo) ListRetryable(ctx context.Context, now time.Time, limit int) ([]*entity.Invoice, error) {
	return r.list(ctx, `SELECT `+invoiceColumns+` FROM invoice_documents
		WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY next_retry_at NULLS FIRST LIMIT $3`, entity.InvoiceStatusSendError, now, limit)
}

// ListStaleSending SENDING sin cambios desde before (proceso caído a mitad del envío).
func (r *InvoiceRepo) ListStaleSending(ctx context.Context, before time.Time, limit int) ([]*entity.Invoice, error) {
	return r.list(ctx, `SELECT `+invoiceColumns+` FROM invoice_documents
		WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`, entity.InvoiceStatusSending, before, limit)
}

func (r *InvoiceRepo) getOne(ctx context.Context, query string, args ...any) (*entity.Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice document: %w", err)
	}
	return inv, nil
}

func (r *InvoiceRepo) list(ctx context.Context, query string, args ...any) ([]*entity.Invoice, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoice documents: %w", err)
	}
	defer rows.Close()

	var list []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice document: %w", err)
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var inv entity.Invoice
	var digest, code, msg, lastErr *string
	err := row.Scan(
		&inv.ID, &inv.CompanyID, &inv.SaleID, &inv.DocumentTypeCode, &inv.Series, &inv.Correlative, &inv.DocumentID, &inv.IssueDate,
		&inv.Currency, &inv.TaxTotal, &inv.GrandTotal, &inv.CustomerIDType, &inv.CustomerIDNumber, &inv.Status,
		&inv.UnsignedXML, &inv.SignedXML, &digest, &inv.CDR, &code, &msg,
		&inv.RetryCount, &inv.NextRetryAt, &lastErr, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.DigestValue = stringOrEmpty(digest)
	inv.ResponseCode = stringOrEmpty(code)
	inv.ResponseMessage = stringOrEmpty(msg)
	inv.LastError = stringOrEmpty(lastErr)
	return &inv, nil
}
