package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/facturador-sunat/internal/application/billing"
	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
)

var _ billing.IssuanceTxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunIssuance abre una transacción con los repos de numeración y comprobantes.
// El número asignado y el registro PENDING se confirman juntos o no se confirma ninguno.
// La fila de la venta se toma con FOR UPDATE: una segunda emisión de la misma venta
// espera el commit y luego ve el comprobante ya creado.
func (r *TxRunner) RunIssuance(ctx context.Context, companyID, saleID string, fn func(
	seriesRepo repository.SeriesRepository,
	invoiceRepo repository.InvoiceRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM sales WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, saleID).Scan(&one)
	if isNoRows(err) {
		return fmt.Errorf("%w: venta %s", domain.ErrNotFound, saleID)
	}
	if err != nil {
		return fmt.Errorf("lock sale: %w", err)
	}

	if err := fn(NewSeriesRepository(tx), NewInvoiceRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
