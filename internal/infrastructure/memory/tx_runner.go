package memory

import (
	"context"

	"github.com/jhoicas/facturador-sunat/internal/application/billing"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
)

// undoLog acciones para revertir lo escrito dentro de RunIssuance.
// Se ejecutan con Store.mu tomado.
type undoLog struct {
	actions []func()
}

func (u *undoLog) add(fn func()) { u.actions = append(u.actions, fn) }

var _ billing.IssuanceTxRunner = (*TxRunner)(nil)

// TxRunner transacciones de emisión sobre el Store.
type TxRunner struct {
	s *Store
}

// NewTxRunner construye el runner.
func NewTxRunner(s *Store) *TxRunner { return &TxRunner{s: s} }

// RunIssuance ejecuta fn de forma exclusiva entre transacciones y deshace sus
// escrituras si devuelve error. Serializar todas las emisiones cubre también el
// bloqueo por venta. Las escrituras fuera de RunIssuance no se serializan con ella.
func (r *TxRunner) RunIssuance(ctx context.Context, _, _ string, fn func(
	seriesRepo repository.SeriesRepository,
	invoiceRepo repository.InvoiceRepository,
) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.txMu.Lock()
	defer r.s.txMu.Unlock()

	undo := &undoLog{}
	err := fn(&SeriesRepo{s: r.s, undo: undo}, &InvoiceRepo{s: r.s, undo: undo})
	if err != nil {
		r.s.mu.Lock()
		for i := len(undo.actions) - 1; i >= 0; i-- {
			undo.actions[i]()
		}
		r.s.mu.Unlock()
	}
	return err
}
