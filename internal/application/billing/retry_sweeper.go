package billing

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/facturador-sunat/internal/application/dto"
	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

// SweeperLeaseKey candado compartido por todas las réplicas del barrido.
const SweeperLeaseKey = "sunat:retry-sweeper"

// SweeperConfig parámetros del barrido de reintentos.
type SweeperConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int           // RetryCount a partir del cual se deja de reintentar
	StaleAfter  time.Duration // SENDING sin cambios por más de esto se da por perdido
	PassTimeout time.Duration // tope de una pasada completa
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = 5 * time.Minute
	}
	return c
}

// RetrySweeper reenvía periódicamente los comprobantes en SEND_ERROR cuyo próximo
// reintento ya venció. Corre desacoplado de las peticiones HTTP, con su propio contexto.
// Con un Lease configurado solo una réplica barre a la vez.
type RetrySweeper struct {
	svc   *IssueService
	lease Lease // nil = sin coordinación entre réplicas
	cfg   SweeperConfig
	now   func() time.Time
	log   zerolog.Logger
}

// NewRetrySweeper construye el barrido sobre el servicio de emisión.
func NewRetrySweeper(svc *IssueService, lease Lease, cfg SweeperConfig, log zerolog.Logger) *RetrySweeper {
	return &RetrySweeper{svc: svc, lease: lease, cfg: cfg.withDefaults(), now: time.Now, log: log}
}

// Start lanza Run en una goroutine. El barrido termina cuando ctx se cancela.
func (w *RetrySweeper) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run ejecuta una pasada por intervalo hasta que ctx se cancele.
func (w *RetrySweeper) Run(ctx context.Context) {
	w.log.Info().Dur("interval", w.cfg.Interval).Int("max_attempts", w.cfg.MaxAttempts).Msg("barrido de reintentos iniciado")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("barrido de reintentos detenido")
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Error().Err(err).Msg("pasada de reintentos fallida")
			}
		}
	}
}

// SweepOnce hace una pasada: primero cierra los SENDING abandonados y luego reenvía
// los SEND_ERROR vencidos. Los errores por comprobante se cuentan y no cortan la pasada.
func (w *RetrySweeper) SweepOnce(ctx context.Context) (*dto.SweepReport, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.PassTimeout)
	defer cancel()

	report := &dto.SweepReport{}
	if w.lease != nil {
		release, acquired, err := w.lease.Acquire(ctx, SweeperLeaseKey, w.cfg.PassTimeout)
		if err != nil {
			return nil, err
		}
		if !acquired {
			report.Skipped = true
			return report, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				w.log.Warn().Err(err).Msg("no se pudo liberar el candado del barrido")
			}
		}()
	}

	now := w.now()
	stale, err := w.svc.deps.Invoices.ListStaleSending(ctx, now.Add(-w.cfg.StaleAfter), w.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, inv := range stale {
		if err := w.svc.markStale(ctx, inv); err != nil {
			if !errors.Is(err, domain.ErrConflict) {
				w.log.Error().Err(err).Str("document_id", inv.DocumentID).Msg("no se pudo cerrar envío abandonado")
			}
			continue
		}
		report.Stale++
	}

	due, err := w.svc.deps.Invoices.ListRetryable(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, inv := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if inv.RetryCount >= w.cfg.MaxAttempts {
			report.Exhausted++
			continue
		}
		report.Retried++
		res, err := w.svc.Retry(ctx, inv.CompanyID, inv.DocumentID)
		if err != nil {
			report.Failed++
			if !errors.Is(err, domain.ErrConflict) {
				w.log.Warn().Err(err).Str("document_id", inv.DocumentID).Msg("reintento fallido")
			}
			continue
		}
		switch res.Status {
		case entity.InvoiceStatusAccepted:
			report.Accepted++
		case entity.InvoiceStatusRejected:
			report.Rejected++
		default:
			report.Failed++
		}
	}

	if report.Retried > 0 || report.Stale > 0 {
		w.log.Info().Int("stale", report.Stale).Int("retried", report.Retried).Int("accepted", report.Accepted).
			Int("rejected", report.Rejected).Int("failed", report.Failed).Int("exhausted", report.Exhausted).
			Msg("pasada de reintentos")
	}
	return report, nil
}

// WithClock reemplaza el reloj (tests).
func (w *RetrySweeper) WithClock(now func() time.Time) *RetrySweeper {
	cp := *w
	cp.now = now
	return &cp
}
