package billing_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-sunat/internal/application/billing"
	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat/sunattest"
)

// fakeLease candado local para probar la coordinación del barrido.
type fakeLease struct {
	held     bool
	acquired int
	released int
	err      error
}

func (l *fakeLease) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held || key != billing.SweeperLeaseKey {
		return nil, false, nil
	}
	l.held = true
	l.acquired++
	return func(context.Context) error {
		l.held = false
		l.released++
		return nil
	}, true, nil
}

func later() time.Time { return time.Now().Add(2 * time.Hour) }

func failFirst(attempt int, req sunattest.Request) sunattest.Reply {
	if attempt == 1 {
		return sunattest.Reply{Status: http.StatusServiceUnavailable}
	}
	return sunattest.Accept(attempt, req)
}

func TestSweepOnce_ReenviaSendErrorVencido(t *testing.T) {
	h := newHarness(t, failFirst)
	ctx := context.Background()

	res, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	require.Equal(t, entity.InvoiceStatusSendError, res.Status)

	// Antes de que venza el próximo reintento no se toca.
	early := billing.NewRetrySweeper(h.svc, nil, billing.SweeperConfig{}, zerolog.Nop())
	report, err := early.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Retried)

	lease := &fakeLease{}
	sweeper := billing.NewRetrySweeper(h.svc, lease, billing.SweeperConfig{MaxAttempts: 3}, zerolog.Nop()).WithClock(later)
	report, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 1, lease.acquired)
	assert.Equal(t, 1, lease.released)

	inv := h.invoice(t, companyID, "F001-0001")
	assert.Equal(t, entity.InvoiceStatusAccepted, inv.Status)
	assert.Len(t, h.submissions(t, inv), 2)
	assert.Equal(t, 1, h.lastCorrelative(t, companyID, "01"))
}

func TestSweepOnce_SinCandadoNoHaceNada(t *testing.T) {
	h := newHarness(t, failFirst)
	ctx := context.Background()
	_, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)

	lease := &fakeLease{held: true}
	report, err := billing.NewRetrySweeper(h.svc, lease, billing.SweeperConfig{}, zerolog.Nop()).WithClock(later).SweepOnce(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Len(t, h.srv.Requests(), 1)

	_, err = billing.NewRetrySweeper(h.svc, &fakeLease{err: errors.New("redis caído")}, billing.SweeperConfig{}, zerolog.Nop()).SweepOnce(ctx)
	assert.Error(t, err)
}

func TestSweepOnce_RespetaMaximoDeIntentos(t *testing.T) {
	h := newHarness(t, func(int, sunattest.Request) sunattest.Reply {
		return sunattest.Reply{Status: http.StatusBadGateway}
	})
	ctx := context.Background()
	_, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)

	sweeper := billing.NewRetrySweeper(h.svc, nil, billing.SweeperConfig{MaxAttempts: 2}, zerolog.Nop()).WithClock(later)
	report, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Failed)

	report, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Retried)
	assert.Equal(t, 1, report.Exhausted)

	inv := h.invoice(t, companyID, "F001-0001")
	assert.Equal(t, entity.InvoiceStatusSendError, inv.Status)
	assert.Equal(t, 2, inv.RetryCount)
	assert.Len(t, h.srv.Requests(), 2)
}

func TestSweepOnce_CierraEnvioAbandonado(t *testing.T) {
	h := newHarness(t, sunattest.Accept)
	ctx := context.Background()
	require.NoError(t, h.store.Invoices().Create(ctx, &entity.Invoice{
		CompanyID:        companyID,
		SaleID:           "venta-perdida",
		DocumentTypeCode: "01",
		Series:           "F001",
		Correlative:      7,
		DocumentID:       "F001-0007",
		Status:           entity.InvoiceStatusSending,
		SignedXML:        []byte("<Invoice/>"),
		DigestValue:      "abc",
	}))

	report, err := billing.NewRetrySweeper(h.svc, nil, billing.SweeperConfig{}, zerolog.Nop()).WithClock(later).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stale)
	assert.Equal(t, 1, report.Accepted)

	inv := h.invoice(t, companyID, "F001-0007")
	assert.Equal(t, entity.InvoiceStatusAccepted, inv.Status)
	recs := h.submissions(t, inv)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.HTTPOutcomeNetworkError, recs[0].HTTPOutcome)
	assert.Equal(t, entity.AuthorityDecisionUnknown, recs[0].AuthorityDecision)
	assert.Equal(t, entity.AuthorityDecisionAccepted, recs[1].AuthorityDecision)
}

func TestRun_TerminaConElContexto(t *testing.T) {
	h := newHarness(t, sunattest.Accept)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		billing.NewRetrySweeper(h.svc, nil, billing.SweeperConfig{Interval: 10 * time.Millisecond}, zerolog.Nop()).Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("el barrido no terminó al cancelar el contexto")
	}
}
