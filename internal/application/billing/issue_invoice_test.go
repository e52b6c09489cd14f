package billing_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-sunat/internal/application/billing"
	"github.com/jhoicas/facturador-sunat/internal/application/dto"
	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/memory"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat/signer"
	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat/sunattest"
	"github.com/jhoicas/facturador-sunat/internal/testutil"
	"github.com/jhoicas/facturador-sunat/pkg/config"
)

const (
	companyID = "emp-1"
	saleID    = "venta-1"
)

// timeoutSubmitter acota solo la llamada a SUNAT, como haría un llamador impaciente.
type timeoutSubmitter struct {
	inner billing.Submitter
	d     time.Duration
}

func (s timeoutSubmitter) Check(req sunat.SubmitRequest) error { return s.inner.Check(req) }

func (s timeoutSubmitter) Submit(ctx context.Context, req sunat.SubmitRequest) (*sunat.SubmissionOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.d)
	defer cancel()
	return s.inner.Submit(ctx, req)
}

type harness struct {
	store   *memory.Store
	srv     *sunattest.Server
	svc     *billing.IssueService
	builder *sunat.UBLBuilder
	cert    testutil.TestCertificate
}

func newHarness(t *testing.T, respond sunattest.Responder) *harness {
	return newHarnessWith(t, respond, 0)
}

func newHarnessWith(t *testing.T, respond sunattest.Responder, submitTimeout time.Duration, opts ...func(*billing.IssueServiceDeps)) *harness {
	t.Helper()
	log := zerolog.Nop()
	srv := sunattest.NewServer(respond)
	t.Cleanup(srv.Close)

	h := &harness{store: memory.NewStore(), srv: srv, cert: testutil.NewTestCertificate(t, "EMPRESA DE PRUEBA SAC")}
	h.store.PutCompany(*testutil.Company(companyID))
	h.putCredentials(companyID)
	h.store.PutSale(*testutil.TwoLineSale(saleID, companyID))

	h.builder = sunat.NewUBLBuilder(sunat.BuilderConfig{
		TaxRate:  decimal.RequireFromString("0.18"),
		Location: time.FixedZone("PET", -5*60*60),
	}, log)

	var submitter billing.Submitter = sunat.NewSOAPClientWithEndpoint(srv.URL,
		config.SUNATConfig{Environment: config.SUNATEnvBeta, Timeout: config.MinSUNATTimeout}, log)
	if submitTimeout > 0 {
		submitter = timeoutSubmitter{inner: submitter, d: submitTimeout}
	}

	deps := billing.IssueServiceDeps{
		Tx:          memory.NewTxRunner(h.store),
		Allocator:   billing.NewSeriesAllocator(0, log),
		Companies:   h.store.Companies(),
		Credentials: h.store.Credentials(),
		Sales:       h.store.Sales(),
		Invoices:    h.store.Invoices(),
		Submissions: h.store.Submissions(),
		Builder:     h.builder,
		Certs:       signer.NewCertificateLoader(),
		Signer:      signer.NewDigitalSignatureService(log),
		Submitter:   submitter,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.svc = billing.NewIssueService(deps, billing.PipelineConfig{
		Environment:     config.SUNATEnvBeta,
		BetaSOLUser:     "MODDATOS",
		BetaSOLPassword: "moddatos",
	}, log)
	return h
}

func (h *harness) putCredentials(id string) {
	h.store.PutCredentials(entity.CompanyCredentials{
		CompanyID: id,
		Signing: entity.SigningCredential{
			Shape: entity.CredentialShapePEM,
			PEM:   &entity.PEMCredential{KeyPEM: h.cert.KeyPEM, CertPEM: h.cert.CertPEM},
		},
		SOL: entity.SOLCredentials{Username: "MODDATOS", Password: "moddatos"},
	})
}

func (h *harness) invoice(t *testing.T, company, documentID string) *entity.Invoice {
	t.Helper()
	inv, err := h.store.Invoices().GetByDocumentID(context.Background(), company, documentID)
	require.NoError(t, err)
	require.NotNil(t, inv, documentID)
	return inv
}

func (h *harness) submissions(t *testing.T, inv *entity.Invoice) []*entity.SubmissionRecord {
	t.Helper()
	recs, err := h.store.Submissions().ListByInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	return recs
}

func (h *harness) lastCorrelative(t *testing.T, company, docType string) int {
	t.Helper()
	ds, err := h.store.Series().Get(context.Background(), company, docType)
	require.NoError(t, err)
	if ds == nil {
		return 0
	}
	return ds.LastCorrelative
}

func unzipSingle(t *testing.T, data []byte) (string, []byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	return zr.File[0].Name, body
}

func rejectWith(code string) sunattest.Responder {
	return func(_ int, req sunattest.Request) sunattest.Reply {
		return sunattest.Reply{Body: sunattest.SendBillResponse(sunattest.CDRZip(req.FileName, code, "El documento fue rechazado"))}
	}
}

// ── Camino feliz ──────────────────────────────────────────────────────────────

func TestIssue_FacturaAceptada(t *testing.T) {
	h := newHarness(t, sunattest.Accept)

	res, err := h.svc.Issue(context.Background(), companyID, saleID)
	require.NoError(t, err)
	assert.Equal(t, "F001-0001", res.DocumentID)
	assert.Equal(t, entity.InvoiceStatusAccepted, res.Status)
	assert.Equal(t, "0", res.ResponseCode)
	assert.False(t, res.Resumed)

	inv := h.invoice(t, companyID, "F001-0001")
	assert.Equal(t, entity.InvoiceStatusAccepted, inv.Status)
	assert.NotEmpty(t, inv.CDR)
	assert.NotEmpty(t, inv.DigestValue)
	assert.True(t, decimal.RequireFromString("33.60").Equal(inv.GrandTotal))
	require.NoError(t, signer.Verify(inv.SignedXML))

	reqs := h.srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "20123456786-01-F001-0001.zip", reqs[0].FileName)
	assert.Equal(t, "20123456786MODDATOS", reqs[0].Username)
	name, sent := unzipSingle(t, reqs[0].Zip)
	assert.Equal(t, "20123456786-01-F001-0001.xml", name)
	assert.Equal(t, inv.SignedXML, sent)

	recs := h.submissions(t, inv)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].AttemptSeq)
	assert.Equal(t, domain.HTTPOutcomeSuccess, recs[0].HTTPOutcome)
	assert.Equal(t, entity.AuthorityDecisionAccepted, recs[0].AuthorityDecision)
	assert.Equal(t, "20123456786-01-F001-0001.zip", recs[0].FileName)
	assert.NotEmpty(t, recs[0].RawResponse)
}

func TestIssue_SegundaLlamadaRetomaSinNuevoNumero(t *testing.T) {
	h := newHarness(t, sunattest.Accept)
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	res, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)

	assert.True(t, res.Resumed)
	assert.Equal(t, "F001-0001", res.DocumentID)
	assert.Equal(t, entity.InvoiceStatusAccepted, res.Status)
	assert.Len(t, h.srv.Requests(), 1)
	assert.Equal(t, 1, h.lastCorrelative(t, companyID, "01"))
}

func TestIssue_BoletaUsaSerieB(t *testing.T) {
	h := newHarness(t, sunattest.Accept)
	sale := testutil.TwoLineSale("venta-b", companyID)
	sale.DocumentTypeCode = "03"
	sale.Customer = entity.SaleCustomer{IdentityType: "1", IdentityNumber: "45678912", Name: "JUAN PEREZ"}
	h.store.PutSale(*sale)

	res, err := h.svc.Issue(context.Background(), companyID, "venta-b")
	require.NoError(t, err)
	assert.Equal(t, "B001-0001", res.DocumentID)
	assert.Equal(t, entity.InvoiceStatusAccepted, res.Status)
	assert.Equal(t, "20123456786-03-B001-0001.zip", h.srv.Requests()[0].FileName)
}

func TestIssue_EmpresasConCarrilesIndependientes(t *testing.T) {
	h := newHarness(t, sunattest.Accept)
	other := testutil.Company("emp-2")
	other.RUC = testutil.CustomerRUC
	h.store.PutCompany(*other)
	h.putCredentials("emp-2")
	h.store.PutSale(*testutil.TwoLineSale("venta-2", "emp-2"))
	ctx := context.Background()

	a, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	b, err := h.svc.Issue(ctx, "emp-2", "venta-2")
	require.NoError(t, err)
	assert.Equal(t, "F001-0001", a.DocumentID)
	assert.Equal(t, "F001-0001", b.DocumentID)

	// La venta de otra empresa no es visible.
	_, err = h.svc.Issue(ctx, "emp-2", saleID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	inv, err := h.svc.GetInvoice(ctx, "emp-2", "F001-0001")
	require.NoError(t, err)
	assert.Equal(t, "emp-2", inv.CompanyID)
}

func TestIssue_ConcurrenteNumerosConsecutivos(t *testing.T) {
	const sales = 10
	h := newHarness(t, sunattest.Accept)
	for i := 0; i < sales; i++ {
		h.store.PutSale(*testutil.TwoLineSale("venta-c"+string(rune('a'+i)), companyID))
	}

	var wg sync.WaitGroup
	ids := make(chan string, sales)
	for i := 0; i < sales; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := h.svc.Issue(context.Background(), companyID, id)
			if assert.NoError(t, err) {
				ids <- res.DocumentID
			}
		}("venta-c" + string(rune('a'+i)))
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicado %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, sales)
	assert.Equal(t, sales, h.lastCorrelative(t, companyID, "01"))
}

// saleBarrier retiene la consulta previa por venta hasta que lleguen n llamadas,
// así las emisiones concurrentes de la misma venta pasan juntas esa verificación.
type saleBarrier struct {
	repository.InvoiceRepository
	mu      sync.Mutex
	n       int
	waiting int
	release chan struct{}
}

func (b *saleBarrier) arm(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n, b.waiting, b.release = n, 0, make(chan struct{})
}

func (b *saleBarrier) GetLatestBySale(ctx context.Context, companyID, saleID string) (*entity.Invoice, error) {
	b.mu.Lock()
	release := b.release
	if release != nil {
		b.waiting++
		if b.waiting == b.n {
			close(release)
			b.release = nil
		}
	}
	b.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.InvoiceRepository.GetLatestBySale(ctx, companyID, saleID)
}

func withSaleBarrier(b *saleBarrier) func(*billing.IssueServiceDeps) {
	return func(d *billing.IssueServiceDeps) {
		b.InvoiceRepository = d.Invoices
		d.Invoices = b
	}
}

type callResult struct {
	res *dto.IssueResult
	err error
}

func runTwice(call func() (*dto.IssueResult, error)) []callResult {
	out := make(chan callResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := call()
			out <- callResult{res, err}
		}()
	}
	return []callResult{<-out, <-out}
}

func TestIssue_MismaVentaConcurrenteUnSoloNumero(t *testing.T) {
	barrier := &saleBarrier{}
	h := newHarnessWith(t, sunattest.Accept, 0, withSaleBarrier(barrier))
	ctx := context.Background()

	barrier.arm(2)
	results := runTwice(func() (*dto.IssueResult, error) { return h.svc.Issue(ctx, companyID, saleID) })

	ok := 0
	for _, r := range results {
		if r.err != nil {
			assert.ErrorIs(t, r.err, domain.ErrConflict)
			continue
		}
		ok++
		assert.Equal(t, "F001-0001", r.res.DocumentID)
	}
	assert.GreaterOrEqual(t, ok, 1)
	assert.Equal(t, 1, h.lastCorrelative(t, companyID, "01"))
	assert.Len(t, h.srv.Requests(), 1)
	assert.Equal(t, entity.InvoiceStatusAccepted, h.invoice(t, companyID, "F001-0001").Status)
	other, err := h.store.Invoices().GetByDocumentID(ctx, companyID, "F001-0002")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestReissue_ConcurrenteUnSoloNumeroNuevo(t *testing.T) {
	barrier := &saleBarrier{}
	h := newHarnessWith(t, func(attempt int, req sunattest.Request) sunattest.Reply {
		if attempt == 1 {
			return rejectWith("2335")(attempt, req)
		}
		return sunattest.Accept(attempt, req)
	}, 0, withSaleBarrier(barrier))
	ctx := context.Background()

	res, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	require.Equal(t, entity.InvoiceStatusRejected, res.Status)

	barrier.arm(2)
	results := runTwice(func() (*dto.IssueResult, error) { return h.svc.Reissue(ctx, companyID, saleID) })

	var oks, conflicts int
	for _, r := range results {
		if r.err != nil {
			assert.ErrorIs(t, r.err, domain.ErrConflict)
			conflicts++
			continue
		}
		oks++
		assert.Equal(t, "F001-0002", r.res.DocumentID)
	}
	assert.Equal(t, 1, oks)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 2, h.lastCorrelative(t, companyID, "01"))
	assert.Len(t, h.srv.Requests(), 2)
}

// ── Reintentos ────────────────────────────────────────────────────────────────

func TestIssue_TimeoutLuegoReintentoSinReasignarNiRefirmar(t *testing.T) {
	h := newHarnessWith(t, func(attempt int, req sunattest.Request) sunattest.Reply {
		reply := sunattest.Accept(attempt, req)
		if attempt == 1 {
			reply.Delay = 5 * time.Second
		}
		return reply
	}, 500*time.Millisecond)
	ctx := context.Background()

	res, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusSendError, res.Status)
	assert.Equal(t, 1, res.RetryCount)
	assert.NotEmpty(t, res.LastError)

	first := h.invoice(t, companyID, "F001-0001")
	require.NotNil(t, first.NextRetryAt)
	signedBefore := first.SignedXML
	digestBefore := first.DigestValue

	res, err = h.svc.Retry(ctx, companyID, "F001-0001")
	require.NoError(t, err)
	assert.Equal(t, "F001-0001", res.DocumentID)
	assert.Equal(t, entity.InvoiceStatusAccepted, res.Status)

	after := h.invoice(t, companyID, "F001-0001")
	assert.Equal(t, signedBefore, after.SignedXML)
	assert.Equal(t, digestBefore, after.DigestValue)
	assert.Nil(t, after.NextRetryAt)
	assert.Equal(t, 1, h.lastCorrelative(t, companyID, "01"))

	reqs := h.srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].FileName, reqs[1].FileName)
	_, sent1 := unzipSingle(t, reqs[0].Zip)
	_, sent2 := unzipSingle(t, reqs[1].Zip)
	assert.Equal(t, sent1, sent2)

	recs := h.submissions(t, after)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].AttemptSeq)
	assert.Equal(t, domain.HTTPOutcomeTimeout, recs[0].HTTPOutcome)
	assert.Equal(t, entity.AuthorityDecisionUnknown, recs[0].AuthorityDecision)
	assert.Equal(t, 2, recs[1].AttemptSeq)
	assert.Equal(t, entity.AuthorityDecisionAccepted, recs[1].AuthorityDecision)
}

func TestIssue_ReanudarSendErrorDesdeIssue(t *testing.T) {
	h := newHarness(t, func(attempt int, req sunattest.Request) sunattest.Reply {
		if attempt == 1 {
			return sunattest.Reply{Status: http.StatusInternalServerError, Body: sunattest.Fault("soap-env:Server", "servicio no disponible")}
		}
		return sunattest.Accept(attempt, req)
	})
	ctx := context.Background()

	res, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusSendError, res.Status)

	res, err = h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, "F001-0001", res.DocumentID)
	assert.Equal(t, entity.InvoiceStatusAccepted, res.Status)
}

// ── Rechazo ───────────────────────────────────────────────────────────────────

func TestIssue_RechazoRequiereReemision(t *testing.T) {
	h := newHarness(t, func(attempt int, req sunattest.Request) sunattest.Reply {
		if attempt == 1 {
			return rejectWith("2335")(attempt, req)
		}
		return sunattest.Accept(attempt, req)
	})
	ctx := context.Background()

	res, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusRejected, res.Status)
	assert.Equal(t, "2335", res.ResponseCode)

	// Volver a emitir solo informa el rechazo.
	res, err = h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusRejected, res.Status)
	assert.Len(t, h.srv.Requests(), 1)

	_, err = h.svc.Retry(ctx, companyID, "F001-0001")
	assert.ErrorIs(t, err, domain.ErrAuthorityRejection)

	res, err = h.svc.Reissue(ctx, companyID, saleID)
	require.NoError(t, err)
	assert.Equal(t, "F001-0002", res.DocumentID)
	assert.Equal(t, entity.InvoiceStatusAccepted, res.Status)

	rejected := h.invoice(t, companyID, "F001-0001")
	assert.Equal(t, entity.InvoiceStatusRejected, rejected.Status)
	recs := h.submissions(t, rejected)
	require.Len(t, recs, 1)
	assert.Equal(t, entity.AuthorityDecisionRejected, recs[0].AuthorityDecision)
}

func TestIssue_FaultClienteEsRechazo(t *testing.T) {
	h := newHarness(t, func(int, sunattest.Request) sunattest.Reply {
		return sunattest.Reply{Status: http.StatusInternalServerError, Body: sunattest.Fault("soap-env:Client.0306", "No se puede leer (parsear) el archivo XML")}
	})

	res, err := h.svc.Issue(context.Background(), companyID, saleID)
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusRejected, res.Status)
	assert.Equal(t, "0306", res.ResponseCode)
}

func TestReissue_SoloDesdeRechazado(t *testing.T) {
	h := newHarness(t, sunattest.Accept)
	ctx := context.Background()

	_, err := h.svc.Reissue(ctx, companyID, saleID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	_, err = h.svc.Reissue(ctx, companyID, saleID)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// ── Fallos antes del envío ────────────────────────────────────────────────────

func TestIssue_SinCertificadoQuedaPending(t *testing.T) {
	h := newHarness(t, sunattest.Accept)
	h.store.PutCredentials(entity.CompanyCredentials{
		CompanyID: companyID,
		Signing: entity.SigningCredential{
			Shape: entity.CredentialShapePEM,
			PEM:   &entity.PEMCredential{KeyPEM: []byte("no es una llave"), CertPEM: h.cert.CertPEM},
		},
	})
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, companyID, saleID)
	assert.ErrorIs(t, err, domain.ErrCredential)
	assert.NotContains(t, err.Error(), "no es una llave")

	inv := h.invoice(t, companyID, "F001-0001")
	assert.Equal(t, entity.InvoiceStatusPending, inv.Status)
	assert.Empty(t, inv.SignedXML)
	assert.NotEmpty(t, inv.LastError)
	assert.Empty(t, h.srv.Requests())

	// Corregido el certificado, el mismo número se firma y se envía.
	h.putCredentials(companyID)
	res, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)
	assert.Equal(t, "F001-0001", res.DocumentID)
	assert.Equal(t, entity.InvoiceStatusAccepted, res.Status)
	assert.Equal(t, 1, h.lastCorrelative(t, companyID, "01"))
}

func TestIssue_VentaInvalidaNoConsumeNumero(t *testing.T) {
	h := newHarness(t, sunattest.Accept)
	sale := testutil.TwoLineSale("venta-vacia", companyID)
	sale.Lines = nil
	h.store.PutSale(*sale)

	_, err := h.svc.Issue(context.Background(), companyID, "venta-vacia")
	assert.ErrorIs(t, err, domain.ErrBuildValidation)
	assert.Equal(t, 0, h.lastCorrelative(t, companyID, "01"))
	assert.Empty(t, h.srv.Requests())
}

func TestIssue_EntradasInvalidas(t *testing.T) {
	h := newHarness(t, sunattest.Accept)
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, "", saleID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.svc.Issue(ctx, "emp-x", saleID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.Issue(ctx, companyID, "no-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.svc.Retry(ctx, companyID, "F001-0099")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	suspended := testutil.Company(companyID)
	suspended.Status = entity.CompanyStatusSuspended
	h.store.PutCompany(*suspended)
	_, err = h.svc.Issue(ctx, companyID, saleID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

// ── Registro de intentos ──────────────────────────────────────────────────────

var errDisco = errors.New("disco lleno")

// flakySubmissions falla los primeros failures Append y luego delega.
type flakySubmissions struct {
	repository.SubmissionRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakySubmissions) Append(ctx context.Context, rec *entity.SubmissionRecord) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errDisco
	}
	return f.SubmissionRepository.Append(ctx, rec)
}

func withSubmissions(f *flakySubmissions) func(*billing.IssueServiceDeps) {
	return func(d *billing.IssueServiceDeps) {
		f.SubmissionRepository = d.Submissions
		d.Submissions = f
	}
}

func TestIssue_RegistroDeIntentoFallidoNoSeOculta(t *testing.T) {
	subs := &flakySubmissions{failures: 100}
	h := newHarnessWith(t, sunattest.Accept, 0, withSubmissions(subs))

	_, err := h.svc.Issue(context.Background(), companyID, saleID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errDisco)
	assert.Greater(t, subs.calls, 1)

	// El veredicto de SUNAT no se pierde aunque falte la fila de auditoría.
	inv := h.invoice(t, companyID, "F001-0001")
	assert.Equal(t, entity.InvoiceStatusAccepted, inv.Status)
	assert.NotEmpty(t, inv.CDR)
	assert.Len(t, h.srv.Requests(), 1)
}

func TestIssue_RegistroDeIntentoSeReintenta(t *testing.T) {
	subs := &flakySubmissions{failures: 1}
	h := newHarnessWith(t, sunattest.Accept, 0, withSubmissions(subs))

	res, err := h.svc.Issue(context.Background(), companyID, saleID)
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusAccepted, res.Status)

	recs := h.submissions(t, h.invoice(t, companyID, "F001-0001"))
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].RawResponse)
}

// ── Solicitudes no enviables ──────────────────────────────────────────────────

// brokenSubmitter pasa Check pero no logra armar la solicitud.
type brokenSubmitter struct{ calls int }

func (b *brokenSubmitter) Check(sunat.SubmitRequest) error { return nil }

func (b *brokenSubmitter) Submit(context.Context, sunat.SubmitRequest) (*sunat.SubmissionOutcome, error) {
	b.calls++
	return nil, fmt.Errorf("%w: crear request", domain.ErrUnsendable)
}

func TestIssue_EndpointInvalidoNoCuentaComoTransporte(t *testing.T) {
	h := newHarnessWith(t, sunattest.Accept, 0, func(d *billing.IssueServiceDeps) {
		d.Submitter = sunat.NewSOAPClientWithEndpoint("", config.SUNATConfig{Environment: config.SUNATEnvBeta}, zerolog.Nop())
	})

	_, err := h.svc.Issue(context.Background(), companyID, saleID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsendable)
	assert.NotErrorIs(t, err, domain.ErrTransport)

	inv := h.invoice(t, companyID, "F001-0001")
	assert.Equal(t, entity.InvoiceStatusSigned, inv.Status)
	assert.Zero(t, inv.RetryCount)
	assert.Nil(t, inv.NextRetryAt)
	assert.Contains(t, inv.LastError, "endpoint")
	assert.Empty(t, h.submissions(t, inv))
	assert.Empty(t, h.srv.Requests())
}

func TestIssue_SolicitudNoArmadaNoConsumeReintento(t *testing.T) {
	broken := &brokenSubmitter{}
	h := newHarnessWith(t, sunattest.Accept, 0, func(d *billing.IssueServiceDeps) { d.Submitter = broken })
	start := time.Now()

	_, err := h.svc.Issue(context.Background(), companyID, saleID)
	assert.ErrorIs(t, err, domain.ErrUnsendable)
	assert.Equal(t, 1, broken.calls)

	inv := h.invoice(t, companyID, "F001-0001")
	assert.Equal(t, entity.InvoiceStatusSendError, inv.Status)
	assert.Zero(t, inv.RetryCount)
	require.NotNil(t, inv.NextRetryAt)
	assert.True(t, inv.NextRetryAt.After(start.Add(30*time.Minute)), "queda apartado del barrido")
	assert.Empty(t, h.submissions(t, inv))

	due, err := h.store.Invoices().ListRetryable(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

// ── Consultas ─────────────────────────────────────────────────────────────────

func TestConsultas(t *testing.T) {
	h := newHarness(t, sunattest.Accept)
	ctx := context.Background()
	_, err := h.svc.Issue(ctx, companyID, saleID)
	require.NoError(t, err)

	inv, err := h.svc.GetInvoice(ctx, companyID, "F001-0001")
	require.NoError(t, err)
	assert.Equal(t, entity.InvoiceStatusAccepted, inv.Status)
	assert.True(t, inv.HasCDR)
	assert.Contains(t, inv.QRData, "20123456786|01|F001|1|3.60|33.60|")
	assert.Contains(t, inv.QRData, "|6|"+testutil.CustomerRUC+"|"+inv.DigestValue+"|")

	subs, err := h.svc.ListSubmissions(ctx, companyID, "F001-0001")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, entity.AuthorityDecisionAccepted, subs[0].AuthorityDecision)

	xmlBytes, name, err := h.svc.SignedXML(ctx, companyID, "F001-0001")
	require.NoError(t, err)
	assert.Equal(t, "20123456786-01-F001-0001.xml", name)
	assert.NoError(t, signer.Verify(xmlBytes))

	_, err = h.svc.GetInvoice(ctx, "emp-2", "F001-0001")
	assert.Error(t, err)
}
