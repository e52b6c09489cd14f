package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/facturador-sunat/internal/application/dto"
	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
	domsunat "github.com/jhoicas/facturador-sunat/internal/domain/sunat"
	infrasunat "github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat"
	"github.com/jhoicas/facturador-sunat/pkg/config"
	pkgsunat "github.com/jhoicas/facturador-sunat/pkg/sunat"
)

// persistTimeout plazo para guardar el resultado de un envío aunque el contexto
// del llamador ya haya vencido (el caso típico de un timeout contra SUNAT).
const persistTimeout = 10 * time.Second

const (
	appendAttempts = 3
	appendBackoff  = 50 * time.Millisecond
)

// PipelineConfig parámetros del flujo de emisión que no pertenecen a un adaptador.
type PipelineConfig struct {
	Environment      string // beta | prod
	BetaSOLUser      string
	BetaSOLPassword  string
	RetryBaseBackoff time.Duration
	RetryMaxBackoff  time.Duration
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.RetryBaseBackoff <= 0 {
		c.RetryBaseBackoff = time.Minute
	}
	if c.RetryMaxBackoff <= 0 {
		c.RetryMaxBackoff = time.Hour
	}
	return c
}

// IssueServiceDeps dependencias del servicio de emisión.
type IssueServiceDeps struct {
	Tx          IssuanceTxRunner
	Allocator   *SeriesAllocator
	Companies   repository.CompanyRepository
	Credentials repository.CredentialRepository
	Sales       repository.SaleRepository
	Invoices    repository.InvoiceRepository
	Submissions repository.SubmissionRepository
	Builder     DocumentBuilder
	Certs       CredentialLoader
	Signer      DocumentSigner
	Submitter   Submitter
}

// IssueService orquesta el ciclo completo de un comprobante:
//
//	venta → número (CAS) → UBL → firma → ZIP → sendBill → CDR → estado final
//
// Cada paso persiste su resultado antes del siguiente, así una interrupción se
// retoma desde el último estado guardado sin pedir otro número ni volver a firmar.
type IssueService struct {
	deps IssueServiceDeps
	cfg  PipelineConfig
	now  func() time.Time
	log  zerolog.Logger
}

// NewIssueService construye el servicio. Cada empresa usa sus propias credenciales;
// el servicio no guarda estado entre llamadas.
func NewIssueService(deps IssueServiceDeps, cfg PipelineConfig, log zerolog.Logger) *IssueService {
	if deps.Allocator == nil {
		deps.Allocator = NewSeriesAllocator(0, log)
	}
	return &IssueService{deps: deps, cfg: cfg.withDefaults(), now: time.Now, log: log}
}

// WithClock reemplaza el reloj usado para intentos y próximos reintentos.
func (s *IssueService) WithClock(now func() time.Time) *IssueService {
	cp := *s
	cp.now = now
	return &cp
}

// Issue emite el comprobante de una venta cerrada.
//
// Si la venta ya tiene un comprobante en curso lo retoma desde su estado; si está
// ACCEPTED o REJECTED solo lo informa (un rechazo se corrige con Reissue).
// REJECTED y SEND_ERROR vuelven en el resultado con error nil.
func (s *IssueService) Issue(ctx context.Context, companyID, saleID string) (*dto.IssueResult, error) {
	if companyID == "" || saleID == "" {
		return nil, fmt.Errorf("%w: company_id y sale_id son obligatorios", domain.ErrInvalidInput)
	}
	company, err := s.company(ctx, companyID)
	if err != nil {
		return nil, err
	}

	latest, err := s.deps.Invoices.GetLatestBySale(ctx, companyID, saleID)
	if err != nil {
		return nil, fmt.Errorf("issue: buscar comprobante previo: %w", err)
	}
	if latest != nil {
		return s.resume(ctx, latest, company)
	}
	return s.issueNew(ctx, company, saleID, firstIssue)
}

// Reissue emite un comprobante nuevo (otro número) para una venta cuyo último
// comprobante fue rechazado por SUNAT.
func (s *IssueService) Reissue(ctx context.Context, companyID, saleID string) (*dto.IssueResult, error) {
	company, err := s.company(ctx, companyID)
	if err != nil {
		return nil, err
	}
	latest, err := s.deps.Invoices.GetLatestBySale(ctx, companyID, saleID)
	if err != nil {
		return nil, fmt.Errorf("reissue: buscar comprobante previo: %w", err)
	}
	if _, err := afterRejection(latest); err != nil {
		return nil, err
	}
	s.log.Info().Str("sale_id", saleID).Str("rejected", latest.DocumentID).Msg("reemisión con nuevo número")
	return s.issueNew(ctx, company, saleID, afterRejection)
}

// Retry reenvía un comprobante existente. SIGNED y SEND_ERROR reenvían los bytes
// firmados guardados; PENDING firma primero. Nunca pide otro número.
func (s *IssueService) Retry(ctx context.Context, companyID, documentID string) (*dto.IssueResult, error) {
	company, err := s.company(ctx, companyID)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoice(ctx, companyID, documentID)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case entity.InvoiceStatusRejected:
		return nil, fmt.Errorf("%w: %s [%s] %s", domain.ErrAuthorityRejection, inv.DocumentID, inv.ResponseCode, inv.ResponseMessage)
	case entity.InvoiceStatusSending:
		return nil, fmt.Errorf("%w: %s tiene un envío en curso", domain.ErrConflict, inv.DocumentID)
	}
	return s.advance(ctx, inv, company, nil)
}

// allocationGuard decide, con la venta bloqueada, si corresponde un número nuevo.
// Devuelve el comprobante vigente cuando hay que retomarlo en lugar de numerar.
type allocationGuard func(latest *entity.Invoice) (*entity.Invoice, error)

// firstIssue numera solo si la venta no tiene comprobante.
func firstIssue(latest *entity.Invoice) (*entity.Invoice, error) {
	return latest, nil
}

// afterRejection numera solo si el último comprobante sigue rechazado.
func afterRejection(latest *entity.Invoice) (*entity.Invoice, error) {
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	if latest.Status != entity.InvoiceStatusRejected {
		return nil, fmt.Errorf("%w: %s está en %s, solo se reemite un comprobante rechazado",
			domain.ErrConflict, latest.DocumentID, latest.Status)
	}
	return nil, nil
}

// issueNew valida la venta, reserva el número y crea el registro PENDING con el XML
// sin firmar en una sola transacción. Si el armado falla el número no se consume.
// La consulta previa se repite dentro de la transacción: una emisión concurrente de
// la misma venta que ganó el bloqueo se retoma en vez de pedir otro número.
func (s *IssueService) issueNew(ctx context.Context, company *entity.Company, saleID string, guard allocationGuard) (*dto.IssueResult, error) {
	sale, err := s.deps.Sales.GetByID(ctx, company.ID, saleID)
	if err != nil {
		return nil, fmt.Errorf("issue: obtener venta: %w", err)
	}
	if sale == nil {
		return nil, fmt.Errorf("%w: venta %s", domain.ErrNotFound, saleID)
	}
	if err := domsunat.ValidateSale(sale, company); err != nil {
		return nil, err
	}

	issueDate := s.deps.Builder.Today()
	var inv, existing *entity.Invoice
	err = s.deps.Tx.RunIssuance(ctx, company.ID, sale.ID, func(seriesRepo repository.SeriesRepository, invoiceRepo repository.InvoiceRepository) error {
		latest, err := invoiceRepo.GetLatestBySale(ctx, company.ID, sale.ID)
		if err != nil {
			return fmt.Errorf("issue: buscar comprobante previo: %w", err)
		}
		if existing, err = guard(latest); err != nil || existing != nil {
			return err
		}
		number, err := s.deps.Allocator.Allocate(ctx, seriesRepo, domsunat.SeriesKey{
			CompanyID:        company.ID,
			DocumentTypeCode: sale.DocumentTypeCode,
		})
		if err != nil {
			return err
		}
		unsigned, err := s.render(sale, number, company, issueDate)
		if err != nil {
			return err
		}
		inv = newPendingInvoice(sale, number, issueDate, unsigned)
		return invoiceRepo.Create(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resume(ctx, existing, company)
	}
	s.log.Info().Str("sale_id", sale.ID).Str("document_id", inv.DocumentID).Msg("número asignado")
	return s.advance(ctx, inv, company, sale)
}

// resume continúa el comprobante vigente de la venta sin pedir número.
func (s *IssueService) resume(ctx context.Context, inv *entity.Invoice, company *entity.Company) (*dto.IssueResult, error) {
	s.log.Info().Str("sale_id", inv.SaleID).Str("document_id", inv.DocumentID).Str("status", inv.Status).
		Msg("la venta ya tiene comprobante, se retoma")
	res, err := s.advance(ctx, inv, company, nil)
	if res != nil {
		res.Resumed = true
	}
	return res, err
}

// advance lleva el comprobante desde su estado actual hasta donde se pueda.
func (s *IssueService) advance(ctx context.Context, inv *entity.Invoice, company *entity.Company, sale *entity.Sale) (*dto.IssueResult, error) {
	if inv.Status == entity.InvoiceStatusPending {
		if err := s.sign(ctx, inv, company, sale); err != nil {
			return nil, fmt.Errorf("%s: %w", inv.DocumentID, err)
		}
	}
	if domsunat.IsSubmittable(inv.Status) {
		return s.submit(ctx, inv, company)
	}
	return toIssueResult(inv), nil
}

// sign firma el XML guardado y pasa a SIGNED. Si falla el comprobante sigue en
// PENDING con LastError; el mismo número se firma en el próximo intento.
func (s *IssueService) sign(ctx context.Context, inv *entity.Invoice, company *entity.Company, sale *entity.Sale) error {
	log := s.log.With().Str("document_id", inv.DocumentID).Logger()

	if len(inv.UnsignedXML) == 0 {
		if sale == nil {
			var err error
			if sale, err = s.deps.Sales.GetByID(ctx, inv.CompanyID, inv.SaleID); err != nil {
				return fmt.Errorf("obtener venta: %w", err)
			}
			if sale == nil {
				return fmt.Errorf("%w: venta %s", domain.ErrNotFound, inv.SaleID)
			}
		}
		unsigned, err := s.render(sale, numberOf(inv), company, inv.IssueDate)
		if err != nil {
			return s.keepPending(ctx, inv, err)
		}
		inv.UnsignedXML = unsigned
	}

	creds, err := s.deps.Credentials.GetByCompany(ctx, inv.CompanyID)
	if err != nil {
		return fmt.Errorf("obtener credenciales: %w", err)
	}
	if creds == nil {
		return s.keepPending(ctx, inv, fmt.Errorf("%w: la empresa %s no tiene certificado", domain.ErrCredential, inv.CompanyID))
	}
	cert, err := s.deps.Certs.Load(creds.Signing)
	if err != nil {
		return s.keepPending(ctx, inv, err)
	}
	signed, err := s.deps.Signer.Sign(inv.DocumentID, inv.UnsignedXML, cert)
	if err != nil {
		return s.keepPending(ctx, inv, err)
	}

	if err := domsunat.Transition(inv.Status, entity.InvoiceStatusSigned); err != nil {
		return err
	}
	inv.SignedXML = signed.XML
	inv.DigestValue = signed.DigestValue
	inv.Status = entity.InvoiceStatusSigned
	inv.LastError = ""
	if err := s.deps.Invoices.Update(ctx, inv, entity.InvoiceStatusPending); err != nil {
		return fmt.Errorf("guardar firma: %w", err)
	}
	log.Info().Str("digest", inv.DigestValue).Msg("comprobante firmado")
	return nil
}

// keepPending guarda el motivo del fallo sin cambiar de estado y devuelve cause.
func (s *IssueService) keepPending(ctx context.Context, inv *entity.Invoice, cause error) error {
	inv.LastError = cause.Error()
	if err := s.deps.Invoices.Update(ctx, inv, entity.InvoiceStatusPending); err != nil {
		s.log.Error().Err(err).Str("document_id", inv.DocumentID).Msg("no se pudo guardar el error de firma")
	}
	s.log.Warn().Err(cause).Str("document_id", inv.DocumentID).Msg("firma pendiente")
	return cause
}

// submit pasa a SENDING con update condicional, envía los bytes firmados tal cual
// están guardados, registra el intento y deja el estado final.
func (s *IssueService) submit(ctx context.Context, inv *entity.Invoice, company *entity.Company) (*dto.IssueResult, error) {
	log := s.log.With().Str("document_id", inv.DocumentID).Logger()

	xmlName, zipName := infrasunat.Filenames(company.RUC, inv.DocumentTypeCode, inv.DocumentID)
	zipBytes, err := infrasunat.CompressXMLToZip(inv.SignedXML, xmlName)
	if err != nil {
		return nil, err
	}
	username, password, err := s.solCredentials(ctx, company)
	if err != nil {
		return nil, err
	}
	req := infrasunat.SubmitRequest{
		FileName: infrasunat.FileBaseName(company.RUC, inv.DocumentTypeCode, inv.DocumentID),
		ZipBytes: zipBytes,
		Username: username,
		Password: password,
	}
	if err := s.deps.Submitter.Check(req); err != nil {
		return nil, s.holdUnsendable(ctx, inv, inv.Status, err)
	}

	from := inv.Status
	if err := domsunat.Transition(from, entity.InvoiceStatusSending); err != nil {
		return nil, err
	}
	inv.Status = entity.InvoiceStatusSending
	if err := s.deps.Invoices.Update(ctx, inv, from); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: %s ya está siendo enviado", domain.ErrConflict, inv.DocumentID)
		}
		return nil, fmt.Errorf("marcar envío: %w", err)
	}

	outcome, err := s.deps.Submitter.Submit(ctx, req)

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if errors.Is(err, domain.ErrUnsendable) {
		// Nada salió hacia SUNAT: no hay intento que registrar ni se consume reintento.
		inv.Status = entity.InvoiceStatusSendError
		return nil, s.holdUnsendable(pctx, inv, entity.InvoiceStatusSending, err)
	}
	if err != nil {
		outcome = &infrasunat.SubmissionOutcome{
			Kind:        infrasunat.OutcomeTransportError,
			HTTPOutcome: domain.HTTPOutcomeNetworkError,
			Message:     err.Error(),
			Err:         err,
		}
	}

	now := s.now()
	rec := &entity.SubmissionRecord{
		InvoiceID:         inv.ID,
		DocumentID:        inv.DocumentID,
		AttemptedAt:       now,
		FileName:          zipName,
		HTTPOutcome:       outcome.HTTPOutcome,
		AuthorityDecision: authorityDecision(outcome.Kind),
		ResponseCode:      outcome.ResponseCode,
		RawResponse:       outcome.Raw,
	}
	if outcome.Kind != infrasunat.OutcomeAccepted {
		rec.ErrorMessage = outcome.Message
	}
	appendErr := s.appendSubmission(pctx, rec)

	switch outcome.Kind {
	case infrasunat.OutcomeAccepted:
		inv.Status = entity.InvoiceStatusAccepted
		inv.CDR = outcome.CDR
		inv.ResponseCode = outcome.ResponseCode
		inv.ResponseMessage = outcome.Message
		inv.LastError = ""
		inv.NextRetryAt = nil
	case infrasunat.OutcomeRejected:
		inv.Status = entity.InvoiceStatusRejected
		inv.CDR = outcome.CDR
		inv.ResponseCode = outcome.ResponseCode
		inv.ResponseMessage = outcome.Message
		inv.LastError = outcome.Message
		inv.NextRetryAt = nil
	default:
		inv.Status = entity.InvoiceStatusSendError
		inv.RetryCount++
		next := now.Add(s.backoff(inv.RetryCount))
		inv.NextRetryAt = &next
		inv.LastError = outcome.Message
	}
	if err := s.deps.Invoices.Update(pctx, inv, entity.InvoiceStatusSending); err != nil {
		return nil, fmt.Errorf("guardar resultado del envío: %w", err)
	}

	// El veredicto de SUNAT ya quedó en el comprobante; sin la fila de auditoría la
	// respuesta cruda solo sobrevive en el log y el llamador tiene que enterarse.
	if appendErr != nil {
		log.Error().Err(appendErr).Str("status", inv.Status).Bytes("raw_response", outcome.Raw).
			Msg("no se pudo registrar el intento de envío")
		return nil, fmt.Errorf("%s quedó en %s pero no se registró el intento: %w", inv.DocumentID, inv.Status, appendErr)
	}

	ev := log.Info()
	if inv.Status != entity.InvoiceStatusAccepted {
		ev = log.Warn()
	}
	ev.Str("status", inv.Status).Str("response_code", inv.ResponseCode).Int("attempt", rec.AttemptSeq).
		Str("http_outcome", outcome.HTTPOutcome).Msg("envío a SUNAT")
	return toIssueResult(inv), nil
}

// appendSubmission registra el intento; reintenta unas pocas veces porque la fila
// es la única copia de la respuesta cruda.
func (s *IssueService) appendSubmission(ctx context.Context, rec *entity.SubmissionRecord) error {
	var err error
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		if err = s.deps.Submissions.Append(ctx, rec); err == nil || attempt == appendAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * appendBackoff):
		}
	}
	return err
}

// holdUnsendable guarda el motivo sin contar un intento. Un SEND_ERROR se aparta
// hasta el tope de espera para que el barrido no lo revise en cada pasada.
func (s *IssueService) holdUnsendable(ctx context.Context, inv *entity.Invoice, expected string, cause error) error {
	inv.LastError = cause.Error()
	if inv.Status == entity.InvoiceStatusSendError {
		next := s.now().Add(s.cfg.RetryMaxBackoff)
		inv.NextRetryAt = &next
	}
	if err := s.deps.Invoices.Update(ctx, inv, expected); err != nil {
		s.log.Error().Err(err).Str("document_id", inv.DocumentID).Msg("no se pudo guardar el motivo")
	}
	s.log.Error().Err(cause).Str("document_id", inv.DocumentID).Msg("solicitud a SUNAT no enviable")
	return fmt.Errorf("%s: %w", inv.DocumentID, cause)
}

// markStale cierra un SENDING sin respuesta como SEND_ERROR para que vuelva a enviarse.
func (s *IssueService) markStale(ctx context.Context, inv *entity.Invoice) error {
	if err := domsunat.Transition(inv.Status, entity.InvoiceStatusSendError); err != nil {
		return err
	}
	now := s.now()
	msg := "envío interrumpido sin respuesta de SUNAT"
	inv.Status = entity.InvoiceStatusSendError
	inv.RetryCount++
	inv.NextRetryAt = &now
	inv.LastError = msg
	if err := s.deps.Invoices.Update(ctx, inv, entity.InvoiceStatusSending); err != nil {
		return err
	}
	return s.deps.Submissions.Append(ctx, &entity.SubmissionRecord{
		InvoiceID:         inv.ID,
		DocumentID:        inv.DocumentID,
		AttemptedAt:       now,
		HTTPOutcome:       domain.HTTPOutcomeNetworkError,
		AuthorityDecision: entity.AuthorityDecisionUnknown,
		ErrorMessage:      msg,
	})
}

func (s *IssueService) render(sale *entity.Sale, number domsunat.AllocatedNumber, company *entity.Company, issueDate time.Time) ([]byte, error) {
	doc, err := s.deps.Builder.BuildAt(sale, number, company, issueDate)
	if err != nil {
		return nil, err
	}
	return infrasunat.RenderXML(doc)
}

// solCredentials usuario SOL de la empresa; en beta se aceptan los de prueba.
func (s *IssueService) solCredentials(ctx context.Context, company *entity.Company) (string, string, error) {
	creds, err := s.deps.Credentials.GetByCompany(ctx, company.ID)
	if err != nil {
		return "", "", fmt.Errorf("obtener usuario SOL: %w", err)
	}
	if creds != nil && creds.SOL.Username != "" {
		return infrasunat.SOLUsername(company.RUC, creds.SOL.Username), creds.SOL.Password, nil
	}
	if s.cfg.Environment != config.SUNATEnvProd && s.cfg.BetaSOLUser != "" {
		return infrasunat.SOLUsername(company.RUC, s.cfg.BetaSOLUser), s.cfg.BetaSOLPassword, nil
	}
	return "", "", fmt.Errorf("%w: la empresa %s no tiene usuario SOL", domain.ErrCredential, company.ID)
}

// backoff base·2^(n-1) con tope.
func (s *IssueService) backoff(attempt int) time.Duration {
	d := s.cfg.RetryBaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.RetryMaxBackoff {
			return s.cfg.RetryMaxBackoff
		}
	}
	return d
}

func (s *IssueService) company(ctx context.Context, companyID string) (*entity.Company, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: company_id es obligatorio", domain.ErrInvalidInput)
	}
	company, err := s.deps.Companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("obtener empresa: %w", err)
	}
	if company == nil {
		return nil, fmt.Errorf("%w: empresa %s", domain.ErrNotFound, companyID)
	}
	if company.Status != "" && company.Status != entity.CompanyStatusActive {
		return nil, fmt.Errorf("%w: la empresa %s está %s", domain.ErrForbidden, companyID, company.Status)
	}
	return company, nil
}

func (s *IssueService) invoice(ctx context.Context, companyID, documentID string) (*entity.Invoice, error) {
	inv, err := s.deps.Invoices.GetByDocumentID(ctx, companyID, documentID)
	if err != nil {
		return nil, fmt.Errorf("obtener comprobante: %w", err)
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: comprobante %s", domain.ErrNotFound, documentID)
	}
	return inv, nil
}

func newPendingInvoice(sale *entity.Sale, number domsunat.AllocatedNumber, issueDate time.Time, unsigned []byte) *entity.Invoice {
	currency := sale.Currency
	if currency == "" {
		currency = pkgsunat.CurrencyPEN
	}
	return &entity.Invoice{
		CompanyID:        sale.CompanyID,
		SaleID:           sale.ID,
		DocumentTypeCode: number.DocumentTypeCode,
		Series:           number.Series,
		Correlative:      number.Correlative,
		DocumentID:       number.DocumentID(),
		IssueDate:        issueDate,
		Currency:         currency,
		TaxTotal:         sale.TaxAmount,
		GrandTotal:       sale.Total,
		CustomerIDType:   sale.Customer.IdentityType,
		CustomerIDNumber: sale.Customer.IdentityNumber,
		Status:           entity.InvoiceStatusPending,
		UnsignedXML:      unsigned,
	}
}

func numberOf(inv *entity.Invoice) domsunat.AllocatedNumber {
	return domsunat.AllocatedNumber{
		CompanyID:        inv.CompanyID,
		DocumentTypeCode: inv.DocumentTypeCode,
		Series:           inv.Series,
		Correlative:      inv.Correlative,
	}
}

func authorityDecision(kind infrasunat.OutcomeKind) string {
	switch kind {
	case infrasunat.OutcomeAccepted:
		return entity.AuthorityDecisionAccepted
	case infrasunat.OutcomeRejected:
		return entity.AuthorityDecisionRejected
	default:
		return entity.AuthorityDecisionUnknown
	}
}

func toIssueResult(inv *entity.Invoice) *dto.IssueResult {
	return &dto.IssueResult{
		InvoiceID:       inv.ID,
		DocumentID:      inv.DocumentID,
		SaleID:          inv.SaleID,
		Status:          inv.Status,
		ResponseCode:    inv.ResponseCode,
		ResponseMessage: inv.ResponseMessage,
		LastError:       inv.LastError,
		RetryCount:      inv.RetryCount,
	}
}
