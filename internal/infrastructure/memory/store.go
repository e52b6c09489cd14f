// Package memory implementa los repositorios en memoria para desarrollo local y pruebas.
// Cada Store es independiente; no hay estado global.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
)

type seriesKey struct{ companyID, docType string }

// Store guarda todas las tablas detrás de un mismo mutex.
type Store struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	companies   map[string]entity.Company
	credentials map[string]entity.CompanyCredentials
	sales       map[string]entity.Sale
	series      map[seriesKey]entity.DocumentSeries
	invoices    map[string]entity.Invoice
	submissions map[string][]entity.SubmissionRecord
}

// NewStore crea un almacén vacío.
func NewStore() *Store {
	return &Store{
		companies:   make(map[string]entity.Company),
		credentials: make(map[string]entity.CompanyCredentials),
		sales:       make(map[string]entity.Sale),
		series:      make(map[seriesKey]entity.DocumentSeries),
		invoices:    make(map[string]entity.Invoice),
		submissions: make(map[string][]entity.SubmissionRecord),
	}
}

// PutCompany registra o reemplaza una empresa.
func (s *Store) PutCompany(c entity.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[c.ID] = c
}

// PutCredentials registra el material de firma y usuario SOL de la empresa.
func (s *Store) PutCredentials(c entity.CompanyCredentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[c.CompanyID] = c
}

// PutSale registra una venta cerrada.
func (s *Store) PutSale(sale entity.Sale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale.Lines = append([]entity.SaleLine(nil), sale.Lines...)
	s.sales[sale.ID] = sale
}

// PutSeries fija el estado de un carril (por ejemplo para probar el cambio de serie).
func (s *Store) PutSeries(ds entity.DocumentSeries) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[seriesKey{ds.CompanyID, ds.DocumentTypeCode}] = ds
}

// Series repositorio de numeración.
func (s *Store) Series() *SeriesRepo { return &SeriesRepo{s: s} }

// Invoices repositorio de comprobantes.
func (s *Store) Invoices() *InvoiceRepo { return &InvoiceRepo{s: s} }

// Submissions historial de envíos.
func (s *Store) Submissions() *SubmissionRepo { return &SubmissionRepo{s: s} }

// Sales lectura de ventas.
func (s *Store) Sales() *SaleRepo { return &SaleRepo{s: s} }

// Companies lectura de empresas.
func (s *Store) Companies() *CompanyRepo { return &CompanyRepo{s: s} }

// Credentials lectura de credenciales.
func (s *Store) Credentials() *CredentialRepo { return &CredentialRepo{s: s} }

// ── Numeración ────────────────────────────────────────────────────────────────

var _ repository.SeriesRepository = (*SeriesRepo)(nil)

// SeriesRepo carriles de numeración en memoria.
type SeriesRepo struct {
	s    *Store
	undo *undoLog
}

func (r *SeriesRepo) Get(_ context.Context, companyID, docTypeCode string) (*entity.DocumentSeries, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ds, ok := r.s.series[seriesKey{companyID, docTypeCode}]
	if !ok {
		return nil, nil
	}
	return &ds, nil
}

func (r *SeriesRepo) Create(_ context.Context, ds *entity.DocumentSeries) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := seriesKey{ds.CompanyID, ds.DocumentTypeCode}
	if _, ok := r.s.series[key]; ok {
		return false, nil
	}
	ds.UpdatedAt = time.Now()
	r.s.series[key] = *ds
	if r.undo != nil {
		r.undo.add(func() { delete(r.s.series, key) })
	}
	return true, nil
}

func (r *SeriesRepo) CompareAndSwap(_ context.Context, prev, next entity.DocumentSeries) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := seriesKey{prev.CompanyID, prev.DocumentTypeCode}
	cur, ok := r.s.series[key]
	if !ok || cur.Series != prev.Series || cur.LastCorrelative != prev.LastCorrelative {
		return false, nil
	}
	next.CompanyID, next.DocumentTypeCode = prev.CompanyID, prev.DocumentTypeCode
	next.UpdatedAt = time.Now()
	r.s.series[key] = next
	if r.undo != nil {
		r.undo.add(func() { r.s.series[key] = cur })
	}
	return true, nil
}

// ── Comprobantes ──────────────────────────────────────────────────────────────

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo comprobantes en memoria.
type InvoiceRepo struct {
	s    *Store
	undo *undoLog
}

func (r *InvoiceRepo) Create(_ context.Context, inv *entity.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.invoices {
		if existing.CompanyID != inv.CompanyID {
			continue
		}
		if existing.DocumentID == inv.DocumentID {
			return domain.ErrDuplicate
		}
		// Igual que el índice parcial en PostgreSQL: un solo comprobante vivo por venta.
		if existing.SaleID == inv.SaleID && existing.Status != entity.InvoiceStatusRejected {
			return fmt.Errorf("%w: la venta %s ya tiene %s", domain.ErrDuplicate, inv.SaleID, existing.DocumentID)
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	inv.UpdatedAt = inv.CreatedAt
	r.s.invoices[inv.ID] = cloneInvoice(*inv)
	if r.undo != nil {
		id := inv.ID
		r.undo.add(func() { delete(r.s.invoices, id) })
	}
	return nil
}

func (r *InvoiceRepo) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, nil
	}
	out := cloneInvoice(inv)
	return &out, nil
}

func (r *InvoiceRepo) GetByDocumentID(_ context.Context, companyID, documentID string) (*entity.Invoice, error) {
	return r.find(func(inv entity.Invoice) bool {
		return inv.CompanyID == companyID && inv.DocumentID == documentID
	}), nil
}

func (r *InvoiceRepo) GetLatestBySale(_ context.Context, companyID, saleID string) (*entity.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *entity.Invoice
	for _, inv := range r.s.invoices {
		if inv.CompanyID != companyID || inv.SaleID != saleID {
			continue
		}
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) ||
			(inv.CreatedAt.Equal(latest.CreatedAt) && inv.Correlative > latest.Correlative) {
			c := cloneInvoice(inv)
			latest = &c
		}
	}
	return latest, nil
}

func (r *InvoiceRepo) Update(_ context.Context, inv *entity.Invoice, expectedStatus string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.invoices[inv.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != expectedStatus {
		return domain.ErrConflict
	}
	inv.UpdatedAt = time.Now()
	r.s.invoices[inv.ID] = cloneInvoice(*inv)
	return nil
}

func (r *InvoiceRepo) ListRetryable(_ context.Context, now time.Time, limit int) ([]*entity.Invoice, error) {
	return r.list(limit, func(inv entity.Invoice) bool {
		return inv.Status == entity.InvoiceStatusSendError && (inv.NextRetryAt == nil || !inv.NextRetryAt.After(now))
	}), nil
}

func (r *InvoiceRepo) ListStaleSending(_ context.Context, before time.Time, limit int) ([]*entity.Invoice, error) {
	return r.list(limit, func(inv entity.Invoice) bool {
		return inv.Status == entity.InvoiceStatusSending && inv.UpdatedAt.Before(before)
	}), nil
}

func (r *InvoiceRepo) find(match func(entity.Invoice) bool) *entity.Invoice {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inv := range r.s.invoices {
		if match(inv) {
			out := cloneInvoice(inv)
			return &out
		}
	}
	return nil
}

func (r *InvoiceRepo) list(limit int, match func(entity.Invoice) bool) []*entity.Invoice {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Invoice
	for _, inv := range r.s.invoices {
		if match(inv) {
			c := cloneInvoice(inv)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneInvoice(inv entity.Invoice) entity.Invoice {
	inv.UnsignedXML = append([]byte(nil), inv.UnsignedXML...)
	inv.SignedXML = append([]byte(nil), inv.SignedXML...)
	inv.CDR = append([]byte(nil), inv.CDR...)
	if inv.NextRetryAt != nil {
		t := *inv.NextRetryAt
		inv.NextRetryAt = &t
	}
	return inv
}

// ── Envíos ────────────────────────────────────────────────────────────────────

var _ repository.SubmissionRepository = (*SubmissionRepo)(nil)

// SubmissionRepo historial en memoria; solo se agrega.
type SubmissionRepo struct{ s *Store }

func (r *SubmissionRepo) Append(_ context.Context, rec *entity.SubmissionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = time.Now()
	}
	rec.AttemptSeq = len(r.s.submissions[rec.InvoiceID]) + 1
	c := *rec
	c.RawResponse = append([]byte(nil), rec.RawResponse...)
	r.s.submissions[rec.InvoiceID] = append(r.s.submissions[rec.InvoiceID], c)
	return nil
}

func (r *SubmissionRepo) ListByInvoice(_ context.Context, invoiceID string) ([]*entity.SubmissionRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	recs := r.s.submissions[invoiceID]
	out := make([]*entity.SubmissionRecord, 0, len(recs))
	for i := range recs {
		c := recs[i]
		out = append(out, &c)
	}
	return out, nil
}

// ── Lecturas ──────────────────────────────────────────────────────────────────

var (
	_ repository.SaleRepository       = (*SaleRepo)(nil)
	_ repository.CompanyRepository    = (*CompanyRepo)(nil)
	_ repository.CredentialRepository = (*CredentialRepo)(nil)
)

// SaleRepo ventas en memoria.
type SaleRepo struct{ s *Store }

func (r *SaleRepo) GetByID(_ context.Context, companyID, saleID string) (*entity.Sale, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sale, ok := r.s.sales[saleID]
	if !ok || sale.CompanyID != companyID {
		return nil, nil
	}
	sale.Lines = append([]entity.SaleLine(nil), sale.Lines...)
	return &sale, nil
}

// CompanyRepo empresas en memoria.
type CompanyRepo struct{ s *Store }

func (r *CompanyRepo) GetByID(_ context.Context, id string) (*entity.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.companies[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CompanyRepo) GetByRUC(_ context.Context, ruc string) (*entity.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.companies {
		if c.RUC == ruc {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

// CredentialRepo credenciales en memoria.
type CredentialRepo struct{ s *Store }

func (r *CredentialRepo) GetByCompany(_ context.Context, companyID string) (*entity.CompanyCredentials, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.credentials[companyID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
