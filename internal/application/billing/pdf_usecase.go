package billing

import (
	"context"
	"fmt"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/repository"
	infrasunat "github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat"
)

// PDFUseCase genera la representación impresa de un comprobante electrónico.
// Solo se permite cuando el comprobante ya está firmado: el QR lleva el digest y el
// contenido sale del XML firmado guardado, no de la venta.
type PDFUseCase struct {
	invoiceRepo repository.InvoiceRepository
	companyRepo repository.CompanyRepository
	generator   InvoicePDFGenerator
}

// NewPDFUseCase construye el caso de uso inyectando todas sus dependencias.
func NewPDFUseCase(
	invoiceRepo repository.InvoiceRepository,
	companyRepo repository.CompanyRepository,
	generator InvoicePDFGenerator,
) *PDFUseCase {
	return &PDFUseCase{
		invoiceRepo: invoiceRepo,
		companyRepo: companyRepo,
		generator:   generator,
	}
}

// DownloadInvoicePDF arma el PDF del comprobante documentID de la empresa companyID.
//
// Retorna:
//   - (pdfBytes, filename, nil)  si todo sale bien.
//   - domain.ErrNotFound         si el comprobante o la empresa no existen.
//   - domain.ErrInvalidInput     si aún no está firmado.
func (uc *PDFUseCase) DownloadInvoicePDF(
	ctx context.Context,
	companyID, documentID string,
) (pdfBytes []byte, filename string, err error) {
	// ── 1. Cargar comprobante ─────────────────────────────────────────────────
	inv, err := uc.invoiceRepo.GetByDocumentID(ctx, companyID, documentID)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: obtener comprobante: %w", err)
	}
	if inv == nil {
		return nil, "", domain.ErrNotFound
	}

	// ── 2. Validar que ya fue firmado ─────────────────────────────────────────
	if inv.Status == entity.InvoiceStatusPending || inv.DigestValue == "" {
		return nil, "", fmt.Errorf("%w: el comprobante está en estado %s, espere a que sea firmado antes de descargar el PDF",
			domain.ErrInvalidInput, inv.Status)
	}

	// ── 3. Cargar empresa ─────────────────────────────────────────────────────
	company, err := uc.companyRepo.GetByID(ctx, companyID)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: obtener empresa: %w", err)
	}
	if company == nil {
		return nil, "", domain.ErrNotFound
	}

	// ── 4. Leer el documento tal como se firmó ────────────────────────────────
	if len(inv.SignedXML) == 0 {
		return nil, "", fmt.Errorf("%w: %s no tiene XML firmado", domain.ErrInvalidInput, inv.DocumentID)
	}
	doc, err := infrasunat.ParseXML(inv.SignedXML)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: leer XML firmado: %w", err)
	}

	// ── 5. Generar PDF ────────────────────────────────────────────────────────
	pdfBytes, err = uc.generator.GenerateInvoicePDF(ctx, doc, inv, qrPayload(inv, company))
	if err != nil {
		return nil, "", fmt.Errorf("pdf: generación fallida: %w", err)
	}

	filename = infrasunat.FileBaseName(company.RUC, inv.DocumentTypeCode, inv.DocumentID) + ".pdf"
	return pdfBytes, filename, nil
}
