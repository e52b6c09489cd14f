package billing

import (
	"context"
	"fmt"

	"github.com/jhoicas/facturador-sunat/internal/application/dto"
	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	infrasunat "github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat"
	pkgsunat "github.com/jhoicas/facturador-sunat/pkg/sunat"
)

// GetInvoice devuelve el comprobante por su id de documento (F001-0001).
// Solo se buscan comprobantes de la empresa del token.
func (s *IssueService) GetInvoice(ctx context.Context, companyID, documentID string) (*dto.InvoiceResponse, error) {
	company, err := s.company(ctx, companyID)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoice(ctx, companyID, documentID)
	if err != nil {
		return nil, err
	}
	return toInvoiceResponse(inv, company), nil
}

// ListSubmissions historial de envíos del comprobante en orden de intento.
func (s *IssueService) ListSubmissions(ctx context.Context, companyID, documentID string) ([]dto.SubmissionResponse, error) {
	inv, err := s.invoice(ctx, companyID, documentID)
	if err != nil {
		return nil, err
	}
	recs, err := s.deps.Submissions.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("listar envíos: %w", err)
	}
	out := make([]dto.SubmissionResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, dto.SubmissionResponse{
			AttemptSeq:        r.AttemptSeq,
			AttemptedAt:       r.AttemptedAt,
			FileName:          r.FileName,
			HTTPOutcome:       r.HTTPOutcome,
			AuthorityDecision: r.AuthorityDecision,
			ResponseCode:      r.ResponseCode,
			ErrorMessage:      r.ErrorMessage,
		})
	}
	return out, nil
}

// SignedXML bytes firmados tal como se enviaron y el nombre de archivo SUNAT.
func (s *IssueService) SignedXML(ctx context.Context, companyID, documentID string) ([]byte, string, error) {
	company, err := s.company(ctx, companyID)
	if err != nil {
		return nil, "", err
	}
	inv, err := s.invoice(ctx, companyID, documentID)
	if err != nil {
		return nil, "", err
	}
	if len(inv.SignedXML) == 0 {
		return nil, "", fmt.Errorf("%w: %s está en %s, aún no tiene XML firmado",
			domain.ErrInvalidInput, inv.DocumentID, inv.Status)
	}
	xmlName, _ := infrasunat.Filenames(company.RUC, inv.DocumentTypeCode, inv.DocumentID)
	return inv.SignedXML, xmlName, nil
}

// qrPayload cadena del QR; vacía mientras el comprobante no tenga firma.
func qrPayload(inv *entity.Invoice, company *entity.Company) string {
	if inv.DigestValue == "" {
		return ""
	}
	payload, err := pkgsunat.QRPayload(pkgsunat.QRParams{
		IssuerRUC:        company.RUC,
		DocumentTypeCode: inv.DocumentTypeCode,
		Series:           inv.Series,
		Correlative:      inv.Correlative,
		TaxTotal:         inv.TaxTotal,
		GrandTotal:       inv.GrandTotal,
		IssueDate:        inv.IssueDate.Format("2006-01-02"),
		CustomerIDType:   inv.CustomerIDType,
		CustomerIDNumber: inv.CustomerIDNumber,
		DigestValue:      inv.DigestValue,
	})
	if err != nil {
		return ""
	}
	return payload
}

func toInvoiceResponse(inv *entity.Invoice, company *entity.Company) *dto.InvoiceResponse {
	return &dto.InvoiceResponse{
		ID:               inv.ID,
		CompanyID:        inv.CompanyID,
		SaleID:           inv.SaleID,
		DocumentTypeCode: inv.DocumentTypeCode,
		DocumentID:       inv.DocumentID,
		IssueDate:        inv.IssueDate.Format("2006-01-02"),
		Currency:         inv.Currency,
		TaxTotal:         inv.TaxTotal,
		GrandTotal:       inv.GrandTotal,
		CustomerIDType:   inv.CustomerIDType,
		CustomerIDNumber: inv.CustomerIDNumber,
		Status:           inv.Status,
		DigestValue:      inv.DigestValue,
		ResponseCode:     inv.ResponseCode,
		ResponseMessage:  inv.ResponseMessage,
		RetryCount:       inv.RetryCount,
		NextRetryAt:      inv.NextRetryAt,
		LastError:        inv.LastError,
		QRData:           qrPayload(inv, company),
		HasCDR:           len(inv.CDR) > 0,
		CreatedAt:        inv.CreatedAt,
		UpdatedAt:        inv.UpdatedAt,
	}
}
