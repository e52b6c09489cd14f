package http

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/facturador-sunat/internal/application/dto"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

// invoiceService operaciones de emisión y consulta que expone el API.
// Lo implementa *billing.IssueService.
type invoiceService interface {
	Issue(ctx context.Context, companyID, saleID string) (*dto.IssueResult, error)
	Reissue(ctx context.Context, companyID, saleID string) (*dto.IssueResult, error)
	Retry(ctx context.Context, companyID, documentID string) (*dto.IssueResult, error)
	GetInvoice(ctx context.Context, companyID, documentID string) (*dto.InvoiceResponse, error)
	ListSubmissions(ctx context.Context, companyID, documentID string) ([]dto.SubmissionResponse, error)
	SignedXML(ctx context.Context, companyID, documentID string) ([]byte, string, error)
}

// invoicePDF lo implementa *billing.PDFUseCase.
type invoicePDF interface {
	DownloadInvoicePDF(ctx context.Context, companyID, documentID string) ([]byte, string, error)
}

// InvoiceHandler maneja las peticiones HTTP de comprobantes electrónicos (protegido).
type InvoiceHandler struct {
	svc invoiceService
	pdf invoicePDF
	log zerolog.Logger
}

// NewInvoiceHandler construye el handler.
func NewInvoiceHandler(svc invoiceService, pdf invoicePDF, log zerolog.Logger) *InvoiceHandler {
	return &InvoiceHandler{svc: svc, pdf: pdf, log: log}
}

// Issue emite el comprobante de una venta o retoma el que ya tenga en curso.
// POST /api/invoices/issue
func (h *InvoiceHandler) Issue(c *fiber.Ctx) error {
	return h.issueWith(c, h.svc.Issue)
}

// Reissue emite con un número nuevo una venta cuyo comprobante fue rechazado.
// POST /api/invoices/reissue
func (h *InvoiceHandler) Reissue(c *fiber.Ctx) error {
	return h.issueWith(c, h.svc.Reissue)
}

func (h *InvoiceHandler) issueWith(c *fiber.Ctx, run func(context.Context, string, string) (*dto.IssueResult, error)) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.IssueInvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	in.SaleID = strings.TrimSpace(in.SaleID)
	if in.SaleID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "sale_id requerido"})
	}
	res, err := run(c.UserContext(), companyID, in.SaleID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(resultStatus(res)).JSON(res)
}

// Retry reenvía un comprobante existente con su mismo número.
// POST /api/invoices/:id/retry
func (h *InvoiceHandler) Retry(c *fiber.Ctx) error {
	companyID, id, err := h.scope(c)
	if err != nil || companyID == "" {
		return err
	}
	res, err := h.svc.Retry(c.UserContext(), companyID, id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.Status(resultStatus(res)).JSON(res)
}

// GetByID detalle del comprobante, con el contenido del QR si ya está firmado.
// GET /api/invoices/:id
func (h *InvoiceHandler) GetByID(c *fiber.Ctx) error {
	companyID, id, err := h.scope(c)
	if err != nil || companyID == "" {
		return err
	}
	inv, err := h.svc.GetInvoice(c.UserContext(), companyID, id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(inv)
}

// Submissions historial de envíos a SUNAT.
// GET /api/invoices/:id/submissions
func (h *InvoiceHandler) Submissions(c *fiber.Ctx) error {
	companyID, id, err := h.scope(c)
	if err != nil || companyID == "" {
		return err
	}
	recs, err := h.svc.ListSubmissions(c.UserContext(), companyID, id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(recs)
}

// XML descarga el XML firmado tal como se envió.
// GET /api/invoices/:id/xml
func (h *InvoiceHandler) XML(c *fiber.Ctx) error {
	companyID, id, err := h.scope(c)
	if err != nil || companyID == "" {
		return err
	}
	body, name, err := h.svc.SignedXML(c.UserContext(), companyID, id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return sendFile(c, fiber.MIMEApplicationXMLCharsetUTF8, name, body)
}

// PDF representación impresa del comprobante.
// GET /api/invoices/:id/pdf
func (h *InvoiceHandler) PDF(c *fiber.Ctx) error {
	companyID, id, err := h.scope(c)
	if err != nil || companyID == "" {
		return err
	}
	body, name, err := h.pdf.DownloadInvoicePDF(c.UserContext(), companyID, id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return sendFile(c, "application/pdf", name, body)
}

// scope lee empresa e id de la ruta. Si ya respondió, companyID vuelve vacío.
func (h *InvoiceHandler) scope(c *fiber.Ctx) (companyID, id string, err error) {
	companyID = GetCompanyID(c)
	if companyID == "" {
		return "", "", unauthorized(c)
	}
	id = strings.ToUpper(strings.TrimSpace(c.Params("id")))
	if id == "" {
		return "", "", c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	return companyID, id, nil
}

// resultStatus: 201 aceptado, 202 pendiente de reintento, 422 rechazado.
func resultStatus(res *dto.IssueResult) int {
	switch res.Status {
	case entity.InvoiceStatusAccepted:
		return fiber.StatusCreated
	case entity.InvoiceStatusSendError:
		return fiber.StatusAccepted
	case entity.InvoiceStatusRejected:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusOK
	}
}

func sendFile(c *fiber.Ctx, contentType, name string, body []byte) error {
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", name))
	return c.Status(fiber.StatusOK).Send(body)
}
