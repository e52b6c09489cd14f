package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// IssueInvoiceRequest body para POST /api/invoices/issue.
type IssueInvoiceRequest struct {
	SaleID string `json:"sale_id"`
}

// IssueResult estado con el que terminó una emisión o un reintento.
// Un rechazo o un error de transporte no son errores de la llamada: vienen en Status.
type IssueResult struct {
	InvoiceID       string `json:"invoice_id"`
	DocumentID      string `json:"document_id"` // F001-0001
	SaleID          string `json:"sale_id"`
	Status          string `json:"status"` // PENDING|SIGNED|SENDING|ACCEPTED|REJECTED|SEND_ERROR
	ResponseCode    string `json:"response_code,omitempty"`
	ResponseMessage string `json:"response_message,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	RetryCount      int    `json:"retry_count"`
	Resumed         bool   `json:"resumed"` // la venta ya tenía un comprobante en curso
}

// InvoiceResponse comprobante para GET /api/invoices/:id.
type InvoiceResponse struct {
	ID               string          `json:"id"`
	CompanyID        string          `json:"company_id"`
	SaleID           string          `json:"sale_id"`
	DocumentTypeCode string          `json:"document_type_code"`
	DocumentID       string          `json:"document_id"`
	IssueDate        string          `json:"issue_date"`
	Currency         string          `json:"currency"`
	TaxTotal         decimal.Decimal `json:"tax_total"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
	CustomerIDType   string          `json:"customer_id_type"`
	CustomerIDNumber string          `json:"customer_id_number"`
	Status           string          `json:"status"`
	DigestValue      string          `json:"digest_value,omitempty"`
	ResponseCode     string          `json:"response_code,omitempty"`
	ResponseMessage  string          `json:"response_message,omitempty"`
	RetryCount       int             `json:"retry_count"`
	NextRetryAt      *time.Time      `json:"next_retry_at,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
	QRData           string          `json:"qr_data,omitempty"` // RUC|TT|SERIE|NUMERO|IGV|TOTAL|FECHA|TIPODOC|NUMDOC|HASH|
	HasCDR           bool            `json:"has_cdr"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SubmissionResponse un intento de envío a SUNAT.
type SubmissionResponse struct {
	AttemptSeq        int       `json:"attempt_seq"`
	AttemptedAt       time.Time `json:"attempted_at"`
	FileName          string    `json:"file_name"`
	HTTPOutcome       string    `json:"http_outcome"`
	AuthorityDecision string    `json:"authority_decision"`
	ResponseCode      string    `json:"response_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}

// SweepReport resumen de una pasada del barrido de reintentos.
type SweepReport struct {
	Skipped   bool `json:"skipped"` // otro proceso tenía el candado
	Stale     int  `json:"stale"`   // SENDING vencidos pasados a SEND_ERROR
	Retried   int  `json:"retried"`
	Accepted  int  `json:"accepted"`
	Rejected  int  `json:"rejected"`
	Failed    int  `json:"failed"`
	Exhausted int  `json:"exhausted"` // sin intentos restantes
}
