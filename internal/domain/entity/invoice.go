package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados del comprobante electrónico frente a SUNAT.
const (
	InvoiceStatusPending   = "PENDING"    // Número asignado, sin firmar
	InvoiceStatusSigned    = "SIGNED"     // XML firmado, sin enviar
	InvoiceStatusSending   = "SENDING"    // Envío en curso
	InvoiceStatusAccepted  = "ACCEPTED"   // CDR de aceptación recibido
	InvoiceStatusRejected  = "REJECTED"   // SUNAT rechazó el comprobante
	InvoiceStatusSendError = "SEND_ERROR" // Falló el transporte; se puede reenviar
)

// Invoice es el comprobante electrónico persistido, identificado por DocumentID (serie-correlativo).
type Invoice struct {
	ID               string
	CompanyID        string
	SaleID           string
	DocumentTypeCode string
	Series           string
	Correlative      int
	DocumentID       string // F001-0001
	IssueDate        time.Time
	Currency         string
	TaxTotal         decimal.Decimal
	GrandTotal       decimal.Decimal
	CustomerIDType   string
	CustomerIDNumber string
	Status           string
	UnsignedXML      []byte
	SignedXML        []byte
	DigestValue      string // "hash" del comprobante, va en la representación impresa
	CDR              []byte // ZIP de la constancia de recepción
	ResponseCode     string
	ResponseMessage  string
	RetryCount       int
	NextRetryAt      *time.Time
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
