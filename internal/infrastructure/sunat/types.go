// Package sunat arma, serializa, empaqueta y envía comprobantes electrónicos UBL 2.1 a SUNAT (Perú).
package sunat

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceDocument árbol del comprobante antes de serializar. Una vez firmado no se regenera.
type InvoiceDocument struct {
	ID               string // F001-0001
	Series           string
	Correlative      int
	DocumentTypeCode string
	OperationType    string // catálogo 51
	IssueDate        time.Time
	Currency         string
	Supplier         Party
	Customer         Party
	PaymentForm      string
	Totals           MonetaryTotals
	TaxSubtotals     []TaxSubtotal
	Lines            []InvoiceLine
}

// IssueDateString fecha de emisión sin hora, formato exigido por SUNAT.
func (d *InvoiceDocument) IssueDateString() string {
	return d.IssueDate.Format("2006-01-02")
}

// Party emisor o adquirente.
type Party struct {
	IdentityType   string // catálogo 06
	IdentityNumber string
	Name           string // razón social / nombre
	TradeName      string
	Address        string
	Ubigeo         string
}

// MonetaryTotals totales de cabecera. Todos se serializan con dos decimales.
type MonetaryTotals struct {
	LineExtension decimal.Decimal // subtotal sin IGV
	TaxableBase   decimal.Decimal // suma de líneas gravadas
	TaxAmount     decimal.Decimal
	Payable       decimal.Decimal
}

// TaxSubtotal desglose por tributo en la cabecera.
type TaxSubtotal struct {
	TaxableAmount decimal.Decimal
	TaxAmount     decimal.Decimal
	SchemeID      string // catálogo 05
	SchemeName    string
	SchemeType    string
	CategoryID    string
}

// InvoiceLine ítem del comprobante.
type InvoiceLine struct {
	ID            int
	Quantity      decimal.Decimal
	UnitCode      string
	Description   string
	ProductCode   string
	UnitPrice     decimal.Decimal
	LineExtension decimal.Decimal
	Tax           *LineTax // nil en líneas no gravadas
}

// LineTax subtotal del IGV de una línea gravada.
type LineTax struct {
	TaxableAmount   decimal.Decimal
	Amount          decimal.Decimal
	Percent         decimal.Decimal
	AffectationCode string // catálogo 07
}
