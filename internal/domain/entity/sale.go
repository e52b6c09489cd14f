package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sale es la venta ya cerrada que origina el comprobante. Es un insumo de solo lectura:
// los montos (subtotal, IGV, total) vienen calculados desde el punto de venta.
type Sale struct {
	ID               string
	CompanyID        string
	DocumentTypeCode string // "01" factura, "03" boleta
	Customer         SaleCustomer
	Lines            []SaleLine
	Subtotal         decimal.Decimal
	TaxAmount        decimal.Decimal
	Total            decimal.Decimal
	Currency         string // ISO 4217, PEN por defecto
	PaymentMethod    string // Contado | Credito
	CreatedAt        time.Time
	CompletedAt      time.Time
}

// SaleCustomer identidad del adquirente tal como se registró en la venta.
type SaleCustomer struct {
	IdentityType   string // catálogo 06: "6" RUC, "1" DNI, "0" sin documento
	IdentityNumber string
	Name           string
	Address        string
	Email          string
}

// SaleLine ítem vendido.
type SaleLine struct {
	ProductRef  string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal // valor unitario sin IGV
	UnitCode    string          // vacío = unidad genérica
	TaxAffected bool            // gravado con IGV
}
