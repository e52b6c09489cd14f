package sunat

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	domsunat "github.com/jhoicas/facturador-sunat/internal/domain/sunat"
	pkgsunat "github.com/jhoicas/facturador-sunat/pkg/sunat"
)

// Textos de reemplazo cuando la venta llega con datos incompletos de catálogo.
const (
	PlaceholderCustomerName = "CLIENTES VARIOS"
	placeholderIdentity     = "-"
)

var hundred = decimal.NewFromInt(100)

// BuilderConfig parámetros del armado que dependen de la jurisdicción.
type BuilderConfig struct {
	TaxRate  decimal.Decimal // IGV, 0.18
	Location *time.Location  // fecha de emisión local
	Currency string          // moneda si la venta no trae una
}

// UBLBuilder convierte una venta cerrada en el árbol del comprobante.
type UBLBuilder struct {
	cfg BuilderConfig
	now func() time.Time
	log zerolog.Logger
}

// NewUBLBuilder crea el servicio.
func NewUBLBuilder(cfg BuilderConfig, log zerolog.Logger) *UBLBuilder {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Currency == "" {
		cfg.Currency = pkgsunat.CurrencyPEN
	}
	return &UBLBuilder{cfg: cfg, now: time.Now, log: log}
}

// WithClock reemplaza el reloj (tests y reprocesos con fecha fija).
func (b *UBLBuilder) WithClock(now func() time.Time) *UBLBuilder {
	cp := *b
	cp.now = now
	return &cp
}

// Today fecha de emisión de hoy en la zona configurada, sin hora.
func (b *UBLBuilder) Today() time.Time {
	return dateOnly(b.now().In(b.cfg.Location))
}

// Build arma el comprobante con fecha de emisión de hoy.
func (b *UBLBuilder) Build(sale *entity.Sale, number domsunat.AllocatedNumber, issuer *entity.Company) (*InvoiceDocument, error) {
	return b.BuildAt(sale, number, issuer, b.Today())
}

// BuildAt arma el comprobante con una fecha de emisión ya fijada (la del registro).
// El tipo de documento de la venta debe coincidir con el carril de numeración usado;
// una venta sin ítems se rechaza.
func (b *UBLBuilder) BuildAt(sale *entity.Sale, number domsunat.AllocatedNumber, issuer *entity.Company, issueDate time.Time) (*InvoiceDocument, error) {
	if sale == nil || issuer == nil {
		return nil, fmt.Errorf("%w: faltan venta o emisor", domain.ErrBuildValidation)
	}
	if len(sale.Lines) == 0 {
		return nil, fmt.Errorf("%w: la venta %s no tiene ítems", domain.ErrBuildValidation, sale.ID)
	}
	if sale.DocumentTypeCode != number.DocumentTypeCode {
		return nil, fmt.Errorf("%w: la venta es tipo %s pero el número %s es del carril %s",
			domain.ErrBuildValidation, sale.DocumentTypeCode, number.DocumentID(), number.DocumentTypeCode)
	}
	if sale.CompanyID != issuer.ID || number.CompanyID != issuer.ID {
		return nil, fmt.Errorf("%w: venta, número y emisor deben ser de la misma empresa", domain.ErrBuildValidation)
	}

	log := b.log.With().Str("sale_id", sale.ID).Str("document_id", number.DocumentID()).Logger()

	currency := sale.Currency
	if currency == "" {
		currency = b.cfg.Currency
	}
	paymentForm := sale.PaymentMethod
	if paymentForm == "" {
		paymentForm = pkgsunat.PaymentFormContado
	}

	doc := &InvoiceDocument{
		ID:               number.DocumentID(),
		Series:           number.Series,
		Correlative:      number.Correlative,
		DocumentTypeCode: number.DocumentTypeCode,
		OperationType:    pkgsunat.OperationTypeVentaInterna,
		IssueDate:        dateOnly(issueDate),
		Currency:         currency,
		PaymentForm:      paymentForm,
		Supplier: Party{
			IdentityType:   pkgsunat.IdentityTypeRUC,
			IdentityNumber: issuer.RUC,
			Name:           issuer.Name,
			TradeName:      issuer.TradeName,
			Address:        issuer.Address,
			Ubigeo:         issuer.Ubigeo,
		},
		Customer: b.customerParty(sale.Customer, log),
	}

	taxableBase, exemptBase := decimal.Zero, decimal.Zero
	doc.Lines = make([]InvoiceLine, 0, len(sale.Lines))
	for i, l := range sale.Lines {
		line := b.buildLine(i+1, l, log)
		if line.Tax != nil {
			taxableBase = taxableBase.Add(line.LineExtension)
		} else {
			exemptBase = exemptBase.Add(line.LineExtension)
		}
		doc.Lines = append(doc.Lines, line)
	}

	doc.Totals = MonetaryTotals{
		LineExtension: round2(sale.Subtotal),
		TaxableBase:   round2(taxableBase),
		TaxAmount:     round2(sale.TaxAmount),
		Payable:       round2(sale.Total),
	}
	if taxableBase.IsPositive() {
		doc.TaxSubtotals = append(doc.TaxSubtotals, TaxSubtotal{
			TaxableAmount: round2(taxableBase),
			TaxAmount:     round2(sale.TaxAmount),
			SchemeID:      pkgsunat.TaxSchemeIGV,
			SchemeName:    pkgsunat.TaxSchemeIGVName,
			SchemeType:    pkgsunat.TaxSchemeIGVType,
			CategoryID:    pkgsunat.TaxCategoryIGV,
		})
	}
	if exemptBase.IsPositive() {
		doc.TaxSubtotals = append(doc.TaxSubtotals, TaxSubtotal{
			TaxableAmount: round2(exemptBase),
			TaxAmount:     decimal.Zero,
			SchemeID:      pkgsunat.TaxSchemeEXO,
			SchemeName:    pkgsunat.TaxSchemeEXOName,
			SchemeType:    pkgsunat.TaxSchemeEXOType,
			CategoryID:    pkgsunat.TaxCategoryExempt,
		})
	}
	return doc, nil
}

func (b *UBLBuilder) customerParty(c entity.SaleCustomer, log zerolog.Logger) Party {
	p := Party{
		IdentityType:   c.IdentityType,
		IdentityNumber: strings.TrimSpace(c.IdentityNumber),
		Name:           strings.TrimSpace(c.Name),
		Address:        c.Address,
	}
	if p.IdentityType == "" {
		p.IdentityType = pkgsunat.IdentityTypeNone
	}
	if p.IdentityNumber == "" {
		p.IdentityNumber = placeholderIdentity
	}
	if p.Name == "" {
		log.Warn().Str("field", "customer.name").Msg("cliente sin nombre, se usa texto genérico")
		p.Name = PlaceholderCustomerName
	}
	return p
}

func (b *UBLBuilder) buildLine(n int, l entity.SaleLine, log zerolog.Logger) InvoiceLine {
	unitCode := strings.ToUpper(strings.TrimSpace(l.UnitCode))
	if !pkgsunat.ValidUnitCodes[unitCode] {
		if unitCode != "" {
			log.Warn().Int("line", n).Str("unit_code", unitCode).Msg("unidad desconocida, se usa NIU")
		}
		unitCode = pkgsunat.UnitGoods
	}

	desc := strings.TrimSpace(l.Description)
	if desc == "" {
		if l.ProductRef != "" {
			desc = "Producto " + l.ProductRef
		} else {
			desc = fmt.Sprintf("Ítem %d", n)
		}
		log.Warn().Int("line", n).Str("field", "line.description").Msg("ítem sin descripción, se usa texto genérico")
	}

	lineExt := round2(l.Quantity.Mul(l.UnitPrice))
	line := InvoiceLine{
		ID:            n,
		Quantity:      l.Quantity,
		UnitCode:      unitCode,
		Description:   desc,
		ProductCode:   l.ProductRef,
		UnitPrice:     l.UnitPrice,
		LineExtension: lineExt,
	}
	if l.TaxAffected {
		line.Tax = &LineTax{
			TaxableAmount:   lineExt,
			Amount:          round2(lineExt.Mul(b.cfg.TaxRate)),
			Percent:         b.cfg.TaxRate.Mul(hundred),
			AffectationCode: pkgsunat.AffectationGravadoOneroso,
		}
	}
	return line
}

func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
