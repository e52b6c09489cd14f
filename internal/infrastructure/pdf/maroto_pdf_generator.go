// Package pdf implementa la representación impresa del comprobante electrónico SUNAT.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Razón social + dirección │ RUC / TIPO / SERIE-NRO  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  ADQUIRENTE: Nombre + tipo/número de documento + fecha      │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Cant | Und | Descripción | V.Unit | IGV | Valor     │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TOTALES: Op. gravadas / Op. inafectas / IGV / IMPORTE      │
//	│  ─────────────────────────────────────────────────────────  │
//	│  FOOTER: QR + hash + estado SUNAT + leyenda                  │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"
	"strings"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	appbilling "github.com/jhoicas/facturador-sunat/internal/application/billing"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	infrasunat "github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat"
	pkgsunat "github.com/jhoicas/facturador-sunat/pkg/sunat"
)

var _ appbilling.InvoicePDFGenerator = (*MarotoPDFGenerator)(nil)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 140, Green: 20, Blue: 30}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
)

// ── Generator ─────────────────────────────────────────────────────────────────

// MarotoPDFGenerator implementa billing.InvoicePDFGenerator usando Maroto v2.
type MarotoPDFGenerator struct{}

// NewMarotoPDFGenerator construye el generador.
func NewMarotoPDFGenerator() *MarotoPDFGenerator { return &MarotoPDFGenerator{} }

// GenerateInvoicePDF genera el PDF y devuelve sus bytes.
func (g *MarotoPDFGenerator) GenerateInvoicePDF(
	_ context.Context,
	doc *infrasunat.InvoiceDocument,
	inv *entity.Invoice,
	qrPayload string,
) ([]byte, error) {
	if doc == nil || inv == nil {
		return nil, fmt.Errorf("pdf: documento o comprobante nulo")
	}
	title := documentTitle(doc.DocumentTypeCode)
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle(title+" "+doc.ID, true).
		WithAuthor(doc.Supplier.Name, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(doc, title))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(customerRow(doc))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	for _, r := range tableDetailRows(doc) {
		m.AddRows(r)
	}

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRow(doc))

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	for _, r := range footerRows(doc, inv, qrPayload, title) {
		m.AddRows(r)
	}

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return out.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

// headerRow: emisor (izq) y recuadro RUC + tipo + número (der).
func headerRow(doc *infrasunat.InvoiceDocument, title string) core.Row {
	s := doc.Supplier
	return row.New(22).Add(
		col.New(7).Add(
			text.New(s.Name, props.Text{Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1}),
			text.New(nonEmpty(s.TradeName, " "), props.Text{Size: 9, Top: 8, Color: colorGray}),
			text.New(nonEmpty(s.Address, "-"), props.Text{Size: 8, Top: 13, Color: colorGray}),
		),
		col.New(5).Add(
			text.New("RUC "+s.IdentityNumber, props.Text{Style: fontstyle.Bold, Size: 11, Align: align.Center, Top: 1}),
			text.New(title, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Center, Color: colorPrimary, Top: 8}),
			text.New(doc.ID, props.Text{Style: fontstyle.Bold, Size: 12, Align: align.Center, Top: 14}),
		),
	)
}

// customerRow: datos del adquirente y de la operación.
func customerRow(doc *infrasunat.InvoiceDocument) core.Row {
	c := doc.Customer
	return row.New(16).Add(
		col.New(8).Add(
			text.New("ADQUIRENTE", props.Text{Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1}),
			text.New(c.Name, props.Text{Style: fontstyle.Bold, Size: 10, Top: 6}),
			text.New(fmt.Sprintf("%s: %s", identityLabel(c.IdentityType), c.IdentityNumber),
				props.Text{Size: 8, Top: 12, Color: colorGray}),
		),
		col.New(4).Add(
			text.New("Fecha de emisión: "+doc.IssueDate.Format("02/01/2006"), props.Text{Size: 8, Align: align.Right, Top: 1}),
			text.New("Moneda: "+doc.Currency, props.Text{Size: 8, Align: align.Right, Top: 6}),
			text.New("Forma de pago: "+doc.PaymentForm, props.Text{Size: 8, Align: align.Right, Top: 11}),
		),
	)
}

// tableHeaderRow: cabecera de la tabla de ítems.
func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorPrimary, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).Add(
		h("Cant.", 1, align.Center),
		h("Und.", 1, align.Center),
		h("Descripción", 5, align.Left),
		h("V. Unit.", 2, align.Right),
		h("IGV", 1, align.Right),
		h("Valor venta", 2, align.Right),
	)
}

// tableDetailRows: una fila por ítem.
func tableDetailRows(doc *infrasunat.InvoiceDocument) []core.Row {
	result := make([]core.Row, 0, len(doc.Lines))
	for _, l := range doc.Lines {
		igv := "-"
		if l.Tax != nil {
			igv = formatMoney(l.Tax.Amount)
		}
		result = append(result, row.New(7).Add(
			col.New(1).Add(text.New(l.Quantity.String(), props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(1).Add(text.New(l.UnitCode, props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(5).Add(text.New(l.Description, props.Text{Size: 8, Align: align.Left, Top: 1, Left: 1})),
			col.New(2).Add(text.New(formatMoney(l.UnitPrice), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
			col.New(1).Add(text.New(igv, props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
			col.New(2).Add(text.New(formatMoney(l.LineExtension), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
		))
	}
	return result
}

// totalsRow: bloque de totales alineado a la derecha.
func totalsRow(doc *infrasunat.InvoiceDocument) core.Row {
	label := func(s string) core.Component {
		return text.New(s, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2})
	}
	value := func(s string) core.Component {
		return text.New(s, props.Text{Size: 9, Align: align.Right, Right: 1})
	}
	symbol := currencySymbol(doc.Currency)
	t := doc.Totals
	untaxed := t.LineExtension.Sub(t.TaxableBase)

	return row.New(30).Add(
		col.New(6),
		col.New(3).Add(
			label("Op. gravadas:"),
			label("Op. inafectas:"),
			label("IGV:"),
			text.New("IMPORTE TOTAL:", props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 2}),
		),
		col.New(3).Add(
			value(symbol+formatMoney(t.TaxableBase)),
			value(symbol+formatMoney(untaxed)),
			value(symbol+formatMoney(t.TaxAmount)),
			text.New(symbol+formatMoney(t.Payable), props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 1}),
		),
	)
}

// footerRows: QR, hash de la firma, estado ante SUNAT y leyenda.
func footerRows(doc *infrasunat.InvoiceDocument, inv *entity.Invoice, qrPayload, title string) []core.Row {
	var rows []core.Row
	legend := fmt.Sprintf("Representación impresa de la %s", strings.ToUpper(title))
	info := []core.Component{
		text.New(legend, props.Text{Style: fontstyle.Bold, Size: 9, Top: 2, Left: 3, Color: colorPrimary}),
		text.New("Hash: "+inv.DigestValue, props.Text{Size: 7, Top: 10, Left: 3, Color: colorGray}),
		text.New("Estado SUNAT: "+statusLabel(inv), props.Text{Size: 8, Top: 16, Left: 3}),
	}
	if qrPayload != "" {
		rows = append(rows, row.New(40).Add(
			col.New(3).Add(code.NewQr(qrPayload, props.Rect{Percent: 95, Center: true})),
			col.New(9).Add(info...),
		))
	} else {
		rows = append(rows, row.New(24).Add(col.New(12).Add(info...)))
	}
	rows = append(rows, row.New(8).Add(col.New(12).Add(
		text.New("Consulte la validez de este comprobante en www.sunat.gob.pe con el RUC "+
			doc.Supplier.IdentityNumber+" y el número "+doc.ID+".",
			props.Text{Size: 6.5, Color: colorGray, Top: 2}),
	)))
	return rows
}

// ── helpers ───────────────────────────────────────────────────────────────────

func documentTitle(docType string) string {
	if docType == pkgsunat.DocTypeBoleta {
		return "Boleta de venta electrónica"
	}
	return "Factura electrónica"
}

func identityLabel(t string) string {
	switch t {
	case pkgsunat.IdentityTypeRUC:
		return "RUC"
	case pkgsunat.IdentityTypeDNI:
		return "DNI"
	default:
		return "Doc."
	}
}

func statusLabel(inv *entity.Invoice) string {
	if inv.ResponseCode != "" {
		return inv.Status + " (" + inv.ResponseCode + ")"
	}
	return inv.Status
}

func currencySymbol(currency string) string {
	if currency == pkgsunat.CurrencyPEN {
		return "S/ "
	}
	return currency + " "
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// formatMoney dos decimales con comas de miles: 1234.5 → "1,234.50".
func formatMoney(d decimal.Decimal) string {
	s := d.Round(2).StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	n := len(intPart)
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(intPart) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, c)
	}
	return sign + string(buf) + "." + frac
}
