package sunat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// ParseXML reconstruye el comprobante desde el XML UBL guardado, firmado o no.
// Lee los mismos nodos que escribe RenderTree; lo impreso coincide con lo enviado
// aunque la venta haya cambiado después.
func ParseXML(data []byte) (*InvoiceDocument, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("sunat: leer XML: %w", err)
	}
	root := tree.Root()
	if root == nil || root.Tag != "Invoice" {
		return nil, errors.New("sunat: el XML no es un Invoice UBL")
	}

	r := &ublReader{}
	doc := &InvoiceDocument{
		ID:               r.text(root, "cbc:ID"),
		DocumentTypeCode: r.text(root, "cbc:InvoiceTypeCode"),
		OperationType:    r.attr(root, "cbc:InvoiceTypeCode", "listID"),
		IssueDate:        r.date(root, "cbc:IssueDate"),
		Currency:         r.text(root, "cbc:DocumentCurrencyCode"),
		PaymentForm:      r.text(root, "cac:PaymentTerms/cbc:PaymentMeansID"),
		Supplier:         r.party(root, "cac:AccountingSupplierParty/cac:Party"),
		Customer:         r.party(root, "cac:AccountingCustomerParty/cac:Party"),
	}
	series, correlative, ok := strings.Cut(doc.ID, "-")
	if !ok {
		return nil, fmt.Errorf("sunat: ID de comprobante inválido %q", doc.ID)
	}
	doc.Series = series
	if doc.Correlative, ok = parseCorrelative(correlative); !ok {
		return nil, fmt.Errorf("sunat: correlativo inválido en %q", doc.ID)
	}

	doc.Totals = MonetaryTotals{
		TaxAmount:     r.amount(root, "cac:TaxTotal/cbc:TaxAmount"),
		LineExtension: r.amount(root, "cac:LegalMonetaryTotal/cbc:LineExtensionAmount"),
		Payable:       r.amount(root, "cac:LegalMonetaryTotal/cbc:PayableAmount"),
	}
	for _, st := range root.FindElements("cac:TaxTotal/cac:TaxSubtotal") {
		doc.TaxSubtotals = append(doc.TaxSubtotals, TaxSubtotal{
			TaxableAmount: r.amount(st, "cbc:TaxableAmount"),
			TaxAmount:     r.amount(st, "cbc:TaxAmount"),
			CategoryID:    r.text(st, "cac:TaxCategory/cbc:ID"),
			SchemeID:      r.text(st, "cac:TaxCategory/cac:TaxScheme/cbc:ID"),
			SchemeName:    r.text(st, "cac:TaxCategory/cac:TaxScheme/cbc:Name"),
			SchemeType:    r.text(st, "cac:TaxCategory/cac:TaxScheme/cbc:TaxTypeCode"),
		})
	}

	taxableBase := decimal.Zero
	for _, il := range root.FindElements("cac:InvoiceLine") {
		line := r.line(il)
		if line.Tax != nil {
			taxableBase = taxableBase.Add(line.LineExtension)
		}
		doc.Lines = append(doc.Lines, line)
	}
	doc.Totals.TaxableBase = taxableBase

	if r.err != nil {
		return nil, fmt.Errorf("sunat: XML de %s: %w", doc.ID, r.err)
	}
	if len(doc.Lines) == 0 {
		return nil, fmt.Errorf("sunat: el XML de %s no tiene líneas", doc.ID)
	}
	return doc, nil
}

// ublReader guarda el primer error de lectura para revisarlo una sola vez al final.
type ublReader struct {
	err error
}

func (r *ublReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *ublReader) text(parent *etree.Element, path string) string {
	el := parent.FindElement(path)
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

func (r *ublReader) attr(parent *etree.Element, path, name string) string {
	el := parent.FindElement(path)
	if el == nil {
		return ""
	}
	return el.SelectAttrValue(name, "")
}

func (r *ublReader) amount(parent *etree.Element, path string) decimal.Decimal {
	s := r.text(parent, path)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		r.fail(fmt.Errorf("%s: %w", path, err))
		return decimal.Zero
	}
	return d
}

func (r *ublReader) date(parent *etree.Element, path string) time.Time {
	t, err := time.Parse("2006-01-02", r.text(parent, path))
	if err != nil {
		r.fail(fmt.Errorf("%s: %w", path, err))
	}
	return t
}

func (r *ublReader) party(parent *etree.Element, path string) Party {
	el := parent.FindElement(path)
	if el == nil {
		r.fail(fmt.Errorf("falta %s", path))
		return Party{}
	}
	return Party{
		IdentityType:   r.attr(el, "cac:PartyIdentification/cbc:ID", "schemeID"),
		IdentityNumber: r.text(el, "cac:PartyIdentification/cbc:ID"),
		Name:           r.text(el, "cac:PartyLegalEntity/cbc:RegistrationName"),
		TradeName:      r.text(el, "cac:PartyName/cbc:Name"),
		Address:        r.text(el, "cac:PartyLegalEntity/cac:RegistrationAddress/cac:AddressLine/cbc:Line"),
		Ubigeo:         r.text(el, "cac:PartyLegalEntity/cac:RegistrationAddress/cbc:ID"),
	}
}

func (r *ublReader) line(il *etree.Element) InvoiceLine {
	id, err := strconv.Atoi(r.text(il, "cbc:ID"))
	if err != nil {
		r.fail(fmt.Errorf("cac:InvoiceLine/cbc:ID: %w", err))
	}
	line := InvoiceLine{
		ID:            id,
		Quantity:      r.amount(il, "cbc:InvoicedQuantity"),
		UnitCode:      r.attr(il, "cbc:InvoicedQuantity", "unitCode"),
		Description:   r.text(il, "cac:Item/cbc:Description"),
		ProductCode:   r.text(il, "cac:Item/cac:SellersItemIdentification/cbc:ID"),
		UnitPrice:     r.amount(il, "cac:Price/cbc:PriceAmount"),
		LineExtension: r.amount(il, "cbc:LineExtensionAmount"),
	}
	if tt := il.FindElement("cac:TaxTotal"); tt != nil {
		line.Tax = &LineTax{
			Amount:          r.amount(tt, "cbc:TaxAmount"),
			TaxableAmount:   r.amount(tt, "cac:TaxSubtotal/cbc:TaxableAmount"),
			Percent:         r.amount(tt, "cac:TaxSubtotal/cac:TaxCategory/cbc:Percent"),
			AffectationCode: r.text(tt, "cac:TaxSubtotal/cac:TaxCategory/cbc:TaxExemptionReasonCode"),
		}
	}
	return line
}

func parseCorrelative(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil && n > 0
}
