package sunat

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/facturador-sunat/internal/infrastructure/sunat/signer"
	pkgsunat "github.com/jhoicas/facturador-sunat/pkg/sunat"
)

// Namespaces oficiales UBL 2.1.
const (
	NsInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NsCac     = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NsCbc     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	NsExt     = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
	NsDs      = signer.NamespaceDS
)

// RenderXML serializa el comprobante. La salida es determinista: mismo árbol, mismos bytes.
// Deja vacío ext:UBLExtensions/ext:UBLExtension/ext:ExtensionContent para la firma.
func RenderXML(doc *InvoiceDocument) ([]byte, error) {
	tree, err := RenderTree(doc)
	if err != nil {
		return nil, err
	}
	out, err := tree.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("sunat: serializar XML %s: %w", doc.ID, err)
	}
	return out, nil
}

// RenderTree arma el documento etree sin serializar.
func RenderTree(doc *InvoiceDocument) (*etree.Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("sunat: documento nulo")
	}
	if len(doc.Lines) == 0 {
		return nil, fmt.Errorf("sunat: el documento %s no tiene líneas", doc.ID)
	}

	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := out.CreateElement("Invoice")
	root.CreateAttr("xmlns", NsInvoice)
	root.CreateAttr("xmlns:cac", NsCac)
	root.CreateAttr("xmlns:cbc", NsCbc)
	root.CreateAttr("xmlns:ds", NsDs)
	root.CreateAttr("xmlns:ext", NsExt)

	// ext:UBLExtensions siempre primer hijo; el firmador inyecta ds:Signature aquí.
	root.CreateElement("ext:UBLExtensions").
		CreateElement("ext:UBLExtension").
		CreateElement("ext:ExtensionContent")

	cbc(root, "UBLVersionID", pkgsunat.UBLVersion)
	cbc(root, "CustomizationID", pkgsunat.CustomizationID)
	cbc(root, "ID", doc.ID)
	cbc(root, "IssueDate", doc.IssueDateString())
	typeCode := cbc(root, "InvoiceTypeCode", doc.DocumentTypeCode)
	typeCode.CreateAttr("listID", doc.OperationType)
	cbc(root, "DocumentCurrencyCode", doc.Currency)
	cbc(root, "LineCountNumeric", strconv.Itoa(len(doc.Lines)))

	writeSignatureReference(root, doc.Supplier)
	writeParty(root.CreateElement("cac:AccountingSupplierParty"), doc.Supplier, true)
	writeParty(root.CreateElement("cac:AccountingCustomerParty"), doc.Customer, false)

	terms := root.CreateElement("cac:PaymentTerms")
	cbc(terms, "ID", "FormaPago")
	cbc(terms, "PaymentMeansID", doc.PaymentForm)

	writeTaxTotal(root, doc)
	writeLegalMonetaryTotal(root, doc)
	for _, l := range doc.Lines {
		writeInvoiceLine(root, l, doc.Currency)
	}
	return out, nil
}

func writeSignatureReference(root *etree.Element, supplier Party) {
	sig := root.CreateElement("cac:Signature")
	cbc(sig, "ID", signer.SignatureID)
	party := sig.CreateElement("cac:SignatoryParty")
	cbc(party.CreateElement("cac:PartyIdentification"), "ID", supplier.IdentityNumber)
	cbc(party.CreateElement("cac:PartyName"), "Name", supplier.Name)
	ref := sig.CreateElement("cac:DigitalSignatureAttachment").CreateElement("cac:ExternalReference")
	cbc(ref, "URI", "#"+signer.SignatureID)
}

func writeParty(parent *etree.Element, p Party, supplier bool) {
	party := parent.CreateElement("cac:Party")
	id := cbc(party.CreateElement("cac:PartyIdentification"), "ID", p.IdentityNumber)
	id.CreateAttr("schemeID", p.IdentityType)
	if supplier && p.TradeName != "" {
		cbc(party.CreateElement("cac:PartyName"), "Name", p.TradeName)
	}
	legal := party.CreateElement("cac:PartyLegalEntity")
	cbc(legal, "RegistrationName", p.Name)
	if supplier {
		addr := legal.CreateElement("cac:RegistrationAddress")
		if p.Ubigeo != "" {
			cbc(addr, "ID", p.Ubigeo)
		}
		cbc(addr, "AddressTypeCode", "0000")
		if p.Address != "" {
			cbc(addr.CreateElement("cac:AddressLine"), "Line", p.Address)
		}
	}
}

func writeTaxTotal(root *etree.Element, doc *InvoiceDocument) {
	tt := root.CreateElement("cac:TaxTotal")
	cbcAmount(tt, "TaxAmount", doc.Totals.TaxAmount, doc.Currency)
	for _, st := range doc.TaxSubtotals {
		sub := tt.CreateElement("cac:TaxSubtotal")
		cbcAmount(sub, "TaxableAmount", st.TaxableAmount, doc.Currency)
		cbcAmount(sub, "TaxAmount", st.TaxAmount, doc.Currency)
		cat := sub.CreateElement("cac:TaxCategory")
		cbc(cat, "ID", st.CategoryID)
		writeTaxScheme(cat, st.SchemeID, st.SchemeName, st.SchemeType)
	}
}

func writeLegalMonetaryTotal(root *etree.Element, doc *InvoiceDocument) {
	lmt := root.CreateElement("cac:LegalMonetaryTotal")
	cbcAmount(lmt, "LineExtensionAmount", doc.Totals.LineExtension, doc.Currency)
	cbcAmount(lmt, "TaxInclusiveAmount", doc.Totals.Payable, doc.Currency)
	cbcAmount(lmt, "PayableAmount", doc.Totals.Payable, doc.Currency)
}

func writeInvoiceLine(root *etree.Element, l InvoiceLine, currency string) {
	il := root.CreateElement("cac:InvoiceLine")
	cbc(il, "ID", strconv.Itoa(l.ID))
	qty := cbc(il, "InvoicedQuantity", l.Quantity.String())
	qty.CreateAttr("unitCode", l.UnitCode)
	cbcAmount(il, "LineExtensionAmount", l.LineExtension, currency)

	// Líneas no gravadas no llevan bloque de impuesto (ni siquiera en cero).
	if l.Tax != nil {
		tt := il.CreateElement("cac:TaxTotal")
		cbcAmount(tt, "TaxAmount", l.Tax.Amount, currency)
		sub := tt.CreateElement("cac:TaxSubtotal")
		cbcAmount(sub, "TaxableAmount", l.Tax.TaxableAmount, currency)
		cbcAmount(sub, "TaxAmount", l.Tax.Amount, currency)
		cat := sub.CreateElement("cac:TaxCategory")
		cbc(cat, "ID", pkgsunat.TaxCategoryIGV)
		cbc(cat, "Percent", l.Tax.Percent.String())
		cbc(cat, "TaxExemptionReasonCode", l.Tax.AffectationCode)
		writeTaxScheme(cat, pkgsunat.TaxSchemeIGV, pkgsunat.TaxSchemeIGVName, pkgsunat.TaxSchemeIGVType)
	}

	item := il.CreateElement("cac:Item")
	cbc(item, "Description", l.Description)
	if l.ProductCode != "" {
		cbc(item.CreateElement("cac:SellersItemIdentification"), "ID", l.ProductCode)
	}
	cbcAmount(il.CreateElement("cac:Price"), "PriceAmount", l.UnitPrice, currency)
}

func writeTaxScheme(cat *etree.Element, id, name, typeCode string) {
	scheme := cat.CreateElement("cac:TaxScheme")
	cbc(scheme, "ID", id)
	cbc(scheme, "Name", name)
	cbc(scheme, "TaxTypeCode", typeCode)
}

func cbc(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement("cbc:" + tag)
	el.SetText(value)
	return el
}

func cbcAmount(parent *etree.Element, tag string, amount decimal.Decimal, currency string) *etree.Element {
	el := cbc(parent, tag, FormatAmount(amount))
	el.CreateAttr("currencyID", currency)
	return el
}

// FormatAmount monto con exactamente dos decimales.
func FormatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}
