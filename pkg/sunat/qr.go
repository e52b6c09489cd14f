package sunat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// QRParams datos impresos en el código QR de la representación impresa.
type QRParams struct {
	IssuerRUC        string
	DocumentTypeCode string
	Series           string
	Correlative      int
	TaxTotal         decimal.Decimal
	GrandTotal       decimal.Decimal
	IssueDate        string // YYYY-MM-DD
	CustomerIDType   string
	CustomerIDNumber string
	DigestValue      string
}

// QRPayload arma la cadena separada por "|" en el orden que SUNAT publica:
// RUC|TIPO|SERIE|NUMERO|IGV|TOTAL|FECHA|TIPO DOC ADQ|NUM DOC ADQ|HASH|
func QRPayload(p QRParams) (string, error) {
	if p.IssuerRUC == "" || p.Series == "" || p.Correlative <= 0 {
		return "", fmt.Errorf("sunat: QR requiere RUC, serie y correlativo")
	}
	parts := []string{
		p.IssuerRUC,
		p.DocumentTypeCode,
		p.Series,
		strconv.Itoa(p.Correlative),
		p.TaxTotal.Round(2).StringFixed(2),
		p.GrandTotal.Round(2).StringFixed(2),
		p.IssueDate,
		p.CustomerIDType,
		p.CustomerIDNumber,
		p.DigestValue,
	}
	return strings.Join(parts, "|") + "|", nil
}
