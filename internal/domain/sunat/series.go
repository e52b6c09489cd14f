// Package sunat reúne las reglas puras del comprobante electrónico: numeración,
// máquina de estados y validación de la venta. No tiene dependencias de infraestructura.
package sunat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	pkgsunat "github.com/jhoicas/facturador-sunat/pkg/sunat"
)

const (
	// MaxCorrelative último correlativo emitido dentro de una serie.
	MaxCorrelative  = 9999
	maxSeriesSuffix = 999
)

// FirstSeries serie inicial del carril: F001 para facturas, B001 para boletas.
func FirstSeries(docTypeCode string) (string, error) {
	prefix, ok := pkgsunat.SeriesPrefixByDocType[docTypeCode]
	if !ok {
		return "", fmt.Errorf("%w: tipo de documento %q sin serie", domain.ErrBuildValidation, docTypeCode)
	}
	return fmt.Sprintf("%c%03d", prefix, 1), nil
}

// NextSeries conserva la letra y aumenta el sufijo numérico: F001 -> F002.
func NextSeries(series string) (string, error) {
	letter, suffix, err := splitSeries(series)
	if err != nil {
		return "", err
	}
	if suffix >= maxSeriesSuffix {
		return "", fmt.Errorf("%w: %s", domain.ErrSeriesExhausted, series)
	}
	return fmt.Sprintf("%c%03d", letter, suffix+1), nil
}

// Advance calcula el siguiente estado del carril a partir del actual.
// Si el carril llegó a MaxCorrelative se pasa a la serie siguiente y se emite el 1.
func Advance(cur entity.DocumentSeries) (entity.DocumentSeries, error) {
	next := cur
	if cur.LastCorrelative < 0 {
		return next, fmt.Errorf("sunat: correlativo negativo en %s", cur.Series)
	}
	if cur.LastCorrelative >= MaxCorrelative {
		s, err := NextSeries(cur.Series)
		if err != nil {
			return next, err
		}
		next.Series = s
		next.LastCorrelative = 0
	}
	next.LastCorrelative++
	return next, nil
}

// FormatDocumentID devuelve SERIE-NNNN.
func FormatDocumentID(series string, correlative int) string {
	return fmt.Sprintf("%s-%04d", series, correlative)
}

// ParseDocumentID separa "F001-0001" en serie y correlativo.
func ParseDocumentID(id string) (string, int, error) {
	series, num, ok := strings.Cut(id, "-")
	if !ok {
		return "", 0, fmt.Errorf("sunat: id de documento inválido %q", id)
	}
	if _, _, err := splitSeries(series); err != nil {
		return "", 0, err
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 || n > MaxCorrelative {
		return "", 0, fmt.Errorf("sunat: correlativo inválido en %q", id)
	}
	return series, n, nil
}

func splitSeries(series string) (byte, int, error) {
	if len(series) != 4 || series[0] < 'A' || series[0] > 'Z' {
		return 0, 0, fmt.Errorf("sunat: serie inválida %q", series)
	}
	n, err := strconv.Atoi(series[1:])
	if err != nil || n < 0 {
		return 0, 0, fmt.Errorf("sunat: serie inválida %q", series)
	}
	return series[0], n, nil
}

// SeriesKey identifica el carril: una empresa y un tipo de comprobante.
type SeriesKey struct {
	CompanyID        string
	DocumentTypeCode string
}

// AllocatedNumber número confirmado para un comprobante.
type AllocatedNumber struct {
	CompanyID        string
	DocumentTypeCode string
	Series           string
	Correlative      int
}

// DocumentID SERIE-NNNN.
func (n AllocatedNumber) DocumentID() string {
	return FormatDocumentID(n.Series, n.Correlative)
}
