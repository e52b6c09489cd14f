package entity

import "time"

// DocumentSeries es un carril de numeración por empresa y tipo de comprobante.
// LastCorrelative es el último número emitido dentro de Series (0 = ninguno).
type DocumentSeries struct {
	CompanyID        string
	DocumentTypeCode string
	Series           string // 4 caracteres, ej: F001
	LastCorrelative  int
	UpdatedAt        time.Time
}
