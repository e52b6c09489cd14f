// Package sunat contiene catálogos y validaciones del esquema de comprobantes
// electrónicos UBL 2.1 de SUNAT (Perú).
package sunat

// =============================================================================
// Catálogo 01 - Tipo de documento
// =============================================================================

const (
	DocTypeFactura = "01" // Factura
	DocTypeBoleta  = "03" // Boleta de venta
)

// SeriesPrefixByDocType letra inicial de la serie por tipo de documento.
var SeriesPrefixByDocType = map[string]byte{
	DocTypeFactura: 'F',
	DocTypeBoleta:  'B',
}

// =============================================================================
// Catálogo 06 - Tipo de documento de identidad
// =============================================================================

const (
	IdentityTypeNone = "0" // Sin documento (boletas de monto menor)
	IdentityTypeDNI  = "1" // Documento Nacional de Identidad
	IdentityTypeCE   = "4" // Carné de extranjería
	IdentityTypeRUC  = "6" // Registro Único de Contribuyentes
)

// =============================================================================
// Catálogo 05 - Tipos de tributo
// =============================================================================

const (
	TaxSchemeIGV      = "1000" // Impuesto General a las Ventas
	TaxSchemeIGVName  = "IGV"
	TaxSchemeIGVType  = "VAT"
	TaxSchemeEXO      = "9997" // Exonerado
	TaxSchemeEXOName  = "EXO"
	TaxSchemeEXOType  = "VAT"
	TaxCategoryIGV    = "S" // Tasa estándar (UN/ECE 5305)
	TaxCategoryExempt = "E"
)

// =============================================================================
// Catálogo 07 - Tipo de afectación del IGV
// =============================================================================

const (
	AffectationGravadoOneroso   = "10" // Gravado - Operación onerosa
	AffectationExoneradoOneroso = "20" // Exonerado - Operación onerosa
)

// =============================================================================
// Catálogo 51 - Tipo de operación
// =============================================================================

const OperationTypeVentaInterna = "0101"

// =============================================================================
// Unidades de medida (UN/ECE Rec 20) de uso frecuente
// =============================================================================

const (
	UnitGoods    = "NIU" // Unidad (bienes)
	UnitServices = "ZZ"  // Unidad (servicios)
	UnitKilogram = "KGM"
	UnitLitre    = "LTR"
	UnitMetre    = "MTR"
	UnitBox      = "BX"
	UnitDozen    = "DZN"
)

// ValidUnitCodes códigos aceptados sin advertencia.
var ValidUnitCodes = map[string]bool{
	UnitGoods: true, UnitServices: true, UnitKilogram: true, UnitLitre: true,
	UnitMetre: true, UnitBox: true, UnitDozen: true,
}

// =============================================================================
// Forma de pago
// =============================================================================

const (
	PaymentFormContado = "Contado"
	PaymentFormCredito = "Credito"
)

// CurrencyPEN moneda por defecto.
const CurrencyPEN = "PEN"

// Versiones UBL exigidas por SUNAT.
const (
	UBLVersion      = "2.1"
	CustomizationID = "2.0"
)
