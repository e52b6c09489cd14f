package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrUnauthorized = errors.New("no autorizado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")
)

// Taxonomía de errores del flujo de emisión electrónica.
// Cada paso del pipeline envuelve uno de estos sentinels con fmt.Errorf("%w: ...").
var (
	// ErrAllocationConflict: la asignación de correlativo no pudo confirmarse tras los reintentos. Reintentable.
	ErrAllocationConflict = errors.New("conflicto al asignar correlativo")
	// ErrSeriesExhausted: la serie llegó al último sufijo posible.
	ErrSeriesExhausted = errors.New("series agotadas para el tipo de documento")
	// ErrBuildValidation: la venta no puede convertirse en comprobante. Fatal.
	ErrBuildValidation = errors.New("datos de venta inválidos para el comprobante")
	// ErrCredential: certificado o llave mal formados o ambiguos. Fatal.
	ErrCredential = errors.New("credencial de firma inválida")
	// ErrSigning: falló la firma; el documento sigue sin firmar y se puede reintentar.
	ErrSigning = errors.New("error de firma digital")
	// ErrUnsendable: la solicitud a SUNAT no puede armarse (endpoint, usuario SOL, archivo).
	// Reenviar no cambia el resultado hasta corregir datos o configuración.
	ErrUnsendable = errors.New("solicitud de envío a SUNAT inválida")
	// ErrTransport: red, timeout o fallo temporal del servicio SUNAT. Reintentable.
	ErrTransport = errors.New("error de transporte con SUNAT")
	// ErrAuthorityRejection: SUNAT rechazó el comprobante. Requiere un nuevo número.
	ErrAuthorityRejection = errors.New("comprobante rechazado por SUNAT")
	// ErrInvalidTransition: cambio de estado no permitido por la máquina de estados.
	ErrInvalidTransition = errors.New("transición de estado no permitida")
)

// Resultados HTTP de un intento de envío.
const (
	HTTPOutcomeSuccess      = "success"
	HTTPOutcomeTimeout      = "timeout"
	HTTPOutcomeNetworkError = "network_error"
)

// TransportError conserva la respuesta cruda de SUNAT para auditoría.
type TransportError struct {
	Outcome string // HTTPOutcome*
	Raw     []byte
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", ErrTransport.Error(), e.Outcome)
	}
	return fmt.Sprintf("%s (%s): %v", ErrTransport.Error(), e.Outcome, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is permite errors.Is(err, ErrTransport).
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsRetryable indica si el error permite reintentar el mismo paso sin cambiar datos.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrAllocationConflict) || errors.Is(err, ErrSigning)
}
