package sunat

import (
	"fmt"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

// transitions permitidas. PENDING nunca pasa directo a SENDING: la firma no se salta.
var transitions = map[string][]string{
	entity.InvoiceStatusPending:   {entity.InvoiceStatusSigned},
	entity.InvoiceStatusSigned:    {entity.InvoiceStatusSending},
	entity.InvoiceStatusSending:   {entity.InvoiceStatusAccepted, entity.InvoiceStatusRejected, entity.InvoiceStatusSendError},
	entity.InvoiceStatusSendError: {entity.InvoiceStatusSending},
}

// CanTransition indica si el cambio from -> to está permitido.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition valida el cambio y devuelve ErrInvalidTransition si no aplica.
func Transition(from, to string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal ACCEPTED y REJECTED no admiten más cambios.
func IsTerminal(status string) bool {
	return status == entity.InvoiceStatusAccepted || status == entity.InvoiceStatusRejected
}

// IsSubmittable el comprobante puede (re)enviarse tal cual está firmado.
func IsSubmittable(status string) bool {
	return CanTransition(status, entity.InvoiceStatusSending)
}

// IsRetryable solo SEND_ERROR vuelve a intentarse sin intervención.
func IsRetryable(status string) bool {
	return status == entity.InvoiceStatusSendError
}

// IsKnownStatus valida valores leídos del almacenamiento.
func IsKnownStatus(status string) bool {
	switch status {
	case entity.InvoiceStatusPending, entity.InvoiceStatusSigned, entity.InvoiceStatusSending,
		entity.InvoiceStatusAccepted, entity.InvoiceStatusRejected, entity.InvoiceStatusSendError:
		return true
	}
	return false
}
