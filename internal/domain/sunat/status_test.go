package sunat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/sunat"
)

func TestTransition_CaminoFeliz(t *testing.T) {
	steps := []string{
		entity.InvoiceStatusPending,
		entity.InvoiceStatusSigned,
		entity.InvoiceStatusSending,
		entity.InvoiceStatusAccepted,
	}
	for i := 0; i < len(steps)-1; i++ {
		assert.NoError(t, sunat.Transition(steps[i], steps[i+1]))
	}
}

func TestTransition_NoSeSaltaLaFirma(t *testing.T) {
	err := sunat.Transition(entity.InvoiceStatusPending, entity.InvoiceStatusSending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTransition_ReintentoDesdeSendError(t *testing.T) {
	assert.True(t, sunat.CanTransition(entity.InvoiceStatusSendError, entity.InvoiceStatusSending))
	assert.True(t, sunat.IsSubmittable(entity.InvoiceStatusSendError))
	assert.True(t, sunat.IsSubmittable(entity.InvoiceStatusSigned))
	assert.False(t, sunat.IsSubmittable(entity.InvoiceStatusPending))
}

func TestTransition_EstadosTerminales(t *testing.T) {
	for _, s := range []string{entity.InvoiceStatusAccepted, entity.InvoiceStatusRejected} {
		assert.True(t, sunat.IsTerminal(s))
		for _, to := range []string{
			entity.InvoiceStatusPending, entity.InvoiceStatusSigned, entity.InvoiceStatusSending,
			entity.InvoiceStatusAccepted, entity.InvoiceStatusRejected, entity.InvoiceStatusSendError,
		} {
			assert.False(t, sunat.CanTransition(s, to), "%s -> %s", s, to)
		}
	}
	assert.False(t, sunat.IsTerminal(entity.InvoiceStatusSendError))
	assert.False(t, sunat.IsKnownStatus("DRAFT"))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, sunat.IsRetryable(entity.InvoiceStatusSendError))
	assert.False(t, sunat.IsRetryable(entity.InvoiceStatusSigned))
	assert.False(t, sunat.IsRetryable(entity.InvoiceStatusRejected))
}
