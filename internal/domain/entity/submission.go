package entity

import "time"

// Decisiones de SUNAT registradas por intento.
const (
	AuthorityDecisionAccepted = "accepted"
	AuthorityDecisionRejected = "rejected"
	AuthorityDecisionUnknown  = "unknown"
)

// SubmissionRecord registra un intento de envío. Solo se agregan, nunca se modifican.
type SubmissionRecord struct {
	ID                string
	InvoiceID         string
	DocumentID        string
	AttemptSeq        int
	AttemptedAt       time.Time
	FileName          string
	HTTPOutcome       string // success, timeout, network_error
	AuthorityDecision string // accepted, rejected, unknown
	ResponseCode      string
	ErrorMessage      string
	RawResponse       []byte
}
