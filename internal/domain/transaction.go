// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"errors"
	"time"
)

// Transaction kinds accepted by the engine.
const (
	KindPayment    = "payment"
	KindTransfer   = "transfer"
	KindWithdrawal = "withdrawal"
	KindDeposit    = "deposit"
)

// Geolocation is an optional location attached to a transaction.
type Geolocation struct {
	Country   string  `json:"country"`
	Region    string  `json:"region,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// TransactionContext is the immutable input for one risk evaluation.
// The timestamp is caller-supplied, not server time, so historical
// transactions can be replayed and tests can fix the clock.
type TransactionContext struct {
	ID        string `json:"id"`
	SubjectID string `json:"subjectId"`

	// Account pair involved in the movement of funds.
	AccountID            string `json:"accountId"`
	DestinationAccountID string `json:"destinationAccountId"`

	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Kind     string  `json:"kind"`

	Timestamp time.Time `json:"timestamp"`

	// Client environment
	IPAddress         string       `json:"ipAddress,omitempty"`
	ClientID          string       `json:"clientId,omitempty"`
	Location          *Geolocation `json:"location,omitempty"`
	DeviceFingerprint string       `json:"deviceFingerprint,omitempty"`
	SessionID         string       `json:"sessionId,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validation errors returned by TransactionContext.Validate.
var (
	ErrMissingTransactionID = errors.New("transaction id is required")
	ErrMissingSubject       = errors.New("subject id is required")
	ErrNonPositiveAmount    = errors.New("amount must be positive")
	ErrMissingTimestamp     = errors.New("timestamp is required")
	ErrUnknownKind          = errors.New("unknown transaction kind")
)

// Validate checks the invariants the engine depends on. It reports the
// first violation found; the orchestrator converts any violation into a
// review decision rather than propagating an error to the caller.
func (t *TransactionContext) Validate() error {
	if t.ID == "" {
		return ErrMissingTransactionID
	}
	if t.SubjectID == "" {
		return ErrMissingSubject
	}
	if t.Amount <= 0 {
		return ErrNonPositiveAmount
	}
	if t.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	switch t.Kind {
	case KindPayment, KindTransfer, KindWithdrawal, KindDeposit:
	default:
		return ErrUnknownKind
	}
	return nil
}

// Country returns the transaction country, or "" when no location was sent.
func (t *TransactionContext) Country() string {
	if t.Location == nil {
		return ""
	}
	return t.Location.Country
}

// EvaluateRequest is the API payload for POST /evaluate.
type EvaluateRequest struct {
	TransactionID        string                 `json:"transactionId,omitempty"`
	SubjectID            string                 `json:"subjectId"`
	AccountID            string                 `json:"accountId"`
	DestinationAccountID string                 `json:"destinationAccountId"`
	Amount               float64                `json:"amount"`
	Currency             string                 `json:"currency"`
	Kind                 string                 `json:"kind"`
	Timestamp            *time.Time             `json:"timestamp,omitempty"`
	IPAddress            string                 `json:"ipAddress,omitempty"`
	ClientID             string                 `json:"clientId,omitempty"`
	Location             *Geolocation           `json:"location,omitempty"`
	DeviceFingerprint    string                 `json:"deviceFingerprint,omitempty"`
	SessionID            string                 `json:"sessionId,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
}

// ToContext converts the request into a TransactionContext, filling the
// timestamp with the server clock only when the caller omitted one.
func (r *EvaluateRequest) ToContext(newID func() string) *TransactionContext {
	id := r.TransactionID
	if id == "" && newID != nil {
		id = newID()
	}
	ts := time.Now().UTC()
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}
	return &TransactionContext{
		ID:                   id,
		SubjectID:            r.SubjectID,
		AccountID:            r.AccountID,
		DestinationAccountID: r.DestinationAccountID,
		Amount:               r.Amount,
		Currency:             r.Currency,
		Kind:                 r.Kind,
		Timestamp:            ts,
		IPAddress:            r.IPAddress,
		ClientID:             r.ClientID,
		Location:             r.Location,
		DeviceFingerprint:    r.DeviceFingerprint,
		SessionID:            r.SessionID,
		Metadata:             r.Metadata,
	}
}
