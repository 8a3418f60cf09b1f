// Package common defines shared constants and sentinel errors used across
// heaven-core components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Credential / auth-context errors.
	ErrNoCredential  = errors.New("no persisted credential")
	ErrNoAuthContext = errors.New("no valid auth context")
	ErrStaleSession  = errors.New("session expired")

	// Registration flow control.
	ErrAlreadyRegistered = errors.New("content already registered")
	ErrQuotaExhausted    = errors.New("storage credit below minimum")

	// Access-control errors.
	ErrEmptyGrantBatch = errors.New("empty grant batch")

	// Envelope errors. An incompatible envelope cannot be recovered client
	// side; the content has to be re-encrypted and re-uploaded.
	ErrIncompatibleEnvelope = errors.New("incompatible encryption context")
)
