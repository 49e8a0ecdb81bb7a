package domain

import "errors"

// Failure classes shared by the services, the digest workers and the mail
// providers. Retrying code retries ErrTransient and stops on ErrPermanent.
var (
	// ErrTransient marks storage or mail being unreachable. Idempotent
	// operations retry it with bounded backoff.
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks a failure retrying cannot fix, including an
	// exhausted retry budget.
	ErrPermanent = errors.New("permanent failure")
)
