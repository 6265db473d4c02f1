package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorInvalidFilter covers malformed report filters, e.g. a month outside 1-12.
var ErrorInvalidFilter = errors.New("invalid filter")

// ErrorStoreUnavailable marks transient store failures. Safe to retry:
// reconciliation is idempotent and reads are side-effect-free.
var ErrorStoreUnavailable = errors.New("store unavailable")

// ErrorConcurrencyConflict means another reconciliation for the same student
// is in flight. The caller should retry; no data was corrupted.
var ErrorConcurrencyConflict = errors.New("concurrent reconciliation in progress")
