package es

import "errors"

// Error kinds returned by store, linker, deletion and subscription
// operations. Callers match these with errors.Is; adapters wrap them with
// additional context via fmt.Errorf("...: %w", ErrX).
var (
	// ErrWrongExpectedVersion indicates a concurrency violation: the
	// stream's current version did not match the caller's expectation.
	// The caller should re-read and retry.
	ErrWrongExpectedVersion = errors.New("riftlog: wrong expected version")

	// ErrStreamNotFound indicates a read, link, or delete of a stream that
	// has never existed, or whose events were hard-deleted.
	ErrStreamNotFound = errors.New("riftlog: stream not found")

	// ErrStreamDeleted indicates the target stream is soft- or
	// hard-deleted. The caller must decide whether to recreate (hard
	// delete only, via NoStream) or abandon.
	ErrStreamDeleted = errors.New("riftlog: stream deleted")

	// ErrStreamExistsError indicates a NoStream expectation failed because
	// the stream already exists.
	ErrStreamExistsError = errors.New("riftlog: stream already exists")

	// ErrEventNotFound indicates Link referenced an event_id that does not
	// exist.
	ErrEventNotFound = errors.New("riftlog: event not found")

	// ErrDuplicateLink indicates Link referenced an event already present
	// in the target stream.
	ErrDuplicateLink = errors.New("riftlog: event already linked in stream")

	// ErrNotEnabled indicates a hard delete was attempted without the
	// store being configured to allow it.
	ErrNotEnabled = errors.New("riftlog: hard delete is not enabled")

	// ErrSerializerError indicates an encode/decode failure at the
	// serializer boundary, surfaced to the caller or nacked to the
	// consumer.
	ErrSerializerError = errors.New("riftlog: serializer error")

	// ErrTransport indicates database connectivity was lost; appends and
	// checkpoint writes fail fast rather than retry indefinitely.
	ErrTransport = errors.New("riftlog: transport error")

	// ErrSubscriptionExists indicates a subscription was created with a
	// (stream, name) pair that is already registered with conflicting
	// options.
	ErrSubscriptionExists = errors.New("riftlog: subscription already exists")

	// ErrSubscriptionNameConflict indicates a reconnect attempted to reuse
	// a subscription name against a different stream.
	ErrSubscriptionNameConflict = errors.New("riftlog: subscription name conflict")

	// ErrNoEvents indicates an attempt to append or link a batch whose
	// event_ids resolved to no rows.
	ErrNoEvents = errors.New("riftlog: no events")
)
