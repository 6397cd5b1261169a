package eventstore

import (
	"git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

var (
	// ErrDatabaseOpenFailed indicates the SQLite database could not be opened.
	ErrDatabaseOpenFailed = errors.EventStoreError("could not open run history database").Build()

	// ErrInitializeSchemaFailed indicates the database schema could not be created.
	ErrInitializeSchemaFailed = errors.EventStoreError("failed to initialize run history schema").Build()

	ErrEventAppendFailed = errors.EventStoreError("failed to append event to run history").Build()
	ErrEventQueryFailed  = errors.EventStoreError("failed to query run history").Build()

	// ErrMarshalPayloadFailed indicates an event payload could not be encoded.
	ErrMarshalPayloadFailed = errors.EventStoreError("failed to marshal event payload").Build()
)
