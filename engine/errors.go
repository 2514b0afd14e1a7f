package engine

import "errors"

var (
	// ErrConfiguration marks failures caused by the declared schemas: a
	// missing local definition, an index name that violates the naming
	// convention, or a key attribute the owning table never declares.
	// These are never retried; the schemas have to be fixed first.
	ErrConfiguration = errors.New("configuration error")

	// ErrProtocol marks a status observed on a table or index that the
	// store should never report at that point, e.g. DELETING on an index
	// that was just requested for creation. It signals a store-side
	// anomaly and aborts the batch.
	ErrProtocol = errors.New("protocol violation")
)
