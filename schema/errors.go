package schema

import "errors"

var (
	// ErrInvalidParams indicates malformed RPC arguments.
	ErrInvalidParams = errors.New("invalid params")
	// ErrInvalidIdentity indicates a missing user or session identity.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrOptionEval indicates chunk options could not be evaluated.
	ErrOptionEval = errors.New("chunk option evaluation failed")
	// ErrStoreQuery indicates the chunk output store could not be queried.
	ErrStoreQuery = errors.New("chunk store query failed")
	// ErrCoordinatorClosed indicates the coordinator loop has stopped.
	ErrCoordinatorClosed = errors.New("coordinator closed")
	// ErrEngineUnavailable indicates no execution engine is attached.
	ErrEngineUnavailable = errors.New("execution engine unavailable")
	// ErrUnknownMethod indicates an RPC method that is not registered.
	ErrUnknownMethod = errors.New("unknown method")
)
