package errs

import sterrors "errors"

var (
	ErrLogRequired        = sterrors.New("eventstream: stream log is required")
	ErrStreamNameRequired = sterrors.New("eventstream: stream name is required")
	ErrGroupRequired      = sterrors.New("eventstream: consumer group is required")
	ErrConsumerRequired   = sterrors.New("eventstream: consumer name is required")
	ErrHandlerRequired    = sterrors.New("eventstream: handler function is required")
	ErrEventTypeRequired  = sterrors.New("eventstream: event type is required")
	ErrDedupRequired      = sterrors.New("eventstream: dedup store is required")
	ErrPublisherRequired  = sterrors.New("eventstream: publisher is required")
	ErrExecFuncRequired   = sterrors.New("eventstream: mission exec func is required")
	ErrStoreRequired      = sterrors.New("eventstream: mission store is required")
)
