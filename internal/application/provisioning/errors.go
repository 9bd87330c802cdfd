package provisioning

import "errors"

var (
	ErrNoValidEntities   = errors.New("no valid entities to process")
	ErrRetryLimitReached = errors.New("retry limit reached")
)
