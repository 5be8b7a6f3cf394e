package backend

import "errors"

var (
	ErrUnknownBackend     = errors.New("unknown execution backend")
	ErrUnknownHandle      = errors.New("execution handle not recognised by any backend")
	ErrBackendUnavailable = errors.New("execution backend unavailable")
	ErrStartTimeout       = errors.New("execution start timed out")
)
