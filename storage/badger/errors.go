package badger

import "errors"

// ErrBackendRequired is returned when a nil Backend is passed to a constructor.
var ErrBackendRequired = errors.New("badger backend required")
