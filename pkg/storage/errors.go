package storage

import "errors"

var (
	ErrNotContiguous = errors.New("storage: block does not continue the log")
	ErrClosed        = errors.New("storage: closed")
	ErrBroken        = errors.New("storage: log failed to persist, reopen required")
)
