package reservation

import "errors"

var (
	ErrTableNotFound     = errors.New("table not found")
	ErrTableNotAvailable = errors.New("table not available")
	ErrCannotOccupy      = errors.New("cannot occupy table")
	ErrTableNotHeld      = errors.New("table not held")
	ErrRateLimited       = errors.New("rate limited")
)
