package repository

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrNotAvailable = errors.New("table not available")
	ErrCannotOccupy = errors.New("table cannot be occupied")
	ErrNotHeld      = errors.New("table not held")
)
