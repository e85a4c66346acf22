package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrDuplicatePosition   = errors.New("duplicate position")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrInvalidAdvisory     = errors.New("invalid advisory input")
	ErrLockHeld            = errors.New("lock already held")
)
