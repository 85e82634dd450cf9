package link

import "errors"

var (
	ErrRateZero       = errors.New("transmission rate must be greater than zero")
	ErrRateRange      = errors.New("transmission rate out of range")
	ErrNotRunning     = errors.New("link not running")
	ErrAlreadyRunning = errors.New("link already running")
	ErrInvalidTimeout = errors.New("timeout must be greater than zero")
)
