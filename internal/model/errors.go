package model

import "errors"

// Every rejection is terminal for the attempted instruction and leaves no
// partial effects. Detail is attached with fmt.Errorf("%w: ...").
var (
	ErrAlreadyExists      = errors.New("model: already exists")
	ErrNotFound           = errors.New("model: not found")
	ErrInvalidState       = errors.New("model: invalid state")
	ErrInvalidSequence    = errors.New("model: invalid position sequence")
	ErrInvalidParam       = errors.New("model: invalid parameter")
	ErrInvalidTimeRange   = errors.New("model: invalid time range")
	ErrLeverageExceeded   = errors.New("model: leverage exceeded")
	ErrInsufficientMargin = errors.New("model: insufficient margin")
	ErrInsufficientFunds  = errors.New("model: insufficient funds")
	ErrAlreadyDelegated   = errors.New("model: account already delegated")
	ErrNotDelegated       = errors.New("model: account not delegated")
	ErrUnauthorized       = errors.New("model: unauthorized")

	ErrLeagueFull       = errors.New("model: league is full")
	ErrMaxOpenPositions = errors.New("model: max open positions exceeded")
	ErrAlreadyJoined    = errors.New("model: already joined")
	ErrConflict         = errors.New("model: concurrent modification")
	ErrOracle           = errors.New("model: oracle price unavailable")
)
