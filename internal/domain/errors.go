package domain

import "errors"

// Validation errors (user-correctable, reported synchronously)
var (
	ErrInvalidMode     = errors.New("invalid battle mode")
	ErrInvalidDuration = errors.New("battle duration out of range")
	ErrInvalidRating   = errors.New("problem rating out of range")
	ErrHandleRequired  = errors.New("judge handle is required to enter a battle")
)

// Battle lifecycle errors
var (
	ErrBattleNotFound       = errors.New("battle not found")
	ErrBattleAlreadyStarted = errors.New("battle already started")
	ErrBattleFull           = errors.New("battle is full or you are already in it")
	ErrNotInBattle          = errors.New("user is not in this battle")
	ErrNotHost              = errors.New("only the host can perform this action")
	ErrAlreadyInBattle      = errors.New("user is already in a battle")
)

// Matchmaking errors
var (
	ErrAlreadyQueued = errors.New("user is already searching for a match")
	ErrSearchTimeout = errors.New("no opponents found in time")
	ErrNotInQueue    = errors.New("user is not in the matchmaking queue")
)

// External collaborator errors
var (
	ErrJudgeUnavailable = errors.New("judge service unavailable")
	ErrNoProblemFound   = errors.New("no unsolved problem matches the criteria")
)
