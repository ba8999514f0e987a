package apperrors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidFixture = errors.New("invalid fixture")
	ErrMissingEnv     = errors.New("missing environment setting")
	ErrUnknownTask    = errors.New("unknown task")
	ErrInvalidArgs    = errors.New("invalid task arguments")
)
