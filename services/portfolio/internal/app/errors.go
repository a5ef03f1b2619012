package app

import "errors"

var (
	// ErrGenerationInProgress rejects a second generation while one is in flight for the same user.
	ErrGenerationInProgress = errors.New("generation already in progress")
	ErrEmptyInput           = errors.New("input text is required")
	ErrLimitReached         = errors.New("usage limit reached")
	ErrInvalidMode          = errors.New("invalid mode")
	ErrInvalidEntryType     = errors.New("invalid entry type")
	ErrInvalidTag           = errors.New("invalid tag")
	ErrNoteNotFound         = errors.New("note not found")
	ErrExportDisabled       = errors.New("export storage not configured")
	ErrUnknownUser          = errors.New("unknown user")
)
