package domain

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrBatchNotFound      = errors.New("generation_batch_not_found")
	ErrGenerationNotFound = errors.New("generation_not_found")
	ErrTaskNotFound       = errors.New("async_task_not_found")
	ErrTaskTerminal       = errors.New("async_task_terminal")
)
