package domain

import "errors"

// ErrInvalidTask indicates a task or update rejected at the store boundary.
var ErrInvalidTask = errors.New("invalid task")

// ErrTaskNotFound indicates an operation referenced a task id the store does
// not hold.
var ErrTaskNotFound = errors.New("task not found")
