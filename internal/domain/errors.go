package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// Fatal pre-dispatch failures; no broadcast or batch rows exist when these are returned.
	ErrContentNotFound = errors.New("content not found")
	ErrBudgetExceeded  = errors.New("budget exceeded")
	ErrResolverFailure = errors.New("subscriber resolver failure")
	ErrNoRecipients    = errors.New("no opted-in recipients match targeting")

	// ErrComplianceViolation is fatal for a single message only.
	ErrComplianceViolation = errors.New("compliance violation")

	ErrDeadBatch = errors.New("dead batch")
)
