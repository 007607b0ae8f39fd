package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyAssigned    = errors.New("order already has an assigned partner")
	ErrInvalidStatus      = errors.New("invalid order status")
	ErrPartnerUnavailable = errors.New("delivery partner is not available")
	ErrPartnerBusy        = errors.New("delivery partner is serving an active order")
	ErrPersistence        = errors.New("persistence failure")
)

// ValidationError describes the first offending field of a rejected draft.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
