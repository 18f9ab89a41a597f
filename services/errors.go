package services

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrEmptySequence   = errors.New("sequence has no steps")
	ErrAlreadyEnrolled = errors.New("prospect already has an active assignment on this sequence")
	ErrInvalidWebhook  = errors.New("invalid webhook payload")
	ErrUnsupported     = errors.New("unsupported channel")
)
