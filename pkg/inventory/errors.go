package inventory

import "errors"

var (
	ErrCarNotFound        = errors.New("car not found")
	ErrDuplicateCar       = errors.New("car already exists")
	ErrUnresolvedMake     = errors.New("unknown make reference")
	ErrUnresolvedVariant  = errors.New("unknown variant reference")
	ErrMissingField       = errors.New("required field is missing")
	ErrInvalidField       = errors.New("field has an invalid value")
	ErrNoNewItems         = errors.New("every submitted car already exists")
	ErrEmptyBatch         = errors.New("batch contains no rows")
	ErrUnknownSchema      = errors.New("unknown row schema")
	ErrUsageReconcile     = errors.New("failed to reconcile usage after partial import")
	ErrMalformedInputFile = errors.New("malformed import file")
)
