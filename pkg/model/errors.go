package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for nil, empty or malformed input, such as an
	// empty currency code or an instrument id whose venue does not match the provider.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotImplemented is returned by load hooks a venue loader does not support.
	ErrNotImplemented = errors.New("not implemented")

	// ErrSerialization is returned when a value has no canonical serialized form.
	ErrSerialization = errors.New("serialization error")
)

// InvalidArgumentf wraps ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotImplementedf wraps ErrNotImplemented with a formatted message.
func NotImplementedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, fmt.Sprintf(format, args...))
}
