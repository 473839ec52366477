// Package hashing fingerprints structured values: the value is rendered to a
// canonical JSON form and digested with SHA2-256.
package hashing

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/multiformats/go-multihash"

	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

// SerializationError reports a value that has no canonical form.
type SerializationError struct {
	Type string // Go type of the rejected value
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error: cannot canonicalize %s: %v", e.Type, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, model.ErrSerialization) hold for every SerializationError.
func (e *SerializationError) Is(target error) bool {
	return target == model.ErrSerialization
}

// Canonical returns the canonical JSON bytes of v. Map keys are emitted in sorted
// order at every depth, struct fields in declaration order and HTML characters are
// left unescaped, so logically equal values always produce the same bytes.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, &SerializationError{Type: fmt.Sprintf("%T", v), Err: err}
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Multihash returns the SHA2-256 multihash of the canonical form of v.
func Multihash(v any) (multihash.Multihash, error) {
	b, err := Canonical(v)
	if err != nil {
		return nil, err
	}
	mh, err := multihash.Sum(b, multihash.SHA2_256, -1)
	if err != nil {
		return nil, fmt.Errorf("multihash sum: %w", err)
	}
	return mh, nil
}

// Hash returns the lower-case hex SHA2-256 digest (64 characters) of the canonical
// form of v.
func Hash(v any) (string, error) {
	mh, err := Multihash(v)
	if err != nil {
		return "", err
	}
	decoded, err := multihash.Decode(mh)
	if err != nil {
		return "", fmt.Errorf("multihash decode: %w", err)
	}
	return hex.EncodeToString(decoded.Digest), nil
}

// IsSerializationError reports whether err came from a value without canonical form.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}
