package common

import (
	"github.com/pkg/errors"
)

// Errors reported by the store and the journal. Callers compare against
// errors.Cause(err), since most of these are wrapped with context.
var (
	ErrOutOfSpace      = errors.New("out of space")
	ErrIntegrity       = errors.New("integrity mismatch")
	ErrCorrupt         = errors.New("corrupt metadata")
	ErrBadState        = errors.New("bad state")
	ErrNotFound        = errors.New("not found")
	ErrExists          = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIO              = errors.New("i/o error")
)
