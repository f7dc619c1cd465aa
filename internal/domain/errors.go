package domain

import (
	"errors"
	"fmt"
)

// Failure kinds. Fatal kinds abort the run and clean up partial artifacts;
// integrity failures still produce a full report; schedule violations are
// recorded as warnings only.
var (
	ErrExternalTool      = errors.New("external tool failure")
	ErrIO                = errors.New("io failure")
	ErrCrypto            = errors.New("crypto failure")
	ErrNetwork           = errors.New("network failure")
	ErrIntegrity         = errors.New("integrity failure")
	ErrScheduleViolation = errors.New("schedule violation")
)

// Failure tags an underlying error with its kind and the operation that
// produced it. errors.Is matches against the kind sentinels above.
type Failure struct {
	Kind error
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Is(target error) bool { return target == f.Kind }

func NewFailure(kind error, op string, err error) error {
	return &Failure{Kind: kind, Op: op, Err: err}
}

func Failuref(kind error, op, format string, args ...interface{}) error {
	return &Failure{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}
