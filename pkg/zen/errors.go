package zen

import (
	"errors"
	"fmt"
)

// Error classes. Callers classify failures with errors.Is.
var (
	// ErrNotFound marks a missing chunk, package or script object.
	ErrNotFound = errors.New("not found")
	// ErrMalformed marks an offset or count that fails bounds validation.
	ErrMalformed = errors.New("malformed")
	// ErrInvariant marks a violated program invariant. It is fatal to the
	// whole run.
	ErrInvariant = errors.New("invariant violation")
	// ErrIO marks an output file failure.
	ErrIO = errors.New("io failure")
)

// PackageError reports a failure scoped to one package.
type PackageError struct {
	PackageID PackageID
	Field     string
	Err       error
}

func (e *PackageError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("package %s: %v", e.PackageID, e.Err)
	}
	return fmt.Sprintf("package %s: %s: %v", e.PackageID, e.Field, e.Err)
}

func (e *PackageError) Unwrap() error { return e.Err }

func malformed(field string, format string, args ...any) error {
	return &fieldError{field: field, err: fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)}
}

// fieldError tags a decode error with the field that failed. DecodePackage
// lifts it into a PackageError.
type fieldError struct {
	field string
	err   error
}

func (e *fieldError) Error() string { return e.field + ": " + e.err.Error() }
func (e *fieldError) Unwrap() error { return e.err }

func asPackageError(id PackageID, err error) error {
	if err == nil {
		return nil
	}
	var pe *PackageError
	if errors.As(err, &pe) {
		return err
	}
	var fe *fieldError
	if errors.As(err, &fe) {
		return &PackageError{PackageID: id, Field: fe.field, Err: fe.err}
	}
	return &PackageError{PackageID: id, Err: err}
}
