package service

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"sort"
	"strings"
	"syscall"
)

type errTmpIf interface{ Temporary() bool }
type errTmp struct{ error }

func (t errTmp) Temporary() bool    { return true }
func (t *errTmp) Unwrap() error     { return t.error }
func MakeTemporary(err error) error { return &errTmp{err} }

type errFatalIf interface{ Fatal() bool }
type errFatal struct{ error }

func (t errFatal) Fatal() bool    { return true }
func (t *errFatal) Unwrap() error { return t.error }
func MakeFatal(err error) error   { return &errFatal{err} }

// Temporary inspects the error trace and returns whether the error is transient
func Temporary(err error) bool {
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}

	//First override some default syscall temporary statuses
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EIO, syscall.EBUSY, syscall.ECANCELED, syscall.ECONNABORTED, syscall.ECONNRESET, syscall.ENOMEM, syscall.EPIPE:
			return true
		}
	}

	//first check explicitely marked error
	var tmp errTmpIf
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	if errors.As(err, &NotAvailableError{}) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// Fatal inspects the error and returns whether it's a fatal error
func Fatal(err error) bool {
	var tmp errFatalIf
	if errors.As(err, &tmp) {
		return tmp.Fatal()
	}
	return false
}

// MergeErrors, appending texts
// if priorityToErr is true, priority to the fatal error then to the temporary
// else, priority to no error, then to the temporary and finally to the fatal error.
func MergeErrors(priorityToError bool, err error, newErrs ...error) error {
	if len(newErrs) == 0 {
		return err
	}
	newErr := newErrs[0]

	if newErr == nil {
		if !priorityToError {
			return nil
		}
	} else if err == nil {
		err = newErr
	} else if priorityToError != Temporary(err) {
		err = fmt.Errorf("%w\n %v", err, newErr)
	} else {
		err = fmt.Errorf("%w\n %v", newErr, err)
	}
	return MergeErrors(priorityToError, err, newErrs[1:]...)
}

// MalformedPathError is raised at mapping-compile time when a path expression
// cannot be parsed. It is never raised at request time.
type MalformedPathError struct {
	Path   string
	Reason string
}

func (e MalformedPathError) Error() string {
	return fmt.Sprintf("malformed path expression %q: %s", e.Path, e.Reason)
}

// UnknownFormatterError is raised when a mapping references a formatter that
// was never registered.
type UnknownFormatterError struct {
	Name string
}

func (e UnknownFormatterError) Error() string {
	return fmt.Sprintf("unknown formatter: %s", e.Name)
}

// FormatterArgumentError is raised on formatter arity or type mismatch.
type FormatterArgumentError struct {
	Name   string
	Reason string
}

func (e FormatterArgumentError) Error() string {
	return fmt.Sprintf("formatter %s: %s", e.Name, e.Reason)
}

// MissingBindingError is raised when a mandatory query-template placeholder is
// unbound and has no default.
type MissingBindingError struct {
	Placeholder string
}

func (e MissingBindingError) Error() string {
	return fmt.Sprintf("missing binding for placeholder %q", e.Placeholder)
}

// AuthenticationError is raised when a provider rejects or cannot deliver credentials.
type AuthenticationError struct {
	Provider string
	Reason   string
}

func (e AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %s", e.Provider, e.Reason)
}

// NotAvailableError is raised when a product is still offline/staging after the
// poll timeout. It is retryable later, never fatal for the batch.
type NotAvailableError struct {
	Product string
}

func (e NotAvailableError) Error() string {
	return fmt.Sprintf("product not available yet: %s", e.Product)
}

// MisconfiguredError is raised when a provider configuration is unusable.
// It is fatal for that provider only.
type MisconfiguredError struct {
	Provider string
	Reason   string
}

func (e MisconfiguredError) Error() string {
	return fmt.Sprintf("misconfigured provider %s: %s", e.Provider, e.Reason)
}

// FatalDownloadError is raised when a download cannot be completed nor retried.
type FatalDownloadError struct {
	Product string
	Err     error
}

func (e FatalDownloadError) Error() string {
	return fmt.Sprintf("download of %s failed permanently: %v", e.Product, e.Err)
}

func (e FatalDownloadError) Unwrap() error { return e.Err }

// PartialFailure aggregates per-item errors of a batch or multi-asset
// operation that partially succeeded.
type PartialFailure struct {
	Errors map[string]error
}

func (e PartialFailure) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fmt.Sprintf("%s: %v", k, e.Errors[k]))
	}
	return fmt.Sprintf("partial failure (%d items): %s", len(e.Errors), strings.Join(msgs, "; "))
}
