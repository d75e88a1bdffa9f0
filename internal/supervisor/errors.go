package supervisor

import (
	"errors"
	"fmt"

	"dnsscanner/internal/catalog"
	"dnsscanner/internal/domain"
	"dnsscanner/internal/ipv4"
	"dnsscanner/internal/scanner"
)

// ConfigurationError reports input the scan cannot start with. Retrying does
// not help; the operator has to change the arguments.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configError(field string, err error) error {
	return &ConfigurationError{Field: field, Err: err}
}

// IsFatal reports whether err is a configuration problem rather than a
// transient scan failure.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr) ||
		errors.Is(err, ipv4.ErrMalformedAddress) ||
		errors.Is(err, catalog.ErrEmptyCatalog) ||
		errors.Is(err, scanner.ErrInvalidSpan)
}

func errInvertedSpan(span domain.Span) error {
	return fmt.Errorf("%w: %s", scanner.ErrInvalidSpan, span)
}
