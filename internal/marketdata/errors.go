package marketdata

import (
	"errors"
	"fmt"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
)

// NoDataError means every tier failed: no usable cache entry, upstream
// unreachable, and nothing in the persistent store. Cause carries the
// upstream failure that started the fallback chain.
type NoDataError struct {
	Key   domain.Key
	Cause error
}

func (e *NoDataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("no data available for %s: %v", e.Key, e.Cause)
	}
	return fmt.Sprintf("no data available for %s", e.Key)
}

func (e *NoDataError) Unwrap() error {
	return e.Cause
}

// IsNoData reports whether err is a NoDataError.
func IsNoData(err error) bool {
	var noData *NoDataError
	return errors.As(err, &noData)
}
