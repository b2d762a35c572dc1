package temporal

import (
	"errors"

	"go.temporal.io/sdk/temporal"
)

// errorType returns the application error type in err's chain, or "".
func errorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
