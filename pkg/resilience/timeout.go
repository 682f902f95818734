package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

// WithTimeout calls fn with a context that expires after timeout. fn runs
// on the caller's goroutine and must honour ctx. An error caused by the
// deadline is reported as apperrors.ErrTimeout with status 503; any other
// error, including parent cancellation, is returned as is. A zero timeout
// runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Newf(apperrors.ErrTimeout, http.StatusServiceUnavailable,
			"%s exceeded %v", name, timeout)
	}
	return err
}
