package gateway

import (
	"context"
	"errors"
	"net"

	"github.com/marchand/paygate/internal/domain"
)

// ClassifyTransportError maps a failed outbound provider call onto the error
// taxonomy. Deadline expiries and network timeouts become Timeout; everything
// else becomes NetworkError. The original error stays attached as the cause.
func ClassifyTransportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.KindTimeout, "provider call deadline exceeded", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.WrapError(domain.KindTimeout, "provider call timed out", err)
	default:
		return domain.WrapError(domain.KindNetworkError, "provider call failed", err)
	}
}
