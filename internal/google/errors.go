package google

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"

	"backoffice/internal/core"
)

var quotaReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
}

// classify tags an API error with the kind the limiter and HTTP layer act on.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return core.E(core.KindTransport, op, err)
	}
	switch {
	case gerr.Code == http.StatusTooManyRequests:
		return core.E(core.KindRateLimited, op, err)
	case gerr.Code == http.StatusForbidden && hasQuotaReason(gerr):
		return core.E(core.KindRateLimited, op, err)
	case gerr.Code == http.StatusNotFound:
		return core.E(core.KindNotFound, op, err)
	case gerr.Code == http.StatusBadRequest:
		return core.E(core.KindValidation, op, err)
	}
	return core.E(core.KindTransport, op, err)
}

func hasQuotaReason(gerr *googleapi.Error) bool {
	for _, it := range gerr.Errors {
		if quotaReasons[it.Reason] {
			return true
		}
	}
	return false
}
