package resilience

import (
	"errors"
	"strings"
)

// Outcome is the result of one model attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeAuthError
	OutcomeOtherError
	OutcomeSkipped // circuit open, model not called
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeAuthError:
		return "auth_error"
	case OutcomeOtherError:
		return "other_error"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// statusCoder is implemented by upstream API errors that know their HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// Classify maps an attempt error onto an Outcome. Typed upstream errors are
// judged by status code. Untyped errors only match on the API status names,
// never on bare digits: transport errors carry addresses and ports.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.HTTPStatus() {
		case 429:
			return OutcomeRateLimited
		case 401, 403:
			return OutcomeAuthError
		default:
			return OutcomeOtherError
		}
	}

	msg := err.Error()
	switch {
	case containsAny(msg, "RESOURCE_EXHAUSTED"):
		return OutcomeRateLimited
	case containsAny(msg, "UNAUTHENTICATED", "PERMISSION_DENIED"):
		return OutcomeAuthError
	default:
		return OutcomeOtherError
	}
}

// IsNotFound reports whether err looks like an unknown-model answer.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() == 404 {
		return true
	}
	msg := err.Error()
	return containsAny(msg, "NOT_FOUND", "is not found for API version")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
