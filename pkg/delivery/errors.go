package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego/telegoapi"
)

// ErrTransient and ErrPermanent let a Sender classify a failure explicitly.
var (
	ErrTransient = errors.New("transient delivery error")
	ErrPermanent = errors.New("permanent delivery error")
)

func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

type Outcome int

const (
	Delivered Outcome = iota
	TransientFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// permanentMarkers are Bot API 400 descriptions meaning the destination will
// keep rejecting messages until an operator intervenes.
var permanentMarkers = []string{
	"chat not found",
	"bot was kicked",
	"not enough rights",
	"have no rights",
	"need administrator rights",
	"chat_write_forbidden",
	"chat was deactivated",
	"bot is not a member",
	"peer_id_invalid",
}

// Classify maps a Sender error to an outcome. Anything not known to be
// permanent is transient.
func Classify(err error) Outcome {
	if err == nil {
		return Delivered
	}
	if errors.Is(err, ErrPermanent) {
		return PermanentFailure
	}
	if errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return TransientFailure
	}

	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		return classifyAPI(apiErr.ErrorCode, apiErr.Description)
	}
	return classifyText(err.Error())
}

func classifyAPI(code int, description string) Outcome {
	switch code {
	case 403:
		return PermanentFailure
	case 400:
		if hasPermanentMarker(description) {
			return PermanentFailure
		}
	}
	return TransientFailure
}

// classifyText handles errors whose API payload was flattened into a string.
func classifyText(msg string) Outcome {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "forbidden:") || hasPermanentMarker(lower) {
		return PermanentFailure
	}
	return TransientFailure
}

func hasPermanentMarker(description string) bool {
	lower := strings.ToLower(description)
	for _, m := range permanentMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
