// Package apperr defines the error taxonomy shared by the sync worker and the
// session orchestrator, and the classifier that maps arbitrary transport or
// driver errors onto it.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindConnectivity is transient infrastructure unavailability.
	KindConnectivity
	// KindApplication covers schema/validation/pipeline failures.
	KindApplication
	// KindAuthentication is a bad credential. Never retried by the worker.
	KindAuthentication
	// KindAuthorization is an inactive or expired subscription.
	KindAuthorization
	// KindConsistencyGuard is a declined or unconfirmed tenant switch.
	KindConsistencyGuard
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindApplication:
		return "application"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindConsistencyGuard:
		return "consistency_guard"
	default:
		return "unknown"
	}
}

// User-facing reasons. Offline login reasons must stay distinct.
const (
	ReasonNoPriorLogin         = "no_prior_login"
	ReasonExpired              = "expired"
	ReasonWrongPassword        = "wrong_password"
	ReasonIdentityMismatch     = "identity_mismatch"
	ReasonLockedOut            = "locked_out"
	ReasonInvalidCredentials   = "invalid_credentials"
	ReasonUserInactive         = "user_inactive"
	ReasonSubscriptionMissing  = "subscription_missing"
	ReasonSubscriptionInactive = "subscription_inactive"
	ReasonSubscriptionExpired  = "subscription_expired"
	ReasonTenantSwitchDeclined = "tenant_switch_declined"
	ReasonSessionExpired       = "session_expired"
)

// Error carries a taxonomy kind, an optional machine-readable reason and the
// operation that failed.
type Error struct {
	Kind   Kind
	Reason string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and, when set on the target, by reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

func New(kind Kind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

func Connectivity(op string, err error) *Error {
	return New(KindConnectivity, op, "", err)
}

func Application(op string, err error) *Error {
	return New(KindApplication, op, "", err)
}

func Authentication(op, reason string) *Error {
	return New(KindAuthentication, op, reason, nil)
}

func Authorization(op, reason string, err error) *Error {
	return New(KindAuthorization, op, reason, err)
}

func ConsistencyGuard(op, reason string, err error) *Error {
	return New(KindConsistencyGuard, op, reason, err)
}

// Applicationf builds an application error from a format string.
func Applicationf(op, format string, args ...any) *Error {
	return New(KindApplication, op, "", fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf returns the reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func HasReason(err error, reason string) bool {
	return ReasonOf(err) == reason
}
