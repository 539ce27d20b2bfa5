package backend

import "fmt"

// Kind classifies hub errors so callers can branch on meaning instead of
// HTTP status codes.
type Kind string

const (
	// KindNoSession means the hub has no session for the email.
	KindNoSession Kind = "no_session"
	// KindSessionExpired means the session exists but its paid window is over.
	KindSessionExpired Kind = "session_expired"
	// KindStyleUsed means the requested style permit was already spent.
	KindStyleUsed Kind = "style_used"
	// KindFieldBound means a session field was already bound to another value.
	KindFieldBound Kind = "field_bound"
	// KindValidation covers rejected input (bad email, unknown style, oversize).
	KindValidation Kind = "validation"
	// KindPaymentCreate means the hub could not open a payment.
	KindPaymentCreate Kind = "payment_create"
	// KindRateLimited means the hub throttled the request.
	KindRateLimited Kind = "rate_limited"
	// KindTransport covers network failures before any hub answer arrived.
	KindTransport Kind = "transport"
	// KindServer covers unexpected hub-side failures.
	KindServer Kind = "server"
)

// Error is a classified hub error.
type Error struct {
	Kind    Kind
	Status  int // HTTP status, 0 for transport errors
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("hub: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("hub: %s (%d): %s", e.Kind, e.Status, e.Message)
}

// Is reports kind equality, so errors.Is works against a bare-kind Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel values for errors.Is checks.
var (
	ErrNoSession      = &Error{Kind: KindNoSession}
	ErrSessionExpired = &Error{Kind: KindSessionExpired}
	ErrStyleUsed      = &Error{Kind: KindStyleUsed}
	ErrFieldBound     = &Error{Kind: KindFieldBound}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrPaymentCreate  = &Error{Kind: KindPaymentCreate}
	ErrRateLimited    = &Error{Kind: KindRateLimited}
	ErrTransport      = &Error{Kind: KindTransport}
	ErrServer         = &Error{Kind: KindServer}
)
