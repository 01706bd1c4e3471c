package lnurlpay

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure of the pay flow.
type ErrorKind uint8

const (
	// AmountOutOfRange is returned when the requested amount is outside
	// of the service's advertised sendable range.
	AmountOutOfRange ErrorKind = iota + 1

	// CallbackUnreachable is returned when the invoice request could not
	// be delivered to the service's callback.
	CallbackUnreachable

	// InvalidServiceResponse is returned when the callback response is
	// not a well formed invoice response.
	InvalidServiceResponse

	// ServiceRejected is returned when the service answered the invoice
	// request with an LNURL error.
	ServiceRejected

	// InvalidMetadataHash is returned when the invoice's description hash
	// does not commit to the advertised metadata.
	InvalidMetadataHash

	// AmountMismatch is returned when the invoice amount differs from the
	// requested amount.
	AmountMismatch

	// MalformedInvoice is returned when the invoice can't be decoded.
	MalformedInvoice

	// PaymentFailed is returned when the payer could not settle the
	// invoice.
	PaymentFailed

	// MalformedSuccessAction is returned when the success action violates
	// its format constraints.
	MalformedSuccessAction

	// DecryptionFailed is returned when an aes success action could not
	// be decrypted with the payment preimage.
	DecryptionFailed

	// UnsupportedSuccessAction is returned for success action tags this
	// package does not know how to perform.
	UnsupportedSuccessAction

	// Cancelled is returned when the flow was cancelled before funds were
	// committed.
	Cancelled
)

var kindNames = map[ErrorKind]string{
	AmountOutOfRange:         "AmountOutOfRange",
	CallbackUnreachable:      "CallbackUnreachable",
	InvalidServiceResponse:   "InvalidServiceResponse",
	ServiceRejected:          "ServiceRejected",
	InvalidMetadataHash:      "InvalidMetadataHash",
	AmountMismatch:           "AmountMismatch",
	MalformedInvoice:         "MalformedInvoice",
	PaymentFailed:            "PaymentFailed",
	MalformedSuccessAction:   "MalformedSuccessAction",
	DecryptionFailed:         "DecryptionFailed",
	UnsupportedSuccessAction: "UnsupportedSuccessAction",
	Cancelled:                "Cancelled",
}

// String returns the name of the error kind.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Error lets a bare kind be used as an errors.Is target.
func (k ErrorKind) Error() string {
	return k.String()
}

// IsValidation returns true for the kinds that reject an invoice before any
// payment is attempted.
func (k ErrorKind) IsValidation() bool {
	switch k {
	case AmountOutOfRange, InvalidMetadataHash, AmountMismatch,
		MalformedInvoice:

		return true
	}

	return false
}

// IsSuccessAction returns true for the kinds that describe a failure to
// perform a success action. These never affect the payment itself.
func (k ErrorKind) IsSuccessAction() bool {
	switch k {
	case MalformedSuccessAction, DecryptionFailed,
		UnsupportedSuccessAction:

		return true
	}

	return false
}

// Error is the error type returned by the pay flow.
type Error struct {
	Kind ErrorKind

	// Detail carries kind specific context such as the payer's failure
	// reason or the unsupported success action tag.
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches an *Error against an ErrorKind or another *Error of the same
// kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case ErrorKind:
		return e.Kind == t

	case *Error:
		return e.Kind == t.Kind
	}

	return false
}

func newError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the kind of err, or zero if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// UserMessage maps err to the sentence shown to the user.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return fmt.Sprintf("Error: %v", err)
	}

	switch e.Kind {
	case AmountOutOfRange:
		return "Amount is outside of the range accepted by the service."

	case CallbackUnreachable:
		return "Could not reach the service to request an invoice."

	case InvalidServiceResponse:
		return "The service returned an invalid invoice response."

	case ServiceRejected:
		return fmt.Sprintf("The service refused the request: %s",
			e.Detail)

	case InvalidMetadataHash:
		return "Payment aborted: invoice does not match request " +
			"(description hash differs from the advertised " +
			"metadata)."

	case AmountMismatch:
		return "Payment aborted: invoice does not match request " +
			"(invoice amount differs from the requested amount)."

	case MalformedInvoice:
		return "Payment aborted: the service returned an invoice " +
			"that could not be decoded."

	case PaymentFailed:
		return fmt.Sprintf("Payment failed: %s", e.Detail)

	case MalformedSuccessAction:
		return "Payment sent, but the service's success action was " +
			"malformed."

	case DecryptionFailed:
		return "Payment sent, but the service's secret message " +
			"could not be decrypted."

	case UnsupportedSuccessAction:
		return fmt.Sprintf("Payment sent, but the success action "+
			"%q is not supported.", e.Detail)

	case Cancelled:
		return "Payment cancelled."
	}

	return e.Error()
}
