package lnurlpay

import (
	"context"
	"net/url"

	"github.com/lightningnetwork/lnd/lntypes"
)

// Fetcher performs the GET request to the service's callback.
type Fetcher interface {
	// Get requests rawURL with params added to its query and returns the
	// response body. Timeouts are the fetcher's responsibility and must
	// be reported as errors.
	Get(ctx context.Context, rawURL string, params url.Values) ([]byte,
		error)
}

// Payer pays lightning invoices.
type Payer interface {
	// Pay blocks until the payment reaches a terminal state. A nil error
	// means the payment settled and the returned preimage proves it.
	Pay(ctx context.Context, invoice string) (lntypes.Preimage, error)
}

// Notifier displays a message to the user.
type Notifier interface {
	Notify(title, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(title, message string)

// Notify calls f(title, message).
func (f NotifierFunc) Notify(title, message string) {
	f(title, message)
}
