package lnurlpay

import (
	"encoding/json"
	"fmt"

	"github.com/lightningnetwork/lnd/lnwire"
)

// PayResponse is the pay-service descriptor served by the LN SERVICE on the
// first leg of LNURL-pay.
type PayResponse struct {
	// Callback is the URL from LN SERVICE which will accept the pay request
	// parameters
	Callback string `json:"callback"`

	// MaxSendable is the max amount LN SERVICE is willing to receive
	MaxSendable int64 `json:"maxSendable"`

	// MinSendable is the min amount LN SERVICE is willing to receive, can
	// not be less than 1 or more than `maxSendable`
	MinSendable int64 `json:"minSendable"`

	// Metadata json which must be presented as raw string here, this is
	// required to pass signature verification at a later step.
	Metadata string `json:"metadata"`

	// CommentAllowed is the max comment length the service accepts, if
	// any.
	CommentAllowed int `json:"commentAllowed,omitempty"`

	// Tag of LNURL
	Tag Type `json:"tag"`
}

// Descriptor validates the response and turns it into a
// PayServiceDescriptor for the given domain.
func (p *PayResponse) Descriptor(domain string) (*PayServiceDescriptor, error) {
	if p.Tag != TypePayRequest {
		return nil, fmt.Errorf("unexpected LNURL tag '%s'", p.Tag)
	}

	desc := &PayServiceDescriptor{
		MinSendable: lnwire.MilliSatoshi(p.MinSendable),
		MaxSendable: lnwire.MilliSatoshi(p.MaxSendable),
		Callback:    p.Callback,
		Domain:      domain,
		Metadata:    p.Metadata,
	}
	if p.MinSendable <= 0 || p.MaxSendable <= 0 {
		return nil, fmt.Errorf("sendable range must be positive, "+
			"got [%d, %d]", p.MinSendable, p.MaxSendable)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	return desc, nil
}

// PayServiceDescriptor is everything the second leg of LNURL-pay needs to
// know about the service.
type PayServiceDescriptor struct {
	MinSendable lnwire.MilliSatoshi
	MaxSendable lnwire.MilliSatoshi

	// Callback is the URL the invoice request is sent to.
	Callback string

	// Domain is the service's hostname. Display only.
	Domain string

	// Metadata is the raw metadata string exactly as advertised.
	Metadata string
}

// Validate checks the descriptor's own invariants.
func (d *PayServiceDescriptor) Validate() error {
	if d.MinSendable == 0 || d.MinSendable > d.MaxSendable {
		return fmt.Errorf("invalid sendable range [%v, %v]",
			d.MinSendable, d.MaxSendable)
	}
	if d.Callback == "" {
		return fmt.Errorf("missing callback")
	}

	return nil
}

// InRange reports whether amt may be requested from the service.
func (d *PayServiceDescriptor) InRange(amt lnwire.MilliSatoshi) bool {
	return amt >= d.MinSendable && amt <= d.MaxSendable
}

// InvoiceResponse is the callback's answer to an invoice request.
type InvoiceResponse struct {
	// PayRequest is a bech32-serialized lightning invoice.
	PayRequest string `json:"pr"`

	// Routes an empty array.
	Routes []json.RawMessage `json:"routes"`

	// SuccessAction is parsed only once the payment has succeeded.
	SuccessAction json.RawMessage `json:"successAction,omitempty"`

	// Disposable hints whether the wallet may keep the invoice around.
	Disposable *bool `json:"disposable,omitempty"`

	// Status and Reason are set when the service answers with an error.
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Type is an LNURL tag.
type Type string

const (
	TypePayRequest Type = "payRequest"
)

// StatusError is the status value of an LNURL error response.
const StatusError = "ERROR"

// ErrorResponse is the LNURL error response.
type ErrorResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}
