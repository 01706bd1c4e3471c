package lnurlpay

import (
	"crypto/subtle"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

// ValidatedInvoice is an invoice that passed Validate.
type ValidatedInvoice struct {
	// PayRequest is the encoded invoice.
	PayRequest string

	PaymentHash lntypes.Hash

	// Amount is the invoice amount, or the requested amount for invoices
	// that don't carry one.
	Amount lnwire.MilliSatoshi
}

// InvoiceValidator pins an invoice to the metadata and amount the user was
// shown.
type InvoiceValidator struct {
	net *chaincfg.Params
}

// NewInvoiceValidator creates a validator for invoices on the given network.
func NewInvoiceValidator(net *chaincfg.Params) *InvoiceValidator {
	return &InvoiceValidator{net: net}
}

// Validate decodes the invoice and checks that its description hash commits
// to rawMetadata and that any amount it carries equals amt.
func (v *InvoiceValidator) Validate(invoice, rawMetadata string,
	amt lnwire.MilliSatoshi) (*ValidatedInvoice, error) {

	inv, err := zpay32.Decode(invoice, v.net)
	if err != nil {
		return nil, newError(MalformedInvoice, "", err)
	}

	if inv.DescriptionHash == nil {
		return nil, newError(
			InvalidMetadataHash, "invoice has no description hash",
			nil,
		)
	}

	expected := MetadataHash(rawMetadata)
	if subtle.ConstantTimeCompare(expected[:], inv.DescriptionHash[:]) != 1 {
		return nil, newError(InvalidMetadataHash, fmt.Sprintf(
			"expected %v, got %x", expected, *inv.DescriptionHash,
		), nil)
	}

	validated := &ValidatedInvoice{
		PayRequest: invoice,
		Amount:     amt,
	}
	if inv.PaymentHash != nil {
		validated.PaymentHash = *inv.PaymentHash
	}

	if inv.MilliSat != nil {
		if *inv.MilliSat != amt {
			return nil, newError(AmountMismatch, fmt.Sprintf(
				"requested %v, invoice is for %v", amt,
				*inv.MilliSat,
			), nil)
		}
		validated.Amount = *inv.MilliSat
	}

	return validated, nil
}
