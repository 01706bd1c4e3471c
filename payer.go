package lnurlpay

import (
	"context"

	"github.com/btcsuite/btcutil"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lntypes"
)

// LndPayer pays invoices through an lnd node.
type LndPayer struct {
	client lndclient.LightningClient
	maxFee btcutil.Amount
}

// NewLndPayer creates a payer that pays at most maxFee in routing fees.
func NewLndPayer(client lndclient.LightningClient,
	maxFee btcutil.Amount) *LndPayer {

	return &LndPayer{
		client: client,
		maxFee: maxFee,
	}
}

// Pay sends the payment and waits for its result.
func (p *LndPayer) Pay(ctx context.Context, invoice string) (
	lntypes.Preimage, error) {

	res := <-p.client.PayInvoice(ctx, invoice, p.maxFee, nil)
	if res.Err != nil {
		return lntypes.Preimage{}, res.Err
	}

	log.Debugf("Payment settled, paid %v with %v fee", res.PaidAmt,
		res.PaidFee)

	return res.Preimage, nil
}
