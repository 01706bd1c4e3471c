package lnurlpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// NotificationTitle is the title of notifications raised for success
// actions.
const NotificationTitle = "LNURL response:"

var errFlowStarted = errors.New("flow already started")

// Config holds the collaborators of a Controller.
type Config struct {
	// Fetcher requests invoices from the service's callback.
	Fetcher Fetcher

	// Payer pays validated invoices.
	Payer Payer

	// Notifier, if set, is told about success action messages.
	Notifier Notifier

	// ChainParams is the network invoices must be for. Defaults to
	// mainnet.
	ChainParams *chaincfg.Params
}

// Controller drives the second leg of LNURL-pay.
type Controller struct {
	cfg       *Config
	validator *InvoiceValidator
}

// NewController creates a controller from cfg.
func NewController(cfg *Config) (*Controller, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("a fetcher is required")
	}
	if cfg.Payer == nil {
		return nil, fmt.Errorf("a payer is required")
	}

	net := cfg.ChainParams
	if net == nil {
		net = &chaincfg.MainNetParams
	}

	return &Controller{
		cfg:       cfg,
		validator: NewInvoiceValidator(net),
	}, nil
}

// RequestOption adds optional parameters to the invoice request. They are
// passed to the service as is.
type RequestOption func(url.Values)

// WithComment sets the comment parameter.
func WithComment(comment string) RequestOption {
	return func(v url.Values) {
		v.Set("comment", comment)
	}
}

// WithNonce sets the nonce parameter.
func WithNonce(nonce string) RequestOption {
	return func(v url.Values) {
		v.Set("nonce", nonce)
	}
}

// WithFromNodes sets the fromnodes parameter.
func WithFromNodes(nodes ...string) RequestOption {
	return func(v url.Values) {
		v.Set("fromnodes", strings.Join(nodes, ","))
	}
}

// WithProofOfPayer sets the proofofpayer parameter.
func WithProofOfPayer(pubKey string) RequestOption {
	return func(v url.Values) {
		v.Set("proofofpayer", pubKey)
	}
}

// Outcome is the result of a flow whose payment settled.
type Outcome struct {
	PayRequest  string
	PaymentHash lntypes.Hash
	Amount      lnwire.MilliSatoshi

	// Action is the interpreted success action, nil if the service sent
	// none. It may hold a partial result alongside ActionErr.
	Action *ActionResult

	// ActionErr is set when the success action could not be performed.
	// It never means the payment failed.
	ActionErr error
}

// Execute runs a new flow to completion. See Flow.Run.
func (c *Controller) Execute(ctx context.Context, desc *PayServiceDescriptor,
	amt lnwire.MilliSatoshi, opts ...RequestOption) (*Outcome, error) {

	return c.NewFlow(desc, amt, opts...).Run(ctx)
}

// NewFlow prepares a single payment attempt. Nothing happens until Run is
// called.
func (c *Controller) NewFlow(desc *PayServiceDescriptor,
	amt lnwire.MilliSatoshi, opts ...RequestOption) *Flow {

	params := make(url.Values)
	for _, opt := range opts {
		opt(params)
	}

	return &Flow{
		ctrl:   c,
		id:     uuid.New().String()[:8],
		desc:   desc,
		amt:    amt,
		params: params,
	}
}

const (
	statePending int32 = iota
	stateCommitted
	stateCancelled
)

// Flow is a single LNURL-pay attempt. It starts out pending and becomes
// committed right before the payer is invoked. Only a pending flow can be
// cancelled.
type Flow struct {
	ctrl   *Controller
	id     string
	desc   *PayServiceDescriptor
	amt    lnwire.MilliSatoshi
	params url.Values

	state   atomic.Int32
	started atomic.Bool
}

// ID is a short identifier used in log lines.
func (f *Flow) ID() string {
	return f.id
}

// Cancel aborts the flow if funds have not been committed yet. It returns
// false if the flow is already committed.
func (f *Flow) Cancel() bool {
	if f.state.CompareAndSwap(statePending, stateCancelled) {
		log.Infof("[%s] Flow cancelled", f.id)
		return true
	}

	return f.state.Load() == stateCancelled
}

// Committed returns true once the invoice has been handed to the payer.
func (f *Flow) Committed() bool {
	return f.state.Load() == stateCommitted
}

// checkpoint returns a Cancelled error if the flow was cancelled, either
// directly or through ctx.
func (f *Flow) checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		f.Cancel()
	}

	if f.state.Load() == stateCancelled {
		return newError(Cancelled, "", ctx.Err())
	}

	return nil
}

// Run requests an invoice for the flow's amount, validates it, pays it and
// interprets the service's success action. A non-nil error means no payment
// was made, except for PaymentFailed where the payer gave up. Once the
// invoice is handed to the payer, cancelling ctx has no effect and Run waits
// for the payer's result.
func (f *Flow) Run(ctx context.Context) (*Outcome, error) {
	if !f.started.CompareAndSwap(false, true) {
		return nil, errFlowStarted
	}

	desc, amt := f.desc, f.amt
	if !desc.InRange(amt) {
		return nil, newError(AmountOutOfRange, fmt.Sprintf(
			"%v not in [%v, %v]", amt, desc.MinSendable,
			desc.MaxSendable,
		), nil)
	}

	if err := f.checkpoint(ctx); err != nil {
		return nil, err
	}

	resp, err := f.requestInvoice(ctx)
	if err != nil {
		return nil, err
	}

	inv, err := f.ctrl.validator.Validate(
		resp.PayRequest, desc.Metadata, amt,
	)
	if err != nil {
		log.Warnf("[%s] Rejecting invoice from %s: %v", f.id,
			desc.Domain, err)

		return nil, err
	}

	if err := f.checkpoint(ctx); err != nil {
		return nil, err
	}
	if !f.state.CompareAndSwap(statePending, stateCommitted) {
		return nil, newError(Cancelled, "", nil)
	}

	log.Infof("[%s] Paying invoice %v for %v", f.id, inv.PaymentHash,
		inv.Amount)

	preimage, err := f.ctrl.cfg.Payer.Pay(
		context.WithoutCancel(ctx), inv.PayRequest,
	)
	if err != nil {
		log.Errorf("[%s] Payment %v failed: %v", f.id, inv.PaymentHash,
			err)

		return nil, newError(PaymentFailed, err.Error(), err)
	}

	// A preimage that doesn't hash to the payment hash proves nothing, so
	// the payment is treated as unconfirmed.
	if !preimage.Matches(inv.PaymentHash) {
		return nil, newError(
			PaymentFailed, "preimage does not match payment hash",
			nil,
		)
	}

	log.Infof("[%s] Payment %v settled", f.id, inv.PaymentHash)

	outcome := &Outcome{
		PayRequest:  inv.PayRequest,
		PaymentHash: inv.PaymentHash,
		Amount:      inv.Amount,
	}

	action, err := ParseSuccessAction(resp.SuccessAction)
	if err == nil {
		outcome.Action, err = InterpretSuccessAction(
			action, preimage, desc.Callback,
		)
	}
	outcome.ActionErr = err

	if err != nil {
		log.Warnf("[%s] Unable to perform success action: %v", f.id,
			err)
	}

	f.notify(outcome)

	return outcome, nil
}

// requestInvoice asks the service for an invoice and parses its response.
func (f *Flow) requestInvoice(ctx context.Context) (*InvoiceResponse, error) {
	params := make(url.Values, len(f.params)+1)
	for k, v := range f.params {
		params[k] = v
	}
	params.Set("amount", strconv.FormatUint(uint64(f.amt), 10))

	log.Infof("[%s] Requesting invoice for %v from %s", f.id, f.amt,
		f.desc.Domain)

	body, err := f.ctrl.cfg.Fetcher.Get(ctx, f.desc.Callback, params)
	if err != nil {
		if cerr := f.checkpoint(ctx); cerr != nil {
			return nil, cerr
		}

		return nil, newError(CallbackUnreachable, "", err)
	}

	var resp InvoiceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newError(InvalidServiceResponse, "", err)
	}

	if strings.EqualFold(resp.Status, StatusError) {
		return nil, newError(ServiceRejected, resp.Reason, nil)
	}

	if resp.PayRequest == "" {
		return nil, newError(
			InvalidServiceResponse, "missing payment request", nil,
		)
	}

	return &resp, nil
}

// notify tells the notifier about anything the user should see after the
// payment. URLs are left to the caller since they need confirmation.
func (f *Flow) notify(outcome *Outcome) {
	n := f.ctrl.cfg.Notifier
	if n == nil {
		return
	}

	if outcome.ActionErr != nil {
		n.Notify(NotificationTitle, UserMessage(outcome.ActionErr))
		return
	}

	if outcome.Action == nil {
		return
	}

	switch outcome.Action.Kind {
	case ActionMessage:
		n.Notify(NotificationTitle, outcome.Action.Message)

	case ActionDecrypted:
		msg := outcome.Action.Message
		if outcome.Action.Description != "" {
			msg = outcome.Action.Description + "\n" + msg
		}
		n.Notify(NotificationTitle, msg)
	}
}
