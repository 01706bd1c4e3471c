package lnurlpay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
)

const scenarioAmt = lnwire.MilliSatoshi(1_000_000)

func scenarioDescriptor() *PayServiceDescriptor {
	return &PayServiceDescriptor{
		MinSendable: scenarioAmt,
		MaxSendable: scenarioAmt,
		Callback:    testCallback,
		Domain:      "bob.example.com",
		Metadata:    payBobMetadata,
	}
}

// invoiceBody builds a callback response for an invoice paying to
// preimage's hash.
func invoiceBody(t *testing.T, preimage lntypes.Preimage,
	amt lnwire.MilliSatoshi, metadata string,
	successAction interface{}) []byte {

	resp := map[string]interface{}{
		"pr": makeInvoice(
			t, testNet, preimage, amt, hashOf(metadata),
		),
		"routes": []interface{}{},
	}
	if successAction != nil {
		resp["successAction"] = successAction
	}

	body, err := json.Marshal(resp)
	require.NoError(t, err)

	return body
}

type flowHarness struct {
	fetcher  *fakeFetcher
	payer    *fakePayer
	notifier *fakeNotifier
	ctrl     *Controller
}

func newFlowHarness(t *testing.T, body []byte,
	preimage lntypes.Preimage) *flowHarness {

	h := &flowHarness{
		fetcher:  &fakeFetcher{body: body},
		payer:    &fakePayer{preimage: preimage},
		notifier: &fakeNotifier{},
	}

	ctrl, err := NewController(&Config{
		Fetcher:     h.fetcher,
		Payer:       h.payer,
		Notifier:    h.notifier,
		ChainParams: testNet,
	})
	require.NoError(t, err)
	h.ctrl = ctrl

	return h
}

func TestScenarioMessage(t *testing.T) {
	preimage := testPreimage(0x50)
	body := invoiceBody(t, preimage, scenarioAmt, payBobMetadata,
		map[string]string{"tag": "message", "message": "Thanks!"})
	h := newFlowHarness(t, body, preimage)

	outcome, err := h.ctrl.Execute(
		context.Background(), scenarioDescriptor(), scenarioAmt,
	)
	require.NoError(t, err)

	require.Equal(t, 1, h.fetcher.numCalls())
	require.Equal(t, testCallback, h.fetcher.calls[0].url)
	require.Equal(t, "1000000", h.fetcher.calls[0].params.Get("amount"))

	require.Equal(t, 1, h.payer.numCalls())
	require.Equal(t, outcome.PayRequest, h.payer.invoices[0])
	require.Equal(t, preimage.Hash(), outcome.PaymentHash)
	require.Equal(t, scenarioAmt, outcome.Amount)

	require.NoError(t, outcome.ActionErr)
	require.Equal(t, &ActionResult{
		Kind: ActionMessage, Message: "Thanks!",
	}, outcome.Action)

	require.Equal(t, []notification{
		{NotificationTitle, "Thanks!"},
	}, h.notifier.all())
}

func TestScenarioTamperedMetadata(t *testing.T) {
	preimage := testPreimage(0x50)
	body := invoiceBody(
		t, preimage, scenarioAmt, `[["text/plain","Pay Eve"]]`, nil,
	)
	h := newFlowHarness(t, body, preimage)

	outcome, err := h.ctrl.Execute(
		context.Background(), scenarioDescriptor(), scenarioAmt,
	)
	require.Nil(t, outcome)
	require.True(t, errors.Is(err, InvalidMetadataHash))
	require.Contains(t, UserMessage(err),
		"invoice does not match request")

	require.Equal(t, 1, h.fetcher.numCalls())
	require.Zero(t, h.payer.numCalls())
}

func TestScenarioAES(t *testing.T) {
	preimage := testPreimage(0x50)
	action, err := EncryptSuccessAction(
		"Your order", "order #42 confirmed", preimage, testIV,
	)
	require.NoError(t, err)

	body := invoiceBody(t, preimage, scenarioAmt, payBobMetadata, action)
	h := newFlowHarness(t, body, preimage)

	outcome, err := h.ctrl.Execute(
		context.Background(), scenarioDescriptor(), scenarioAmt,
	)
	require.NoError(t, err)
	require.NoError(t, outcome.ActionErr)
	require.Equal(t, ActionDecrypted, outcome.Action.Kind)
	require.Equal(t, "order #42 confirmed", outcome.Action.Message)
	require.Equal(t, "Your order", outcome.Action.Description)

	require.Equal(t, []notification{
		{NotificationTitle, "Your order\norder #42 confirmed"},
	}, h.notifier.all())
}

func TestAmountOutOfRange(t *testing.T) {
	desc := &PayServiceDescriptor{
		MinSendable: 1000,
		MaxSendable: 5000,
		Callback:    testCallback,
		Metadata:    payBobMetadata,
	}

	for _, amt := range []lnwire.MilliSatoshi{0, 999, 5001} {
		h := newFlowHarness(t, nil, testPreimage(1))

		_, err := h.ctrl.Execute(context.Background(), desc, amt)
		require.Equal(t, AmountOutOfRange, KindOf(err))
		require.True(t, AmountOutOfRange.IsValidation())

		require.Zero(t, h.fetcher.numCalls())
		require.Zero(t, h.payer.numCalls())
	}
}

func TestRequestOptions(t *testing.T) {
	preimage := testPreimage(2)
	desc := &PayServiceDescriptor{
		MinSendable: 1000,
		MaxSendable: 5000,
		Callback:    testCallback,
		Metadata:    payBobMetadata,
	}
	body := invoiceBody(t, preimage, 0, payBobMetadata, nil)
	h := newFlowHarness(t, body, preimage)

	outcome, err := h.ctrl.Execute(
		context.Background(), desc, 2000,
		WithComment("for the coffee"), WithNonce("123"),
		WithFromNodes("02aa", "03bb"), WithProofOfPayer("02cc"),
	)
	require.NoError(t, err)

	// Invoices without an amount are paid for the requested amount.
	require.Equal(t, lnwire.MilliSatoshi(2000), outcome.Amount)
	require.Nil(t, outcome.Action)
	require.NoError(t, outcome.ActionErr)
	require.Empty(t, h.notifier.all())

	params := h.fetcher.calls[0].params
	require.Equal(t, "2000", params.Get("amount"))
	require.Equal(t, "for the coffee", params.Get("comment"))
	require.Equal(t, "123", params.Get("nonce"))
	require.Equal(t, "02aa,03bb", params.Get("fromnodes"))
	require.Equal(t, "02cc", params.Get("proofofpayer"))
}

func TestFlowFailuresBeforePayment(t *testing.T) {
	preimage := testPreimage(3)

	tests := []struct {
		name    string
		fetcher *fakeFetcher
		kind    ErrorKind
		detail  string
	}{
		{
			name: "unreachable",
			fetcher: &fakeFetcher{
				err: errors.New("connection refused"),
			},
			kind: CallbackUnreachable,
		},
		{
			name:    "not json",
			fetcher: &fakeFetcher{body: []byte("<html>")},
			kind:    InvalidServiceResponse,
		},
		{
			name:    "missing pr",
			fetcher: &fakeFetcher{body: []byte(`{"routes":[]}`)},
			kind:    InvalidServiceResponse,
		},
		{
			name: "service error",
			fetcher: &fakeFetcher{body: []byte(
				`{"status":"ERROR","reason":"sold out"}`,
			)},
			kind:   ServiceRejected,
			detail: "sold out",
		},
		{
			name: "amount mismatch",
			fetcher: &fakeFetcher{body: invoiceBody(
				t, preimage, scenarioAmt/2, payBobMetadata,
				nil,
			)},
			kind: AmountMismatch,
		},
		{
			name: "malformed invoice",
			fetcher: &fakeFetcher{body: []byte(
				`{"pr":"lnbcrt1garbage"}`,
			)},
			kind: MalformedInvoice,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			payer := &fakePayer{preimage: preimage}
			ctrl, err := NewController(&Config{
				Fetcher:     test.fetcher,
				Payer:       payer,
				ChainParams: testNet,
			})
			require.NoError(t, err)

			outcome, err := ctrl.Execute(
				context.Background(), scenarioDescriptor(),
				scenarioAmt,
			)
			require.Nil(t, outcome)

			var flowErr *Error
			require.True(t, errors.As(err, &flowErr))
			require.Equal(t, test.kind, flowErr.Kind)
			if test.detail != "" {
				require.Equal(t, test.detail, flowErr.Detail)
			}

			require.Equal(t, 1, test.fetcher.numCalls())
			require.Zero(t, payer.numCalls())
		})
	}
}

func TestPaymentFailedSkipsSuccessAction(t *testing.T) {
	preimage := testPreimage(4)
	body := invoiceBody(t, preimage, scenarioAmt, payBobMetadata,
		map[string]string{"tag": "message", "message": "Thanks!"})
	h := newFlowHarness(t, body, preimage)
	h.payer.err = errors.New("no route")

	outcome, err := h.ctrl.Execute(
		context.Background(), scenarioDescriptor(), scenarioAmt,
	)
	require.Nil(t, outcome)

	var flowErr *Error
	require.True(t, errors.As(err, &flowErr))
	require.Equal(t, PaymentFailed, flowErr.Kind)
	require.Equal(t, "no route", flowErr.Detail)
	require.False(t, flowErr.Kind.IsValidation())

	require.Equal(t, 1, h.payer.numCalls())
	require.Empty(t, h.notifier.all())
}

func TestPreimageMismatch(t *testing.T) {
	preimage := testPreimage(5)
	body := invoiceBody(t, preimage, scenarioAmt, payBobMetadata,
		map[string]string{"tag": "message", "message": "Thanks!"})

	// The payer claims success with a preimage for some other invoice.
	h := newFlowHarness(t, body, testPreimage(6))

	_, err := h.ctrl.Execute(
		context.Background(), scenarioDescriptor(), scenarioAmt,
	)
	require.Equal(t, PaymentFailed, KindOf(err))
	require.Empty(t, h.notifier.all())
}

func TestSuccessActionErrorsDoNotFailPayment(t *testing.T) {
	preimage := testPreimage(7)

	tests := []struct {
		name   string
		action interface{}
		kind   ErrorKind
	}{
		{
			name:   "unsupported",
			action: map[string]string{"tag": "teleport"},
			kind:   UnsupportedSuccessAction,
		},
		{
			name:   "malformed",
			action: []string{"message"},
			kind:   MalformedSuccessAction,
		},
		{
			name: "oversized message",
			action: map[string]string{
				"tag": "message",
				"message": strings.Repeat(
					"x", MaxSuccessActionText+1,
				),
			},
			kind: MalformedSuccessAction,
		},
		{
			name: "undecryptable",
			action: &AESAction{
				Description: "Your order",
				Ciphertext:  "AAAAAAAAAAAAAAAAAAAAAA==",
				IV:          "AAAAAAAAAAAAAAAAAAAAAA==",
			},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			body := invoiceBody(
				t, preimage, scenarioAmt, payBobMetadata,
				test.action,
			)
			h := newFlowHarness(t, body, preimage)

			outcome, err := h.ctrl.Execute(
				context.Background(), scenarioDescriptor(),
				scenarioAmt,
			)
			require.NoError(t, err)
			require.Equal(t, preimage.Hash(), outcome.PaymentHash)

			require.Error(t, outcome.ActionErr)
			kind := KindOf(outcome.ActionErr)
			require.True(t, kind.IsSuccessAction())
			if test.kind != 0 {
				require.Equal(t, test.kind, kind)
			}

			notes := h.notifier.all()
			require.Len(t, notes, 1)
			require.Equal(t, UserMessage(outcome.ActionErr),
				notes[0].message)
		})
	}
}

func TestURLActionNotNotified(t *testing.T) {
	preimage := testPreimage(8)
	body := invoiceBody(t, preimage, scenarioAmt, payBobMetadata,
		map[string]string{
			"tag":         "url",
			"description": "Your order",
			"url":         "https://bob.example.com/orders/42",
		})
	h := newFlowHarness(t, body, preimage)

	outcome, err := h.ctrl.Execute(
		context.Background(), scenarioDescriptor(), scenarioAmt,
	)
	require.NoError(t, err)
	require.True(t, outcome.Action.RequiresConfirmation())
	require.Equal(t, "https://bob.example.com/orders/42",
		outcome.Action.URL)

	// Opening the url is up to the caller once the user agrees.
	require.Empty(t, h.notifier.all())
}

func TestCancelBeforeRun(t *testing.T) {
	h := newFlowHarness(t, nil, testPreimage(1))

	flow := h.ctrl.NewFlow(scenarioDescriptor(), scenarioAmt)
	require.True(t, flow.Cancel())
	require.True(t, flow.Cancel())

	_, err := flow.Run(context.Background())
	require.Equal(t, Cancelled, KindOf(err))
	require.Zero(t, h.fetcher.numCalls())
}

func TestContextCancelledBeforeRun(t *testing.T) {
	h := newFlowHarness(t, nil, testPreimage(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.ctrl.Execute(ctx, scenarioDescriptor(), scenarioAmt)
	require.Equal(t, Cancelled, KindOf(err))
	require.Zero(t, h.fetcher.numCalls())
}

func TestCancelDuringFetch(t *testing.T) {
	preimage := testPreimage(9)
	body := invoiceBody(t, preimage, scenarioAmt, payBobMetadata, nil)
	h := newFlowHarness(t, nil, preimage)

	flow := h.ctrl.NewFlow(scenarioDescriptor(), scenarioAmt)
	h.fetcher.getFn = func(context.Context) ([]byte, error) {
		require.True(t, flow.Cancel())
		return body, nil
	}

	_, err := flow.Run(context.Background())
	require.Equal(t, Cancelled, KindOf(err))
	require.Zero(t, h.payer.numCalls())
	require.False(t, flow.Committed())
}

func TestContextCancelledDuringFetch(t *testing.T) {
	h := newFlowHarness(t, nil, testPreimage(1))

	ctx, cancel := context.WithCancel(context.Background())
	h.fetcher.getFn = func(ctx context.Context) ([]byte, error) {
		cancel()
		return nil, ctx.Err()
	}

	_, err := h.ctrl.Execute(ctx, scenarioDescriptor(), scenarioAmt)
	require.Equal(t, Cancelled, KindOf(err))
	require.Zero(t, h.payer.numCalls())
}

func TestNoCancelAfterCommit(t *testing.T) {
	preimage := testPreimage(10)
	body := invoiceBody(t, preimage, scenarioAmt, payBobMetadata,
		map[string]string{"tag": "message", "message": "Thanks!"})
	h := newFlowHarness(t, body, preimage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flow := h.ctrl.NewFlow(scenarioDescriptor(), scenarioAmt)
	h.payer.payFn = func(payCtx context.Context) (lntypes.Preimage,
		error) {

		require.True(t, flow.Committed())
		require.False(t, flow.Cancel())

		// Cancelling the caller's context must not reach the payer.
		cancel()
		require.NoError(t, payCtx.Err())

		return preimage, nil
	}

	outcome, err := flow.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, "Thanks!", outcome.Action.Message)
	require.True(t, flow.Committed())
}

func TestFlowRunsOnce(t *testing.T) {
	preimage := testPreimage(11)
	body := invoiceBody(t, preimage, scenarioAmt, payBobMetadata, nil)
	h := newFlowHarness(t, body, preimage)

	flow := h.ctrl.NewFlow(scenarioDescriptor(), scenarioAmt)
	require.NotEmpty(t, flow.ID())

	_, err := flow.Run(context.Background())
	require.NoError(t, err)

	_, err = flow.Run(context.Background())
	require.ErrorIs(t, err, errFlowStarted)
	require.Equal(t, 1, h.payer.numCalls())
}

func TestNewControllerRequiresCollaborators(t *testing.T) {
	_, err := NewController(&Config{Payer: &fakePayer{}})
	require.Error(t, err)

	_, err = NewController(&Config{Fetcher: &fakeFetcher{}})
	require.Error(t, err)

	ctrl, err := NewController(&Config{
		Fetcher: &fakeFetcher{}, Payer: &fakePayer{},
	})
	require.NoError(t, err)
	require.NotNil(t, ctrl.validator)
}

func TestUserMessagesDistinct(t *testing.T) {
	seen := make(map[string]ErrorKind)
	for kind := AmountOutOfRange; kind <= Cancelled; kind++ {
		msg := UserMessage(&Error{Kind: kind, Detail: "x"})
		require.NotEmpty(t, msg)

		other, ok := seen[msg]
		require.False(t, ok, "%v and %v share a message", kind, other)
		seen[msg] = kind
	}

	for _, kind := range []ErrorKind{InvalidMetadataHash, AmountMismatch} {
		require.Contains(t, strings.ToLower(
			UserMessage(&Error{Kind: kind}),
		), "payment aborted: invoice does not match request")
	}

	require.Equal(t, "Error: boom", UserMessage(errors.New("boom")))
}
