package lnurlpay

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/stretchr/testify/require"
)

var (
	testNet = &chaincfg.RegressionNetParams

	testPrivKey, _ = btcec.PrivKeyFromBytes(
		btcec.S256(), bytes.Repeat([]byte{0x11}, 32),
	)

	testSigner = zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			hash := chainhash.HashB(msg)
			return btcec.SignCompact(
				btcec.S256(), testPrivKey, hash, true,
			)
		},
	}
)

func testPreimage(b byte) lntypes.Preimage {
	var p lntypes.Preimage
	copy(p[:], bytes.Repeat([]byte{b}, lntypes.PreimageSize))

	return p
}

// makeInvoice encodes an invoice for the given preimage. A zero amt leaves
// the amount out and a nil descHash uses a plain description instead.
func makeInvoice(t *testing.T, net *chaincfg.Params, preimage lntypes.Preimage,
	amt lnwire.MilliSatoshi, descHash *lntypes.Hash) string {

	t.Helper()

	var opts []func(*zpay32.Invoice)
	if amt != 0 {
		opts = append(opts, zpay32.Amount(amt))
	}
	if descHash != nil {
		opts = append(opts, zpay32.DescriptionHash(*descHash))
	} else {
		opts = append(opts, zpay32.Description("plain description"))
	}

	inv, err := zpay32.NewInvoice(net, preimage.Hash(), time.Now(), opts...)
	require.NoError(t, err)

	pr, err := inv.Encode(testSigner)
	require.NoError(t, err)

	return pr
}

func hashOf(raw string) *lntypes.Hash {
	h := MetadataHash(raw)
	return &h
}

func addInvoiceData(preimage lntypes.Preimage, amt lnwire.MilliSatoshi,
	metadata string) *invoicesrpc.AddInvoiceData {

	descHash := MetadataHash(metadata)

	return &invoicesrpc.AddInvoiceData{
		Preimage:        &preimage,
		Value:           amt,
		DescriptionHash: descHash[:],
	}
}

type fetchCall struct {
	url    string
	params url.Values
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []fetchCall

	body  []byte
	err   error
	getFn func(ctx context.Context) ([]byte, error)
}

func (f *fakeFetcher) Get(ctx context.Context, rawURL string,
	params url.Values) ([]byte, error) {

	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{url: rawURL, params: params})
	getFn := f.getFn
	f.mu.Unlock()

	if getFn != nil {
		return getFn(ctx)
	}

	return f.body, f.err
}

func (f *fakeFetcher) numCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

type fakePayer struct {
	mu       sync.Mutex
	invoices []string

	preimage lntypes.Preimage
	err      error
	payFn    func(ctx context.Context) (lntypes.Preimage, error)
}

func (p *fakePayer) Pay(ctx context.Context, invoice string) (
	lntypes.Preimage, error) {

	p.mu.Lock()
	p.invoices = append(p.invoices, invoice)
	payFn := p.payFn
	p.mu.Unlock()

	if payFn != nil {
		return payFn(ctx)
	}

	return p.preimage, p.err
}

func (p *fakePayer) numCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.invoices)
}

type notification struct {
	title   string
	message string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []notification
}

func (n *fakeNotifier) Notify(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notes = append(n.notes, notification{title, message})
}

func (n *fakeNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]notification{}, n.notes...)
}

// mockLnd creates real invoices on AddInvoice and settles them on
// PayInvoice using the preimages it handed out. Every other method panics.
type mockLnd struct {
	lndclient.LightningClient

	t *testing.T

	mu        sync.Mutex
	added     []*invoicesrpc.AddInvoiceData
	preimages map[lntypes.Hash]lntypes.Preimage
	payErr    error
}

func newMockLnd(t *testing.T) *mockLnd {
	return &mockLnd{
		t:         t,
		preimages: make(map[lntypes.Hash]lntypes.Preimage),
	}
}

func (m *mockLnd) AddInvoice(_ context.Context,
	in *invoicesrpc.AddInvoiceData) (lntypes.Hash, string, error) {

	require.NotNil(m.t, in.Preimage)

	var descHash *lntypes.Hash
	if len(in.DescriptionHash) > 0 {
		var h lntypes.Hash
		copy(h[:], in.DescriptionHash)
		descHash = &h
	}

	pr := makeInvoice(m.t, testNet, *in.Preimage, in.Value, descHash)
	hash := in.Preimage.Hash()

	m.mu.Lock()
	m.added = append(m.added, in)
	m.preimages[hash] = *in.Preimage
	m.mu.Unlock()

	return hash, pr, nil
}

func (m *mockLnd) PayInvoice(_ context.Context, invoice string,
	_ btcutil.Amount, _ *uint64) chan lndclient.PaymentResult {

	res := make(chan lndclient.PaymentResult, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.payErr != nil {
		res <- lndclient.PaymentResult{Err: m.payErr}
		return res
	}

	inv, err := zpay32.Decode(invoice, testNet)
	if err != nil {
		res <- lndclient.PaymentResult{Err: err}
		return res
	}

	preimage, ok := m.preimages[*inv.PaymentHash]
	if !ok {
		res <- lndclient.PaymentResult{
			Err: errors.New("unknown invoice"),
		}
		return res
	}

	res <- lndclient.PaymentResult{Preimage: preimage}

	return res
}
