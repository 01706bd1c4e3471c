package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/ellemouton/lnurlpay"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/urfave/cli/v2"
)

var payRequestCommand = &cli.Command{
	Name:        "pay",
	Usage:       "Pay to LNURL",
	Description: `Pay to a static LNURL, lnurlp:// URL or lightning address`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "lnurl",
			Usage: "The LNURL to pay too.",
		},
		&cli.Int64Flag{
			Name:  "amt",
			Usage: "The amt of millisats to pay",
		},
		&cli.Int64Flag{
			Name:  "maxfee",
			Usage: "max fee to pay for this payment (in sats)",
			Value: 1000,
		},
		&cli.StringFlag{
			Name:  "comment",
			Usage: "optional comment for the service",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "timeout of requests to the service",
			Value: lnurlpay.DefaultFetchTimeout,
		},
		&cli.BoolFlag{
			Name:  "notls",
			Usage: "set to true to use http instead of https",
		},
		&cli.BoolFlag{
			Name:  "yes",
			Usage: "don't ask for confirmation before paying",
		},
	},
	Action: payToLNURL,
}

func payToLNURL(ctx *cli.Context) error {
	// LNURL must be specified.
	lnurl := ctx.String("lnurl")
	if lnurl == "" {
		return fmt.Errorf("missing '--lnurl' flag")
	}

	protocol := "https"
	if ctx.Bool("notls") {
		protocol = "http"
	}

	payURL, err := lnurlpay.ResolveURL(lnurl, protocol)
	if err != nil {
		return err
	}

	// Ensure that the url uses the tls if we have not set --notls
	if !ctx.Bool("notls") && !strings.HasPrefix(payURL, "https") {
		return fmt.Errorf("url is not https")
	}

	net, err := chainParams(ctx.String("network"))
	if err != nil {
		return err
	}

	// Ctrl-C cancels the flow as long as no payment has been sent.
	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt)
	defer stop()

	fetcher := lnurlpay.NewHTTPFetcher(ctx.Duration("timeout"))
	desc, err := fetchDescriptor(runCtx, fetcher, payURL)
	if err != nil {
		return err
	}

	printDescriptor(desc)

	reader := bufio.NewReader(os.Stdin)
	millisats, err := readAmount(
		reader, lnwire.MilliSatoshi(ctx.Int64("amt")), desc,
	)
	if err != nil {
		return err
	}

	if !ctx.Bool("yes") {
		ok, err := confirm(reader, fmt.Sprintf("Pay %v to %s?",
			millisats, desc.Domain))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println(lnurlpay.UserMessage(
				&lnurlpay.Error{Kind: lnurlpay.Cancelled},
			))
			return nil
		}
	}

	lndServices, err := getLND(ctx)
	if err != nil {
		return fmt.Errorf("could not connect to LND: %w", err)
	}
	defer lndServices.Close()

	controller, err := lnurlpay.NewController(&lnurlpay.Config{
		Fetcher: fetcher,
		Payer: lnurlpay.NewLndPayer(
			lndServices.Client, btcutil.Amount(ctx.Int64("maxfee")),
		),
		Notifier: lnurlpay.NotifierFunc(func(title, msg string) {
			fmt.Printf("%s\n%s\n", title, msg)
		}),
		ChainParams: net,
	})
	if err != nil {
		return err
	}

	var opts []lnurlpay.RequestOption
	if comment := ctx.String("comment"); comment != "" {
		opts = append(opts, lnurlpay.WithComment(comment))
	}
	opts = append(opts, lnurlpay.WithNonce(
		strconv.FormatInt(time.Now().UnixNano(), 10),
	))

	outcome, err := controller.Execute(runCtx, desc, millisats, opts...)
	if err != nil {
		return errors.New(lnurlpay.UserMessage(err))
	}

	fmt.Printf("Successful payment! Payment hash: %v\n", outcome.PaymentHash)

	if outcome.Action != nil && outcome.Action.RequiresConfirmation() {
		return suggestURL(reader, outcome.Action)
	}

	return nil
}

// fetchDescriptor performs the first leg of LNURL-pay.
func fetchDescriptor(ctx context.Context, fetcher lnurlpay.Fetcher,
	payURL string) (*lnurlpay.PayServiceDescriptor, error) {

	u, err := url.Parse(payURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	body, err := fetcher.Get(ctx, payURL, nil)
	if err != nil {
		return nil, err
	}

	var lnurlErr lnurlpay.ErrorResponse
	if err := json.Unmarshal(body, &lnurlErr); err == nil &&
		strings.EqualFold(lnurlErr.Status, lnurlpay.StatusError) {

		return nil, fmt.Errorf("service error: %s", lnurlErr.Reason)
	}

	var payResp lnurlpay.PayResponse
	if err := json.Unmarshal(body, &payResp); err != nil {
		return nil, fmt.Errorf("invalid pay response: %w", err)
	}

	return payResp.Descriptor(u.Hostname())
}

func printDescriptor(desc *lnurlpay.PayServiceDescriptor) {
	fmt.Printf("Send payment to: %s\n", desc.Domain)

	for _, e := range lnurlpay.ParseEntries(desc.Metadata) {
		switch {
		case e.Kind == lnurlpay.EntryPlainText:
			fmt.Printf("Description: %s\n", e.Content)

		case e.Kind == lnurlpay.EntryLongDesc:
			fmt.Printf("Full Description: %s\n", e.Content)

		case e.IsImage():
			fmt.Printf("Image: %s (%d bytes base64)\n", e.Kind,
				len(e.Content))
		}
	}

	if desc.MinSendable == desc.MaxSendable {
		fmt.Printf("Amount: %v\n", desc.MinSendable)
	}
}

// readAmount returns amt if it is within the bounds of desc, otherwise it
// asks the user to enter a valid amount.
func readAmount(reader *bufio.Reader, amt lnwire.MilliSatoshi,
	desc *lnurlpay.PayServiceDescriptor) (lnwire.MilliSatoshi, error) {

	if desc.MinSendable == desc.MaxSendable && amt == 0 {
		return desc.MinSendable, nil
	}

	for !desc.InRange(amt) {
		fmt.Printf("Enter an amount (in millisatoshis) between "+
			"%d and %d\n", desc.MinSendable, desc.MaxSendable)

		userInput, err := reader.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("could not read from console: %w",
				err)
		}
		userInput = strings.TrimSpace(userInput)

		parsed, err := strconv.ParseUint(userInput, 10, 64)
		if err != nil {
			fmt.Printf("error parsing input: %v\n", err)
			continue
		}
		amt = lnwire.MilliSatoshi(parsed)

		if !desc.InRange(amt) {
			fmt.Printf("Invalid amount. Expected an amount "+
				"between %d and %d, got %d\n", desc.MinSendable,
				desc.MaxSendable, amt)
		}
	}

	return amt, nil
}

func confirm(reader *bufio.Reader, question string) (bool, error) {
	fmt.Printf("%s (y/n) ", question)

	answer, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("could not read from console: %w", err)
	}

	answer = strings.ToLower(strings.TrimSpace(answer))

	return answer == "y" || answer == "yes", nil
}

// suggestURL asks the user whether to open the url of a url success action.
func suggestURL(reader *bufio.Reader, action *lnurlpay.ActionResult) error {
	fmt.Println(action.Description)

	ok, err := confirm(reader, fmt.Sprintf("Do you want to open: %s?",
		action.URL))
	if err != nil || !ok {
		return err
	}

	return openURL(action.URL)
}

func openURL(u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.Command("xdg-open", u)
	}

	if err := cmd.Start(); err != nil {
		fmt.Printf("Open %s in your browser\n", u)
	}

	return nil
}
