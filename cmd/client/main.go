package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/ellemouton/lnurlpay"
	"github.com/lightninglabs/lndclient"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()

	app.Name = "lnurlpay-client"
	app.Usage = "Cli for paying LNURL-pay codes"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to a TOML file holding flag defaults",
		},
		&cli.StringFlag{
			Name:  "host",
			Value: "localhost:10013",
			Usage: "lnd instance rpc address",
		},
		&cli.StringFlag{
			Name:  "network",
			Value: "regtest",
			Usage: "the network",
		},
		&cli.StringFlag{
			Name:  "macpath",
			Usage: "Path to lnd's mac dir",
		},
		&cli.StringFlag{
			Name:  "tlspath",
			Usage: "Path to lnd's tls cert",
		},
		&cli.StringFlag{
			Name:  "loglevel",
			Value: "info",
			Usage: "logging level (trace, debug, info, warn, error)",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		if err := applyConfigFile(ctx); err != nil {
			return err
		}

		return setupLogging(ctx.String("loglevel"))
	}
	app.Commands = append(app.Commands, payRequestCommand)

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[lnurlpay-client] %v\n", err)
	os.Exit(1)
}

// applyConfigFile sets every flag that wasn't given on the command line to
// its value in the --config file, if there is one.
func applyConfigFile(ctx *cli.Context) error {
	path := ctx.String("config")
	if path == "" {
		return nil
	}

	var values map[string]interface{}
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}

	for name, value := range values {
		if ctx.IsSet(name) {
			continue
		}
		if err := ctx.Set(name, fmt.Sprint(value)); err != nil {
			return fmt.Errorf("invalid config value for '%s': %w",
				name, err)
		}
	}

	return nil
}

func setupLogging(level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level '%s'", level)
	}

	logger := btclog.NewBackend(os.Stdout).Logger(lnurlpay.Subsystem)
	logger.SetLevel(lvl)
	lnurlpay.UseLogger(logger)

	return nil
}

func chainParams(network string) (*chaincfg.Params, error) {
	switch lndclient.Network(network) {
	case lndclient.NetworkMainnet:
		return &chaincfg.MainNetParams, nil

	case lndclient.NetworkTestnet:
		return &chaincfg.TestNet3Params, nil

	case lndclient.NetworkRegtest:
		return &chaincfg.RegressionNetParams, nil

	case lndclient.NetworkSimnet:
		return &chaincfg.SimNetParams, nil
	}

	return nil, fmt.Errorf("unknown network '%s'", network)
}

func getLND(ctx *cli.Context) (*lndclient.GrpcLndServices, error) {
	return lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:  ctx.String("host"),
		Network:     lndclient.Network(ctx.String("network")),
		MacaroonDir: ctx.String("macpath"),
		TLSPath:     ctx.String("tlspath"),
	})
}
