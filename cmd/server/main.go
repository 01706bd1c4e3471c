package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/btcsuite/btclog"
	"github.com/ellemouton/lnurlpay"
	"github.com/lightninglabs/lndclient"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()

	app.Name = "lnurlpay-server"
	app.Usage = "Reference LNURL-pay service backed by lnd"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to a TOML file holding flag defaults",
		},
		&cli.StringFlag{Name: "protocol", Value: "http"},
		&cli.StringFlag{Name: "host", Value: "localhost"},
		&cli.IntFlag{Name: "port", Value: 8080},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "listen address, defaults to :<port>",
		},
		&cli.StringFlag{
			Name:  "lndaddr",
			Value: "localhost:10011",
			Usage: "lnd instance rpc address",
		},
		&cli.StringFlag{Name: "network", Value: "regtest"},
		&cli.StringFlag{Name: "macpath", Usage: "Path to lnd's mac dir"},
		&cli.StringFlag{Name: "tlspath", Usage: "Path to lnd's tls cert"},
		&cli.Int64Flag{Name: "minsendable", Value: 1000},
		&cli.Int64Flag{Name: "maxsendable", Value: 100000000},
		&cli.StringFlag{Name: "description", Value: "LNURL-pay"},
		&cli.StringFlag{Name: "longdescription"},
		&cli.IntFlag{Name: "commentallowed"},
		&cli.StringFlag{
			Name:  "successaction",
			Usage: "one of message, url or aes",
		},
		&cli.StringFlag{Name: "successtext"},
		&cli.StringFlag{Name: "successurl"},
		&cli.StringFlag{Name: "successsecret"},
		&cli.DurationFlag{
			Name:  "callbackttl",
			Value: lnurlpay.DefaultCallbackTTL,
		},
		&cli.StringFlag{
			Name:  "qrfile",
			Usage: "write a png QR code of the pay code to this path",
		},
		&cli.StringFlag{Name: "loglevel", Value: "info"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[lnurlpay-server] %v\n", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	if path := ctx.String("config"); path != "" {
		var values map[string]interface{}
		if _, err := toml.DecodeFile(path, &values); err != nil {
			return fmt.Errorf("could not read config file: %w", err)
		}

		for name, value := range values {
			if ctx.IsSet(name) {
				continue
			}
			if err := ctx.Set(name, fmt.Sprint(value)); err != nil {
				return fmt.Errorf("invalid config value for "+
					"'%s': %w", name, err)
			}
		}
	}

	lvl, ok := btclog.LevelFromString(ctx.String("loglevel"))
	if !ok {
		return fmt.Errorf("unknown log level '%s'",
			ctx.String("loglevel"))
	}
	logger := btclog.NewBackend(os.Stdout).Logger(lnurlpay.Subsystem)
	logger.SetLevel(lvl)
	lnurlpay.UseLogger(logger)

	lnd, err := lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:  ctx.String("lndaddr"),
		Network:     lndclient.Network(ctx.String("network")),
		MacaroonDir: ctx.String("macpath"),
		TLSPath:     ctx.String("tlspath"),
	})
	if err != nil {
		return err
	}
	defer lnd.Close()

	server, err := lnurlpay.NewServer(&lnurlpay.ServerConfig{
		Protocol:        ctx.String("protocol"),
		Host:            ctx.String("host"),
		Port:            ctx.Int("port"),
		ListenAddr:      ctx.String("listen"),
		MinMsatSendable: ctx.Int64("minsendable"),
		MaxMsatSendable: ctx.Int64("maxsendable"),
		Description:     ctx.String("description"),
		LongDescription: ctx.String("longdescription"),
		CommentAllowed:  ctx.Int("commentallowed"),
		SuccessAction:   ctx.String("successaction"),
		SuccessText:     ctx.String("successtext"),
		SuccessURL:      ctx.String("successurl"),
		SuccessSecret:   ctx.String("successsecret"),
		CallbackTTL:     ctx.Duration("callbackttl"),
		QRCodeFile:      ctx.String("qrfile"),
	}, lnd.Client)
	if err != nil {
		return err
	}

	return server.Run(ctx.Context)
}
