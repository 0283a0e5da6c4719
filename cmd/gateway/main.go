package main

import (
	"os"
	"os/signal"
	"syscall"

	gateway "github.com/lonng/nano-gateway"
	"github.com/lonng/nano-gateway/component"
	"github.com/lonng/nano-gateway/internal/log"
	"github.com/pingcap/errors"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "gateway"
	app.Usage = "game gateway connection and dispatch engine"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "Config file (toml, yaml or json) with a [gateway] section",
		},
		cli.IntFlag{
			Name:  "port,p",
			Usage: "Client listen port, overrides the config file",
		},
		cli.StringFlag{
			Name:  "network,n",
			Usage: "Client network: tcp, ws or gnet, overrides the config file",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug logs",
		},
	}
	app.Action = serve

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Startup server error %+v", err)
	}
}

func serve(args *cli.Context) error {
	cfg, err := gateway.LoadConfig(args.String("config"))
	if err != nil {
		return err
	}
	if port := args.Int("port"); port != 0 {
		cfg.Port = port
	}
	if network := args.String("network"); network != "" {
		cfg.Network = network
	}

	comps := &component.Components{}
	demo := newDemo()
	comps.Register(demo, component.WithName("demo"))

	opts := []gateway.Option{gateway.WithComponents(comps)}
	if args.Bool("debug") {
		opts = append(opts, gateway.WithDebugMode())
	}

	server := gateway.New(cfg, opts...)
	demo.server = server
	if err := server.Start(); err != nil {
		server.Shutdown()
		return errors.Annotate(err, "start gateway")
	}
	log.Infof("Gateway started, network=%s, addr=%s, max-connections=%d", cfg.Network, server.Addr(), cfg.MaxConnections)

	sg := make(chan os.Signal, 1)
	signal.Notify(sg, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	s := <-sg
	log.Infof("Got signal %s", s)

	server.Shutdown()
	return nil
}
