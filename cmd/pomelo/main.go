// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command pomelo talks to Pomelo servers from the shell.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/luxfi/pomelo"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

type globalFlags struct {
	config      string
	host        string
	port        int
	transport   string
	path        string
	user        string
	logLevel    string
	logFormat   string
	trace       bool
	metricsAddr string
}

func main() {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "pomelo",
		Short:         "Pomelo protocol client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "pomelo.yaml", "config file")
	pf.StringVar(&g.host, "host", "", "server host (overrides config)")
	pf.IntVarP(&g.port, "port", "p", 0, "server port (overrides config)")
	pf.StringVarP(&g.transport, "transport", "t", "", "transport: "+fmt.Sprint(pomelo.AvailableTransports()))
	pf.StringVar(&g.path, "path", "", "websocket URL path")
	pf.StringVarP(&g.user, "user", "u", "", "handshake user payload as JSON")
	pf.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "text", "log format: text or json")
	pf.BoolVar(&g.trace, "trace", false, "print spans to stderr")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(
		requestCmd(g),
		notifyCmd(g),
		listenCmd(g),
		serveCmd(g),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// session is a connected client and the teardown of everything set up
// around it.
type session struct {
	client *pomelo.Client
	log    *slog.Logger
	close  func()
}

func connect(ctx context.Context, cmd *cobra.Command, g *globalFlags) (*session, error) {
	cfg, err := pomelo.LoadConfig(g.config)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = g.host
	}
	if flags.Changed("port") {
		cfg.Port = g.port
	}
	if flags.Changed("transport") {
		cfg.Transport = g.transport
	}
	if flags.Changed("path") {
		cfg.Path = g.path
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var user any = cfg.User
	if g.user != "" {
		if !json.Valid([]byte(g.user)) {
			return nil, errors.New("--user is not valid JSON")
		}
		user = json.RawMessage(g.user)
	}

	log := newLogger(g.logLevel, g.logFormat)
	opts := append(cfg.Options(), pomelo.WithLogger(log))

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if g.trace {
		tp, err := newTracerProvider()
		if err != nil {
			return nil, err
		}
		opts = append(opts, pomelo.WithTracerProvider(tp))
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		})
	}

	if g.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, pomelo.WithMetrics(pomelo.NewMetrics(reg)))
		srv := &http.Server{
			Addr:              g.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "err", err)
			}
		}()
		closers = append(closers, func() { _ = srv.Close() })
	}

	client := pomelo.New(opts...)
	if err := client.Connect(ctx, cfg.Addr(), user); err != nil {
		cleanup()
		return nil, fmt.Errorf("connect %s: %w", cfg.Addr(), err)
	}

	return &session{
		client: client,
		log:    log,
		close: func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warn("disconnect", "err", err)
			}
			cleanup()
		},
	}, nil
}

// messageArg parses an optional JSON message argument.
func messageArg(args []string) (any, error) {
	if len(args) < 2 {
		return nil, nil
	}
	if !json.Valid([]byte(args[1])) {
		return nil, fmt.Errorf("message is not valid JSON: %s", args[1])
	}
	return json.RawMessage(args[1]), nil
}

func printJSON(body json.RawMessage) error {
	if len(body) == 0 {
		fmt.Println("null")
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
