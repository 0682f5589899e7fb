// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luxfi/pomelo"
	"github.com/luxfi/pomelo/pomelotest"
)

func requestCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "request ROUTE [JSON]",
		Short: "Send a request and print the response",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := messageArg(args)
			if err != nil {
				return err
			}
			sess, err := connect(cmd.Context(), cmd, g)
			if err != nil {
				return err
			}
			defer sess.close()

			body, err := sess.client.Request(cmd.Context(), args[0], msg)
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
}

func notifyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "notify ROUTE [JSON]",
		Short: "Send a notify",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := messageArg(args)
			if err != nil {
				return err
			}
			sess, err := connect(cmd.Context(), cmd, g)
			if err != nil {
				return err
			}
			defer sess.close()
			return sess.client.Notify(cmd.Context(), args[0], msg)
		},
	}
}

func listenCmd(g *globalFlags) *cobra.Command {
	var request string
	var requestBody string

	cmd := &cobra.Command{
		Use:   "listen ROUTE...",
		Short: "Print server pushes until interrupted or disconnected",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, err := connect(ctx, cmd, g)
			if err != nil {
				return err
			}
			defer sess.close()

			closed := make(chan error, 1)
			printEvent := func(ev pomelo.Event) {
				line, err := json.Marshal(map[string]any{"event": ev.Name, "body": ev.Body})
				if err != nil {
					sess.log.Error("format event", "err", err)
					return
				}
				fmt.Println(string(line))
			}
			for _, route := range args {
				sess.client.On(route, printEvent)
			}
			sess.client.On(pomelo.EventKick, printEvent)
			sess.client.On(pomelo.EventClose, func(ev pomelo.Event) {
				select {
				case closed <- ev.Err:
				default:
				}
			})

			// Some servers only start pushing after a join request.
			if request != "" {
				var msg any
				if requestBody != "" {
					msg = json.RawMessage(requestBody)
				}
				body, err := sess.client.Request(ctx, request, msg)
				if err != nil {
					return err
				}
				if err := printJSON(body); err != nil {
					return err
				}
			}

			select {
			case <-ctx.Done():
				return nil
			case err := <-closed:
				if err != nil {
					return fmt.Errorf("connection lost: %w", err)
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&request, "request", "", "route to request once connected")
	cmd.Flags().StringVar(&requestBody, "request-body", "", "JSON body for --request")
	return cmd
}

func serveCmd(g *globalFlags) *cobra.Command {
	var heartbeat float64
	var tcp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local echo connector for testing clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := newLogger(g.logLevel, g.logFormat)
			opts := []pomelotest.Option{pomelotest.WithHeartbeat(heartbeat)}
			var (
				srv *pomelotest.Server
				err error
			)
			if tcp {
				srv, err = pomelotest.NewTCPServer(opts...)
			} else {
				srv, err = pomelotest.NewServer(opts...)
			}
			if err != nil {
				return err
			}
			defer srv.Close()

			srv.HandleDefault(func(_ context.Context, route string, body json.RawMessage) (any, error) {
				log.Info("request", "route", route, "body", string(body))
				return map[string]any{"code": 200, "route": route, "body": body}, nil
			})
			fmt.Println(srv.Addr())

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().Float64Var(&heartbeat, "heartbeat", 3, "heartbeat interval in seconds, 0 to disable")
	cmd.Flags().BoolVar(&tcp, "tcp", false, "serve raw TCP instead of websocket")
	return cmd
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version)
				return
			}
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("Transports: %v\n", pomelo.AvailableTransports())
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	return cmd
}
