package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/czx-lab/netpipe"
	"github.com/czx-lab/netpipe/bootstrap"
	"github.com/czx-lab/netpipe/channel"
	"github.com/czx-lab/netpipe/metrics"
	"github.com/czx-lab/netpipe/pipeline"
	"github.com/czx-lab/netpipe/xlog"
)

const stopTimeout = 10 * time.Second

// stopper is implemented by every bootstrap server.
type stopper interface {
	Stop(ctx context.Context) error
}

func serveCmd(configFile *string) *cobra.Command {
	var transport, mode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if transport != "" {
				c.Transport = transport
			}
			if mode != "" {
				c.Mode = mode
			}
			netpipe.MustConf(c.Module)

			var mods []netpipe.Module
			if c.Metrics.Enabled {
				metrics.Enable(true)
				mods = append(mods, metricsModule(c.Metrics.ServeConf))
			}
			mods = append(mods, serverModule(c))
			netpipe.Run(mods...)
			return nil
		},
	}
	cmd.Flags().StringVarP(&transport, "transport", "t", "", "stream, ws or gnet; overrides the config")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "echo or chat; overrides the config")
	return cmd
}

// terminal picks the last handler of every pipeline for c.Mode.
func terminal(c Config) (func() pipeline.Handler, error) {
	switch c.Mode {
	case "", modeEcho:
		return echoHandler, nil
	case modeChat:
		return chatHandlers(channel.NewGroup("chat")), nil
	}
	return nil, fmt.Errorf("unknown mode %q", c.Mode)
}

func startServer(c Config) (stopper, error) {
	last, err := terminal(c)
	if err != nil {
		return nil, err
	}
	setup := initializer(c, last)
	switch c.Transport {
	case "", transportStream:
		srv, err := bootstrap.NewServer(c.Server, setup)
		if err != nil {
			return nil, err
		}
		return srv, srv.Start()
	case transportWs:
		srv, err := bootstrap.NewWsServer(c.Ws, setup)
		if err != nil {
			return nil, err
		}
		return srv, srv.Start()
	case transportGnet:
		srv, err := bootstrap.NewGnetServer(c.Gnet, setup)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return srv, srv.Start(ctx)
	}
	return nil, fmt.Errorf("unknown transport %q", c.Transport)
}

func serverModule(c Config) netpipe.Module {
	var srv stopper
	return netpipe.ModuleFuncs{
		InitFunc: func() {
			var err error
			if srv, err = startServer(c); err != nil {
				xlog.Write().Fatal("server start", zap.String("transport", c.Transport), zap.String("mode", c.Mode), zap.Error(err))
			}
		},
		DestroyFunc: func() {
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				xlog.Write().Error("server stop", zap.Error(err))
			}
		},
	}
}

func metricsModule(conf metrics.ServeConf) netpipe.Module {
	return netpipe.ModuleFuncs{
		RunFunc: func(done chan struct{}) {
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				<-done
				cancel()
			}()
			if err := metrics.Serve(ctx, conf); err != nil {
				xlog.Write().Error("metrics endpoint", zap.Error(err))
				<-ctx.Done()
			}
		},
	}
}
