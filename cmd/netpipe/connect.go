package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/czx-lab/netpipe/bootstrap"
	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/codec"
	"github.com/czx-lab/netpipe/pipeline"
)

func connectCmd(configFile *string) *cobra.Command {
	var (
		addr      string
		network   string
		file      string
		chunkSize int
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Send stdin lines (or a file) to a server and print what comes back",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			if addr != "" {
				c.Client.Addr = addr
			}
			if network != "" {
				c.Client.Network = network
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return connect(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout(), file, chunkSize)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address; overrides the config")
	cmd.Flags().StringVarP(&network, "network", "n", "", "tcp, unix, kcp or ws; overrides the config")
	cmd.Flags().StringVar(&file, "file", "", "send this file in chunks instead of reading stdin")
	cmd.Flags().IntVar(&chunkSize, "chunk", codec.DefaultChunkSize, "chunk size for --file")
	return cmd
}

// printer writes every inbound frame to out, one per line.
func printer(out io.Writer) func() pipeline.Handler {
	return func() pipeline.Handler {
		return pipeline.NewTypedInbound(func(ctx *pipeline.Context, frame *buffer.Buffer) {
			fmt.Fprintln(out, frame.String())
		})
	}
}

func connect(ctx context.Context, c Config, in io.Reader, out io.Writer, file string, chunkSize int) error {
	cli, err := bootstrap.NewClient(c.Client, initializer(c, printer(out)))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		cli.Stop(sctx)
	}()
	conn, err := cli.Connect(ctx)
	if err != nil {
		return err
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		return conn.Pipeline().WriteAndFlush(codec.NewChunkedReader(f, chunkSize)).Wait(ctx)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cur := cli.Conn()
			if cur == nil {
				return errors.New("not connected")
			}
			cur.Pipeline().WriteAndFlush(buffer.FromString(line))
		}
	}
}
