package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomrelay/internal/client"
	"github.com/Tyrowin/roomrelay/internal/command"
)

var (
	flagPrefix     string
	flagCodeLength int
)

var connectCmd = &cobra.Command{
	Use:   "connect <addr> [room-code]",
	Short: "Create or join a room and pipe stdin/stdout through it",
	Long: `Connect to a relay over raw TCP. Without a room code a new room is
created and its code printed to stderr; with one, that room is joined.
Every stdin line is sent to the room and every relayed line is printed.

Examples:
  roomrelay connect localhost:8080
  roomrelay connect localhost:8080 ab12cd34`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := ""
		if len(args) == 2 {
			code = args[1]
		}
		return connect(cmd.Context(), args[0], code, os.Stdin, os.Stdout, os.Stderr)
	},
}

func connect(parent context.Context, addr, code string, in io.Reader, out, status io.Writer) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, addr, command.NewParser(flagPrefix, flagCodeLength))
	dialCancel()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if code == "" {
		code, err = c.Create()
	} else {
		code, err = c.Join(code)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(status, "room %s\n", code)

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	sendErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if err := c.Send(scanner.Text()); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- scanner.Err()
		// Stdin is done; closing ends the receive loop too.
		_ = c.Close()
	}()

	for {
		line, err := c.Receive()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				select {
				case err := <-sendErr:
					return err
				default:
					return nil
				}
			}
			return err
		}
		fmt.Fprintln(out, line)
	}
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringVar(&flagPrefix, "prefix", command.DefaultPrefix, "room command prefix")
	connectCmd.Flags().IntVar(&flagCodeLength, "code-length", command.DefaultCodeLength, "room code length")
}
