package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomrelay/internal/client"
	"github.com/Tyrowin/roomrelay/internal/command"
	"github.com/Tyrowin/roomrelay/internal/logging"
	"github.com/Tyrowin/roomrelay/internal/server"
)

func TestConnectPipesStdinIntoRoom(t *testing.T) {
	cfg := server.NewConfig()
	cfg.Port = ""
	srv := server.New(cfg, logging.Discard(), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.ServeTCP(ln) }()
	defer func() { _ = srv.Shutdown(2 * time.Second) }()
	addr := ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, err := client.Dial(ctx, addr, command.NewParser("", 0))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer peer.Close()
	code, err := peer.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var out, status bytes.Buffer
	in := strings.NewReader("hello\nworld\n")
	if err := connect(ctx, addr, strings.ToUpper(code), in, &out, &status); err != nil {
		t.Fatalf("connect() = %v", err)
	}
	if got := status.String(); got != "room "+code+"\n" {
		t.Errorf("status = %q", got)
	}

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"hello", "world"} {
		got, err := peer.Receive()
		if err != nil || got != want {
			t.Fatalf("peer received %q, %v; want %q", got, err, want)
		}
	}
}
