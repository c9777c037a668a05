package common

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oasisprotocol/fairdraw/log"
)

type failingCloser struct{ closed bool }

func (c *failingCloser) Close() error {
	c.closed = true
	return errors.New("boom")
}

func TestCloseOrLog(t *testing.T) {
	c := &failingCloser{}
	CloseOrLog(c, log.NewDefaultLogger("common-test"))
	require.True(t, c.closed)
}

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunServerShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              freeAddr(t),
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}

	done := make(chan error, 1)
	go func() { done <- RunServer(ctx, server, log.NewDefaultLogger("common-test")) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + server.Addr)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunServerListenError(t *testing.T) {
	server := &http.Server{Addr: "not-an-address", ReadHeaderTimeout: time.Second}
	require.Error(t, RunServer(context.Background(), server, log.NewDefaultLogger("common-test")))
}
