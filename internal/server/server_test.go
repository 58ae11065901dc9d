package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/cileserver/internal/backend"
	"github.com/danmuck/cileserver/internal/protocol"
	"github.com/danmuck/cileserver/internal/protocol/frame"
	"github.com/danmuck/cileserver/internal/protocol/session"
	"github.com/danmuck/cileserver/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type running struct {
	srv    *Server
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, b backend.Backend, cfg Config) *running {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := New(b, cfg)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	r := &running{srv: srv, addr: ln.Addr().String(), cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return r
}

func dial(t *testing.T, addr string) *session.Session {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.ReadTimeout = 5 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	sess, err := session.Dial(context.Background(), addr, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestServeExchangesOnOneConnection(t *testing.T) {
	testlog.Start(t)
	r := startServer(t, backend.NewMemory(), DefaultConfig())
	c := dial(t, r.addr)

	msg, err := c.Mkdir("/a")
	require.NoError(t, err)
	assert.Equal(t, "Directory created successfully", msg)

	entries, err := c.List("/a")
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = c.List("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name)
	assert.True(t, entries[0].IsDir)

	msg, err = c.Put("/out.bin", []byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, "File uploaded successfully", msg)

	data, err := c.Get("/out.bin")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	_, err = c.Get("/missing.txt")
	var rerr *session.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, frame.StatusError, rerr.Status)
	assert.NotEmpty(t, rerr.Message)
	assert.ErrorIs(t, err, protocol.ErrBackend)

	// A backend error leaves the connection usable.
	_, err = c.Delete("/out.bin")
	require.NoError(t, err)

	stats := r.srv.Stats()
	assert.EqualValues(t, 7, stats.Exchanges)
	assert.EqualValues(t, 1, stats.TotalConnections)
}

func TestServeDrainsRejectedFrames(t *testing.T) {
	testlog.Start(t)
	r := startServer(t, backend.NewMemory(), DefaultConfig())

	conn, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	unknown := frame.AppendRequestHeader(nil, frame.RequestHeader{Command: 42, PathLength: 2, DataLength: 3})
	unknown = append(unknown, "/xabc"...)
	_, err = conn.Write(unknown)
	require.NoError(t, err)

	oversized := frame.AppendRequestHeader(nil, frame.RequestHeader{Command: frame.CmdPut, PathLength: 2, DataLength: 5000})
	oversized = append(oversized, "/y"...)
	oversized = append(oversized, make([]byte, 5000)...)
	_, err = conn.Write(oversized)
	require.NoError(t, err)

	require.NoError(t, frame.WriteRequest(conn, frame.CmdMkdir, "/ok", nil))

	scratch := make([]byte, frame.RequestHeaderLen)
	wantStatus := []frame.Status{frame.StatusBadRequest, frame.StatusTooLarge, frame.StatusOK}
	for _, want := range wantStatus {
		h, err := frame.ReadResponseHeader(conn, scratch)
		require.NoError(t, err)
		assert.Equal(t, want, h.Status)
		body := make([]byte, h.DataLength)
		require.NoError(t, frame.ReadBody(conn, body))
		if want == frame.StatusOK {
			assert.Equal(t, "Directory created successfully", string(body))
		}
	}
	assert.EqualValues(t, 2, r.srv.Stats().Rejected)
}

func TestServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	r := startServer(t, backend.NewMemory(), DefaultConfig())
	c := dial(t, r.addr)
	_, err := c.Mkdir("/x")
	require.NoError(t, err)
	require.Eventually(t, r.srv.Ready, time.Second, 10*time.Millisecond)

	r.cancel()
	select {
	case err := <-r.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
	r.done <- nil
	assert.False(t, r.srv.Ready())

	// The open connection was closed by shutdown.
	_, err = c.Mkdir("/y")
	assert.True(t, errors.Is(err, protocol.ErrTransport), "got %v", err)
	assert.EqualValues(t, 0, r.srv.Stats().ActiveConnections)
}

func TestServeConnectionCap(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	r := startServer(t, backend.NewMemory(), cfg)

	first := dial(t, r.addr)
	_, err := first.Mkdir("/first")
	require.NoError(t, err)

	second := dial(t, r.addr)
	done := make(chan error, 1)
	go func() {
		_, err := second.Mkdir("/second")
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("second client served while slot held: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, first.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("second client never served")
	}
}

func TestServePartialHeaderTimesOut(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	cfg.Session.ReadTimeout = 100 * time.Millisecond
	cfg.Session.IdleTimeout = 0
	r := startServer(t, backend.NewMemory(), cfg)

	stalled, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer stalled.Close()
	_, err = stalled.Write([]byte{byte(frame.CmdPut), 0})
	require.NoError(t, err)

	// The only slot frees once the header read deadline fires.
	c := dial(t, r.addr)
	msg, err := c.Mkdir("/a")
	require.NoError(t, err)
	assert.Equal(t, "Directory created successfully", msg)

	stats := r.srv.Stats()
	assert.EqualValues(t, 1, stats.Failures)
	assert.EqualValues(t, 1, stats.Exchanges)
}

func TestServeIdleTimeoutClosesConnection(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Session.IdleTimeout = 100 * time.Millisecond
	r := startServer(t, backend.NewMemory(), cfg)

	conn, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var one [1]byte
	_, err = conn.Read(one[:])
	assert.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool {
		return r.srv.Stats().ActiveConnections == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSetTimeoutsAppliesToNewConnections(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	r := startServer(t, backend.NewMemory(), cfg)

	r.srv.SetTimeouts(time.Second, 2*time.Second, time.Minute)
	got := r.srv.sessionConfig()
	assert.Equal(t, time.Second, got.ReadTimeout)
	assert.Equal(t, 2*time.Second, got.WriteTimeout)
	assert.Equal(t, time.Minute, got.IdleTimeout)
	assert.Equal(t, cfg.Session.BufferSize, got.BufferSize)
}
