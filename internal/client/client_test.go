package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tos-network/fastmine/internal/config"
	"github.com/tos-network/fastmine/internal/util"
	"github.com/tos-network/fastmine/internal/xxh64"
)

// mockDispatcher is an in-process TCP server standing in for a pool
// dispatcher: it sends a fixed sequence of job lines to the first
// connection it accepts and records the result lines it receives back.
type mockDispatcher struct {
	listener net.Listener
	results  chan string
}

func newMockDispatcher(t *testing.T) *mockDispatcher {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start mock dispatcher: %v", err)
	}
	return &mockDispatcher{listener: ln, results: make(chan string, 16)}
}

func (m *mockDispatcher) addr() string {
	return m.listener.Addr().String()
}

func (m *mockDispatcher) close() {
	m.listener.Close()
}

// serveOnce accepts a single connection, writes jobLines to it, then
// reads result lines until the connection closes or n results arrive.
func (m *mockDispatcher) serveOnce(jobLines []string, expectResults int) {
	conn, err := m.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for _, line := range jobLines {
		fmt.Fprintf(conn, "%s\n", line)
	}

	scanner := bufio.NewScanner(conn)
	for i := 0; i < expectResults && scanner.Scan(); i++ {
		m.results <- strings.TrimSpace(scanner.Text())
	}
}

func testClientConfig(addr string) *config.ClientConfig {
	return &config.ClientConfig{
		Enabled:     true,
		PoolURL:     addr,
		DialTimeout: 2 * time.Second,
		BackoffMin:  10 * time.Millisecond,
		BackoffMax:  50 * time.Millisecond,
	}
}

func testMiningConfig() *config.MiningConfig {
	return &config.MiningConfig{Seed: xxh64.DefaultSeed, NumericOnly: true}
}

func TestParseJob(t *testing.T) {
	prefix := []byte("PREFIXESPREFIXESPREFIXESPREFIXESPREFIXES")
	target := xxh64.Sum64(append(append([]byte{}, prefix...), []byte("123456789")...), xxh64.DefaultSeed)

	line := fmt.Sprintf("%s,%s,100", util.BytesToHexNoPre(prefix), util.Uint64ToHex(target))
	job, err := parseJob(line)
	if err != nil {
		t.Fatalf("parseJob() error = %v", err)
	}
	if string(job.Prefix) != string(prefix) {
		t.Errorf("Prefix = %q, want %q", job.Prefix, prefix)
	}
	if job.Target != target {
		t.Errorf("Target = %x, want %x", job.Target, target)
	}
	if job.Difficulty != 100 {
		t.Errorf("Difficulty = %d, want 100", job.Difficulty)
	}
}

func TestParseJobMalformed(t *testing.T) {
	cases := []string{"", "onlyonefield", "zzzz,0x1234", "deadbeef,notahexnumber"}
	for _, c := range cases {
		if _, err := parseJob(c); err == nil {
			t.Errorf("parseJob(%q) expected error, got nil", c)
		}
	}
}

func TestClientSolvesJobAndReportsResult(t *testing.T) {
	prefix := []byte("PREFIXESPREFIXESPREFIXESPREFIXESPREFIXES")
	target := xxh64.Sum64(append(append([]byte{}, prefix...), []byte("123456789")...), xxh64.DefaultSeed)
	jobLine := fmt.Sprintf("%s,%s,50", util.BytesToHexNoPre(prefix), util.Uint64ToHex(target))

	dispatcher := newMockDispatcher(t)
	defer dispatcher.close()

	done := make(chan struct{})
	go func() {
		dispatcher.serveOnce([]string{jobLine}, 1)
		close(done)
	}()

	c := New(testClientConfig(dispatcher.addr()), testMiningConfig(), nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go c.Run(ctx)

	select {
	case result := <-dispatcher.results:
		if !strings.HasPrefix(result, "123456789,") {
			t.Errorf("result = %q, want prefix %q", result, "123456789,")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client to report a result")
	}

	<-done
	c.Stop()

	if got := c.SolvedCount(); got != 1 {
		t.Errorf("SolvedCount() = %d, want 1", got)
	}
}

func TestClientReconnectsAfterDisconnect(t *testing.T) {
	dispatcher := newMockDispatcher(t)
	defer dispatcher.close()

	go func() {
		conn, err := dispatcher.listener.Accept()
		if err != nil {
			return
		}
		conn.Close() // immediately disconnect
	}()

	c := New(testClientConfig(dispatcher.addr()), testMiningConfig(), nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// Run should return once ctx is canceled, not hang or panic despite
	// the immediate disconnect triggering a reconnect loop.
	err := c.Run(ctx)
	if err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}

func TestClientStopUnblocksRun(t *testing.T) {
	dispatcher := newMockDispatcher(t)
	defer dispatcher.close()

	go func() {
		conn, err := dispatcher.listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(500 * time.Millisecond)
	}()

	c := New(testClientConfig(dispatcher.addr()), testMiningConfig(), nil, nil, nil)

	runDone := make(chan error, 1)
	go func() {
		runDone <- c.Run(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	c.Stop()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not unblock Run()")
	}
}

func TestClientRunRejectsConcurrentRun(t *testing.T) {
	dispatcher := newMockDispatcher(t)
	defer dispatcher.close()

	go func() {
		conn, err := dispatcher.listener.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(300 * time.Millisecond)
		}
	}()

	c := New(testClientConfig(dispatcher.addr()), testMiningConfig(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	if err := c.Run(ctx); err == nil {
		t.Error("Run() while already running: expected error, got nil")
	}

	c.Stop()
}
