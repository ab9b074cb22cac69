// Package client implements a DUCO-style TCP mining client: it dials a
// pool dispatcher, reads one newline-delimited job per line, answers
// each challenge via internal/miner's inversion driver, and writes the
// solved nonce back. Connection handling follows the same
// bufio.Reader-over-net.Conn shape as the pool's stratum session, with
// exponential-backoff reconnect in place of the pool's multi-upstream
// failover.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tos-network/fastmine/internal/config"
	"github.com/tos-network/fastmine/internal/limiter"
	"github.com/tos-network/fastmine/internal/miner"
	"github.com/tos-network/fastmine/internal/notify"
	"github.com/tos-network/fastmine/internal/telemetry"
	"github.com/tos-network/fastmine/internal/util"
)

// Job is a single challenge read from the pool dispatcher: find an
// ASCII-digit nonce N such that XXH64(seed, prefix||N) == target.
type Job struct {
	Prefix     []byte
	Target     uint64
	Difficulty uint64
}

// Result is the line written back to the pool dispatcher after a job
// is solved.
type Result struct {
	Nonce     string
	ElapsedMs int64
	Version   string
}

// ClientVersion identifies this client in the result line, the same
// role the teacher's miner software string plays in mining.subscribe.
const ClientVersion = "fastmine-1.0"

// Dialer opens the transport to the pool. Tests substitute a dialer
// that connects to an in-process mock dispatcher instead of a real
// net.Dial.
type Dialer func(network, address string, timeout time.Duration) (net.Conn, error)

func defaultDialer(network, address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, address, timeout)
}

// Client connects to a pool dispatcher and mines jobs until Stop is
// called or ctx is canceled.
type Client struct {
	cfg       *config.ClientConfig
	miningCfg *config.MiningConfig
	dial      Dialer
	limiter   *limiter.Limiter
	telemetry *telemetry.Agent
	notifier  *notify.Notifier

	solved  uint64
	running int32
	quit    chan struct{}
}

// New creates a client from configuration. lim, tel, and ntf may be
// nil; the client degrades gracefully when any of them is absent.
func New(cfg *config.ClientConfig, miningCfg *config.MiningConfig, lim *limiter.Limiter, tel *telemetry.Agent, ntf *notify.Notifier) *Client {
	return &Client{
		cfg:       cfg,
		miningCfg: miningCfg,
		dial:      defaultDialer,
		limiter:   lim,
		telemetry: tel,
		notifier:  ntf,
		quit:      make(chan struct{}),
	}
}

// SetDialer overrides the transport dialer, used by tests to point the
// client at an in-process mock dispatcher.
func (c *Client) SetDialer(d Dialer) {
	c.dial = d
}

// SolvedCount returns the number of jobs solved so far.
func (c *Client) SolvedCount() uint64 {
	return atomic.LoadUint64(&c.solved)
}

// Run connects to the pool and mines jobs until ctx is canceled or
// Stop is called. It reconnects on any connection error with
// exponential backoff bounded by cfg.BackoffMin/BackoffMax, the same
// retry shape the teacher's upstream manager uses for node failover.
func (c *Client) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return fmt.Errorf("client: already running")
	}
	defer atomic.StoreInt32(&c.running, 0)

	backoff := c.cfg.BackoffMin
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := c.cfg.BackoffMax
	if maxBackoff <= 0 {
		maxBackoff = 60 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.quit:
			return nil
		default:
		}

		err := c.runOnce(ctx)
		if err == nil {
			backoff = c.cfg.BackoffMin
			if backoff <= 0 {
				backoff = time.Second
			}
			continue
		}

		util.Warnf("client: connection to %s ended: %v", c.cfg.PoolURL, err)

		select {
		case <-ctx.Done():
			return nil
		case <-c.quit:
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Stop signals Run to return after its current connection ends.
func (c *Client) Stop() {
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

// runOnce dials the pool once and processes jobs until the connection
// closes or errors.
func (c *Client) runOnce(ctx context.Context) error {
	dialTimeout := c.cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	conn, err := c.dial("tcp", c.cfg.PoolURL, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.PoolURL, err)
	}
	defer conn.Close()

	// Close the connection on cancel or Stop so a blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-c.quit:
		case <-done:
		}
		conn.Close()
	}()

	util.Infof("client: connected to %s", c.cfg.PoolURL)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		case <-c.quit:
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		job, err := parseJob(line)
		if err != nil {
			util.Warnf("client: malformed job %q: %v", line, err)
			continue
		}

		if err := c.handleJob(conn, job); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read from %s: %w", c.cfg.PoolURL, err)
	}
	return fmt.Errorf("connection to %s closed by peer", c.cfg.PoolURL)
}

// handleJob solves one job and writes the result line back.
func (c *Client) handleJob(conn net.Conn, job Job) error {
	start := time.Now()

	attempt, ok := miner.MineAttempt(job.Prefix, job.Target)

	elapsed := time.Since(start)

	if c.limiter != nil {
		ip := remoteIP(conn)
		if !ok {
			c.limiter.AddFailure(ip)
		} else {
			c.limiter.Allow(ip)
		}
	}

	if c.telemetry != nil {
		c.telemetry.RecordAttempt(tierOrUnknown(attempt, ok), elapsed, ok)
	}

	if !ok {
		util.Warnf("client: no preimage found for prefix %q (target=%016x)", job.Prefix, job.Target)
		return nil
	}

	atomic.AddUint64(&c.solved, 1)

	hard := attempt.Tier != miner.TierFull8 && attempt.Tier != miner.TierDigit8

	if c.telemetry != nil && hard {
		c.telemetry.RecordHardSolve(attempt.Tier, string(attempt.Nonce))
	}

	if c.notifier != nil && hard {
		c.notifier.NotifyHardSolve(attempt.Nonce, job.Prefix, attempt.Tier)
	}

	result := Result{
		Nonce:     string(attempt.Nonce),
		ElapsedMs: elapsed.Milliseconds(),
		Version:   ClientVersion,
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := fmt.Fprintf(conn, "%s,%d,%s\n", result.Nonce, result.ElapsedMs, result.Version)
	return err
}

func tierOrUnknown(a miner.Attempt, ok bool) string {
	if !ok {
		return "none"
	}
	return a.Tier
}

// parseJob decodes a "prefix_hex,target_hex,difficulty" job line.
func parseJob(line string) (Job, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return Job{}, fmt.Errorf("expected at least 2 comma-separated fields, got %d", len(parts))
	}

	prefix, err := util.HexToBytes(parts[0])
	if err != nil {
		return Job{}, fmt.Errorf("invalid prefix hex: %w", err)
	}

	targetStr := strings.TrimPrefix(parts[1], "0x")
	target, err := strconv.ParseUint(targetStr, 16, 64)
	if err != nil {
		return Job{}, fmt.Errorf("invalid target hex: %w", err)
	}

	var difficulty uint64
	if len(parts) >= 3 {
		difficulty, _ = strconv.ParseUint(parts[2], 10, 64)
	}

	return Job{Prefix: prefix, Target: target, Difficulty: difficulty}, nil
}

// remoteIP extracts the bare IP from a connection's remote address,
// the same host-splitting the pool's stratum server applies to
// incoming connections for policy checks.
func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		ip := addr[:idx]
		ip = strings.TrimPrefix(ip, "[")
		ip = strings.TrimSuffix(ip, "]")
		return ip
	}
	return addr
}
