// Package limiter implements a score-based IP rate limiter for
// fastmine's TCP client and HTTP solve API, adapted from the mining
// pool's stratum connection policy.
package limiter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tos-network/fastmine/internal/util"
)

// Config holds rate-limiter configuration.
type Config struct {
	MaxScore           int32         // score at which an IP gets temp-banned
	BanDuration        time.Duration // how long a ban lasts
	ScoreResetInterval time.Duration // how often score is reset
	CostRequest        int32         // score cost of a solve request
	CostFailure        int32         // additional score cost of a failed/invalid request
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxScore:           100,
		BanDuration:        5 * time.Minute,
		ScoreResetInterval: 10 * time.Minute,
		CostRequest:        1,
		CostFailure:        10,
	}
}

// ipStats tracks per-IP bookkeeping, mirroring the pool's IPStats.
type ipStats struct {
	mu       sync.Mutex
	score    int32
	bannedAt int64 // unix millis, 0 = not banned
	lastBeat int64
}

// Limiter is a score-based per-IP rate limiter/banner.
type Limiter struct {
	cfg Config

	statsMu sync.RWMutex
	stats   map[string]*ipStats

	quit chan struct{}
	wg   sync.WaitGroup

	started int32
}

// New creates a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:   cfg,
		stats: make(map[string]*ipStats),
		quit:  make(chan struct{}),
	}
}

// Start begins the background score-reset loop. Safe to call once.
func (l *Limiter) Start() {
	if !atomic.CompareAndSwapInt32(&l.started, 0, 1) {
		return
	}
	l.wg.Add(1)
	go l.resetLoop()
	util.Info("Rate limiter started")
}

// Stop halts the background loop and waits for it to exit.
func (l *Limiter) Stop() {
	if atomic.LoadInt32(&l.started) == 0 {
		return
	}
	close(l.quit)
	l.wg.Wait()
	util.Info("Rate limiter stopped")
}

func (l *Limiter) resetLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.ScoreResetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.quit:
			return
		case <-ticker.C:
			l.resetStats()
		}
	}
}

func (l *Limiter) resetStats() {
	now := time.Now().UnixMilli()
	banMs := l.cfg.BanDuration.Milliseconds()

	l.statsMu.Lock()
	defer l.statsMu.Unlock()

	for ip, s := range l.stats {
		s.mu.Lock()
		if s.bannedAt > 0 {
			if now-s.bannedAt >= banMs {
				s.bannedAt = 0
				s.score = 0
				util.Infof("Ban expired for %s", ip)
			}
		} else {
			s.score = 0
		}
		s.mu.Unlock()
	}
}

func (l *Limiter) getStats(ip string) *ipStats {
	l.statsMu.RLock()
	s, ok := l.stats[ip]
	l.statsMu.RUnlock()
	if ok {
		return s
	}

	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	s, ok = l.stats[ip]
	if !ok {
		s = &ipStats{lastBeat: time.Now().UnixMilli()}
		l.stats[ip] = s
	}
	return s
}

// IsBanned reports whether ip is currently temp-banned.
func (l *Limiter) IsBanned(ip string) bool {
	s := l.getStats(ip)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bannedAt > 0
}

// Allow registers one request from ip and reports whether it should
// proceed. Call AddFailure afterward if the request turned out invalid.
func (l *Limiter) Allow(ip string) bool {
	s := l.getStats(ip)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastBeat = time.Now().UnixMilli()
	if s.bannedAt > 0 {
		return false
	}

	s.score += l.cfg.CostRequest
	if s.score >= l.cfg.MaxScore {
		s.bannedAt = time.Now().UnixMilli()
		util.Warnf("Banning %s: score %d >= %d", ip, s.score, l.cfg.MaxScore)
		return false
	}
	return true
}

// AddFailure penalizes ip for a failed or invalid request, banning it
// if the score threshold is crossed.
func (l *Limiter) AddFailure(ip string) {
	s := l.getStats(ip)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bannedAt > 0 {
		return
	}

	s.score += l.cfg.CostFailure
	if s.score >= l.cfg.MaxScore {
		s.bannedAt = time.Now().UnixMilli()
		util.Warnf("Banning %s: score %d >= %d", ip, s.score, l.cfg.MaxScore)
	}
}

// Score returns ip's current score, for telemetry/inspection.
func (l *Limiter) Score(ip string) int32 {
	s := l.getStats(ip)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}
