package api

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// submitLimiter bounds submission intake per session and globally over a
// sliding one-minute window. Zero limits disable the corresponding check.
type submitLimiter struct {
	mu            sync.Mutex
	perSessionMax int
	globalMax     int
	window        time.Duration
	sessions      map[string][]int64
	global        []int64
}

func newSubmitLimiterFromEnv() *submitLimiter {
	perSession := getenvIntRL("OVERLAY_SUBMIT_RATE_LIMIT_PER_MIN", 60)
	global := getenvIntRL("OVERLAY_SUBMIT_GLOBAL_RATE_LIMIT_PER_MIN", 600)
	if perSession < 0 {
		perSession = 0
	}
	if global < 0 {
		global = 0
	}
	return &submitLimiter{
		perSessionMax: perSession,
		globalMax:     global,
		window:        time.Minute,
		sessions:      map[string][]int64{},
		global:        make([]int64, 0, 1024),
	}
}

func (l *submitLimiter) allow(session string, now time.Time) bool {
	if l == nil || (l.perSessionMax == 0 && l.globalMax == 0) {
		return true
	}
	ts := now.UTC().Unix()
	cutoff := ts - int64(l.window.Seconds())
	if session == "" {
		session = "default"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = trimCutoff(l.global, cutoff)
	if l.globalMax > 0 && len(l.global) >= l.globalMax {
		return false
	}

	history := trimCutoff(l.sessions[session], cutoff)
	if l.perSessionMax > 0 && len(history) >= l.perSessionMax {
		l.sessions[session] = history
		return false
	}

	history = append(history, ts)
	l.sessions[session] = history
	l.global = append(l.global, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	if len(in) == 0 {
		return in
	}
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}

func getenvIntRL(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
