// Package risk implements the RiskIntegrator: the component that turns a
// stream of raw Detector alerts into a smoothed risk signal and, when
// warranted, a process-termination response. Its state machine needs
// exact semantics, so this file tracks the reference event-handling loop
// step for step rather than approximating it.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"kavach-r/pkg/detector"
	"kavach-r/pkg/events"
	"kavach-r/pkg/features"
	"kavach-r/pkg/process"
)

// ioWriterFallbackWindow bounds how long respond() waits on
// process.FindTopIOWriter's two-sample I/O scan when a critical-tier
// alert carries no PID.
const ioWriterFallbackWindow = 2 * time.Second

// Status is the outcome recorded for a response to a flagged process.
type Status string

const (
	Flagged    Status = "Flagged"
	Killed     Status = "Killed"
	KillFailed Status = "KillFailed"
)

// ResponseRecord is an append-only entry describing one response decision.
type ResponseRecord struct {
	Timestamp      time.Time
	PID            int
	ProcessName    string
	ExecutablePath string
	Score          float64
	Risk           float64
	Status         Status
}

// Config holds the Integrator's tunable thresholds. Zero-valued fields are
// replaced by DefaultConfig's values at construction.
type Config struct {
	WarmupSec         float64
	EMAAlphaFast      float64
	EMAAlphaSlow      float64
	FlagThreshold     float64
	CriticalThreshold float64
	MinConsecutive    int
	LogThrottleSec    float64
}

// DefaultConfig matches the original reference implementation's constants.
func DefaultConfig() Config {
	return Config{
		WarmupSec:         15.0,
		EMAAlphaFast:      0.5,
		EMAAlphaSlow:      0.08,
		FlagThreshold:     0.50,
		CriticalThreshold: 0.85,
		MinConsecutive:    3,
		LogThrottleSec:    5.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WarmupSec <= 0 {
		c.WarmupSec = d.WarmupSec
	}
	if c.EMAAlphaFast <= 0 {
		c.EMAAlphaFast = d.EMAAlphaFast
	}
	if c.EMAAlphaSlow <= 0 {
		c.EMAAlphaSlow = d.EMAAlphaSlow
	}
	if c.FlagThreshold <= 0 {
		c.FlagThreshold = d.FlagThreshold
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = d.CriticalThreshold
	}
	if c.MinConsecutive <= 0 {
		c.MinConsecutive = d.MinConsecutive
	}
	if c.LogThrottleSec <= 0 {
		c.LogThrottleSec = d.LogThrottleSec
	}
	return c
}

// Integrator smooths raw Detector alerts into a risk signal and gates the
// kill response. Mutation of its shared state is serialized through a
// single mutex held briefly per operation; the Detector's scoring and
// entropy I/O happen before the lock is taken, never inside it.
type Integrator struct {
	cfg       Config
	detector  *detector.Detector
	proc      process.Controller
	startedAt time.Time

	mu               sync.Mutex
	running          bool
	smoothedRisk     float64
	consecutiveAlert int
	killedPIDs       map[int]struct{}
	lastLogTime      time.Time
	lastFeatures     features.Vector
	flagged          []ResponseRecord
	logs             []string
	alertCount       int
}

// AlertCount returns the number of raw Detector alerts observed so far
// (pre-gating — every one of these caused OnEvent to run the EMA update,
// whether or not it cleared the response gate).
func (it *Integrator) AlertCount() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.alertCount
}

// New constructs an Integrator. proc must not be nil; pass
// process.NewOSController() for real termination or a fake in tests.
func New(d *detector.Detector, proc process.Controller, cfg Config) *Integrator {
	return &Integrator{
		cfg:        cfg.withDefaults(),
		detector:   d,
		proc:       proc,
		killedPIDs: make(map[int]struct{}),
	}
}

// Start resets all integrator state and begins the warm-up period from
// now. The detector's own window buffer is also cleared so stale events
// from a previous run never bleed into fresh calibration.
func (it *Integrator) Start() {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.running = true
	it.smoothedRisk = 0
	it.consecutiveAlert = 0
	it.killedPIDs = make(map[int]struct{})
	it.lastLogTime = time.Time{}
	it.lastFeatures = features.Vector{}
	it.flagged = nil
	it.logs = nil
	it.alertCount = 0
	it.startedAt = time.Now()
	it.detector.Reset()
}

// Stop clears detector state and zeroes the risk signal. Past
// ResponseRecords and logs are retained for inspection after stopping.
func (it *Integrator) Stop() {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.running = false
	it.smoothedRisk = 0
	it.consecutiveAlert = 0
	it.detector.Reset()
}

// OnEvent is the single entry point from the EventSource callback. It
// feeds e to the Detector, and — once warm-up has elapsed — updates the
// smoothed risk signal and evaluates the response gate.
func (it *Integrator) OnEvent(e events.FileEvent) {
	alert, hasAlert := it.detector.Process(e)

	it.mu.Lock()
	if !it.running {
		it.mu.Unlock()
		return
	}
	if time.Since(it.startedAt).Seconds() < it.cfg.WarmupSec {
		it.mu.Unlock()
		return
	}
	it.mu.Unlock()

	instantRisk := 0.02
	if hasAlert {
		distance := it.detector.Threshold() - alert.RawScore
		instantRisk = clamp(0.3+distance*2.5, 0, 1)
	}

	it.mu.Lock()
	it.lastFeatures = it.detector.LastFeatures()
	if hasAlert {
		it.consecutiveAlert++
		it.alertCount++
	} else {
		it.consecutiveAlert -= 2
		if it.consecutiveAlert < 0 {
			it.consecutiveAlert = 0
		}
	}

	alpha := it.cfg.EMAAlphaSlow
	if instantRisk > it.smoothedRisk {
		alpha = it.cfg.EMAAlphaFast
	}
	it.smoothedRisk = clamp(alpha*instantRisk+(1-alpha)*it.smoothedRisk, 0, 1)
	it.smoothedRisk = roundTo(it.smoothedRisk, 4)

	shouldRespond := hasAlert &&
		it.consecutiveAlert >= it.cfg.MinConsecutive &&
		it.smoothedRisk > it.cfg.FlagThreshold
	risk := it.smoothedRisk
	it.mu.Unlock()

	if !shouldRespond {
		return
	}
	it.respond(alert, risk)
}

// respond evaluates and records the kill-or-flag decision for a confirmed
// alert. Process inspection and the kill syscall both happen outside the
// lock; only the bookkeeping that follows is serialized.
func (it *Integrator) respond(alert *detector.Alert, risk float64) {
	status := Flagged
	critical := risk > it.cfg.CriticalThreshold

	pid := 0
	if alert.PID != nil {
		pid = *alert.PID
	}

	// A critical-tier alert with no PID (e.g. a detector fed events that
	// never carried process attribution) still needs a culprit to kill.
	// Fall back to the best-effort top-I/O-writer scan rather than doing
	// nothing.
	var fallback *process.Info
	if critical && alert.PID == nil {
		ctx, cancel := context.WithTimeout(context.Background(), ioWriterFallbackWindow+time.Second)
		info, err := process.FindTopIOWriter(ctx, ioWriterFallbackWindow)
		cancel()
		if err == nil {
			fallback = info
			pid = info.PID
		}
	}

	it.mu.Lock()
	_, alreadyKilled := it.killedPIDs[pid]
	it.mu.Unlock()

	if critical && pid != 0 && !alreadyKilled {
		if err := it.proc.Kill(pid); err != nil {
			status = KillFailed
		} else {
			status = Killed
			it.mu.Lock()
			it.killedPIDs[pid] = struct{}{}
			it.mu.Unlock()
		}
	}

	record := ResponseRecord{
		Timestamp: alert.Timestamp,
		PID:       pid,
		Score:     alert.RawScore,
		Risk:      risk,
		Status:    status,
	}
	switch {
	case alert.PID != nil:
		if info, err := it.proc.Inspect(pid); err == nil {
			record.ProcessName = info.Name
			record.ExecutablePath = info.Exe
		}
	case fallback != nil:
		record.ProcessName = fallback.Name
		record.ExecutablePath = fallback.Exe
	}

	it.mu.Lock()
	it.flagged = append(it.flagged, record)
	if time.Since(it.lastLogTime).Seconds() >= it.cfg.LogThrottleSec {
		it.lastLogTime = time.Now()
		it.logs = append(it.logs, formatLog(record))
		if len(it.logs) > 50 {
			it.logs = it.logs[len(it.logs)-50:]
		}
	}
	it.mu.Unlock()
}

func formatLog(r ResponseRecord) string {
	return fmt.Sprintf("[%s] pid=%d proc=%q risk=%.4f score=%.4f status=%s",
		r.Timestamp.Format(time.RFC3339), r.PID, r.ProcessName, r.Risk, r.Score, r.Status)
}

// RiskAndMetrics returns the current smoothed risk alongside a metrics map
// keyed by the 5 feature names plus "scenario" (IDLE/WARNING/ATTACK).
func (it *Integrator) RiskAndMetrics() (float64, map[string]any) {
	it.mu.Lock()
	defer it.mu.Unlock()

	scenario := "IDLE"
	switch {
	case it.smoothedRisk > 0.6 && len(it.flagged) > 0:
		scenario = "ATTACK"
	case it.smoothedRisk > 0.3:
		scenario = "WARNING"
	}

	v := it.lastFeatures.AsSlice()
	metrics := map[string]any{
		"scenario": scenario,
	}
	for i, name := range features.Names {
		metrics[name] = v[i]
	}
	return it.smoothedRisk, metrics
}

// RecentLogs returns a copy of the last 50 throttled log lines.
func (it *Integrator) RecentLogs() []string {
	it.mu.Lock()
	defer it.mu.Unlock()

	out := make([]string, len(it.logs))
	copy(out, it.logs)
	return out
}

// FlaggedProcesses returns a copy of every ResponseRecord produced so far.
func (it *Integrator) FlaggedProcesses() []ResponseRecord {
	it.mu.Lock()
	defer it.mu.Unlock()

	out := make([]ResponseRecord, len(it.flagged))
	copy(out, it.flagged)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
