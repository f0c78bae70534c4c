package risk

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kavach-r/pkg/baseline"
	"kavach-r/pkg/detector"
	"kavach-r/pkg/events"
	"kavach-r/pkg/features"
)

// These cases reproduce the literal end-to-end scenarios for the
// RiskIntegrator acceptance contract: fixed event counts, cadences, and
// path shapes driven through a real detector.Detector and FeatureEngine,
// so the window pruning, rate computation, and EMA/gating math are all
// exercised together rather than through a synthetic alert stub. Detector
// alerting itself is pinned via an untrained BaselineModel (Score() == 0
// always) plus a signed Threshold — BaselineModel's own scoring behavior
// on anomalous vs. typical vectors is covered separately in
// pkg/baseline/model_test.go.

// writeUniformEntropyFile writes a file whose bytes cycle through
// alphabetSize distinct, equally-frequent values, giving a Shannon
// entropy of exactly log2(alphabetSize) bits per byte.
func writeUniformEntropyFile(t *testing.T, path string, alphabetSize int) {
	t.Helper()
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = byte(i % alphabetSize)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScenario_IdleAfterWarmupStaysBelowRiskFloor(t *testing.T) {
	dir := t.TempDir()

	// 30 Modify events on distinct paths at 0.5 events/s, entropy ~4.5 bits.
	paths := make([]string, 30)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("file%d.txt", i))
		writeUniformEntropyFile(t, paths[i], 23) // log2(23) ~= 4.52
	}

	d := detector.New(baseline.New(1), detector.Config{
		WindowSize: 120 * time.Second,
		Threshold:  -10, // untrained Score()==0 never drops below -10: benign, never alerts
		MinEvents:  1,
	}, features.DefaultConfig())

	it := New(d, &fakeController{}, Config{WarmupSec: 0.0001, FlagThreshold: 0.01, MinConsecutive: 1})
	it.Start()
	time.Sleep(2 * time.Millisecond)

	base := time.Now()
	for i, p := range paths {
		ts := base.Add(time.Duration(i) * 2 * time.Second) // 0.5 events/s
		it.OnEvent(events.FileEvent{Timestamp: ts, Kind: events.Modify, Path: p})

		risk, _ := it.RiskAndMetrics()
		if risk > 0.2 {
			t.Fatalf("event %d: smoothed_risk = %v, want <= 0.2 throughout an idle stream", i, risk)
		}
	}

	if len(it.FlaggedProcesses()) != 0 {
		t.Errorf("expected zero flagged processes for an idle benign stream")
	}

	_, metrics := it.RiskAndMetrics()
	if ec, _ := metrics["entropy_change"].(float64); ec < 4.0 || ec > 5.0 {
		t.Errorf("entropy_change = %v, want roughly 4.5 given the sampled files", ec)
	}
}

func TestScenario_ExtensionRansomBurstFlagsWithinGate(t *testing.T) {
	dir := t.TempDir()

	d := detector.New(baseline.New(1), detector.Config{
		WindowSize: 10 * time.Second,
		Threshold:  1.0, // untrained Score()==0 < 1.0: always anomalous once MinEvents is reached
		MinEvents:  3,
	}, features.DefaultConfig())

	cfg := Config{
		WarmupSec:      0.0001,
		MinConsecutive: 3,
		FlagThreshold:  0.01,
		// kept out of critical-tier range so this scenario exercises the
		// Flagged path only; scenario 3 below covers the critical-kill path.
		CriticalThreshold: 2.0,
		EMAAlphaFast:      0.5,
		EMAAlphaSlow:      0.08,
	}
	it := New(d, &fakeController{}, cfg)
	it.Start()
	time.Sleep(2 * time.Millisecond)

	// 50 Rename events in 2s, destination appends ".locked" (>=3 dot
	// segments), so FeatureEngine reports extension_change_rate == 1.0.
	base := time.Now()
	for i := 0; i < 50; i++ {
		ts := base.Add(time.Duration(i) * 40 * time.Millisecond) // 50 events / 2s
		dst := filepath.Join(dir, fmt.Sprintf("file%d.txt.locked", i))
		it.OnEvent(events.FileEvent{Timestamp: ts, Kind: events.Rename, Path: dst})
	}

	_, metrics := it.RiskAndMetrics()
	if rate, _ := metrics["rename_rate"].(float64); rate < 20 || rate > 30 {
		t.Errorf("rename_rate = %v, want roughly 25", rate)
	}
	if ext, _ := metrics["extension_change_rate"].(float64); ext != 1.0 {
		t.Errorf("extension_change_rate = %v, want 1.0", ext)
	}

	risk, _ := it.RiskAndMetrics()
	if risk <= cfg.FlagThreshold {
		t.Errorf("smoothed_risk = %v, want > flag_threshold (%v) once min_consecutive is reached", risk, cfg.FlagThreshold)
	}

	records := it.FlaggedProcesses()
	if len(records) == 0 {
		t.Fatal("expected at least one ResponseRecord")
	}
	if records[0].Status != Flagged {
		t.Errorf("expected the first response to be Flagged, got %v", records[0].Status)
	}
}

func TestScenario_CriticalSustainedAttackKillsExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	pid := 4242

	d := detector.New(baseline.New(1), detector.Config{
		WindowSize: 10 * time.Second,
		Threshold:  1.0,
		MinEvents:  3,
	}, features.DefaultConfig())

	cfg := Config{
		WarmupSec:         0.0001,
		MinConsecutive:    3,
		FlagThreshold:     0.01,
		CriticalThreshold: 0.85,
		EMAAlphaFast:      0.9,
		EMAAlphaSlow:      0.08,
	}
	fc := &fakeController{}
	it := New(d, fc, cfg)
	it.Start()
	time.Sleep(2 * time.Millisecond)

	// same ".locked" rename pattern as scenario 2, extended to 8s, all
	// carrying pid=4242.
	base := time.Now()
	n := 200 // 25 renames/s * 8s
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * 40 * time.Millisecond)
		dst := filepath.Join(dir, fmt.Sprintf("file%d.txt.locked", i))
		it.OnEvent(events.FileEvent{Timestamp: ts, Kind: events.Rename, Path: dst, PID: &pid})
	}

	risk, _ := it.RiskAndMetrics()
	if risk <= cfg.CriticalThreshold {
		t.Errorf("smoothed_risk = %v, want > critical_threshold (%v) after a sustained attack", risk, cfg.CriticalThreshold)
	}

	killCount := 0
	for _, p := range fc.killCalls {
		if p == pid {
			killCount++
		}
	}
	if killCount != 1 {
		t.Errorf("expected exactly one kill(%d) call, got %d", pid, killCount)
	}

	records := it.FlaggedProcesses()
	killedSeen := false
	for _, r := range records {
		if r.Status == Killed {
			if killedSeen {
				t.Errorf("expected only one Killed record for pid %d", pid)
			}
			killedSeen = true
		}
	}
	if !killedSeen {
		t.Errorf("expected at least one Killed record")
	}
}

func TestScenario_BenignUnzipBurstNeverFlags(t *testing.T) {
	dir := t.TempDir()

	d := detector.New(baseline.New(1), detector.Config{
		WindowSize: 10 * time.Second,
		Threshold:  -10, // benign: untrained Score()==0 never scores below -10
		MinEvents:  1,
	}, features.DefaultConfig())

	it := New(d, &fakeController{}, Config{WarmupSec: 0.0001, FlagThreshold: 0.01, MinConsecutive: 1})
	it.Start()
	time.Sleep(2 * time.Millisecond)

	// a handful of distinct files sampled for entropy (~3.0 bits), reused
	// across the 200 Modify events; 60 Create events carry no file content
	// requirement since Create is never entropy-sampled.
	modifyPaths := make([]string, 10)
	for i := range modifyPaths {
		modifyPaths[i] = filepath.Join(dir, fmt.Sprintf("unzipped%d.bin", i))
		writeUniformEntropyFile(t, modifyPaths[i], 8) // log2(8) == 3.0 exactly
	}

	base := time.Now()
	total := 260 // 200 Modify + 60 Create
	createCount := 0
	for i := 0; i < total; i++ {
		ts := base.Add(time.Duration(i) * (2000 * time.Millisecond / time.Duration(total)))
		if createCount < 60 && i%4 == 0 {
			createCount++
			it.OnEvent(events.FileEvent{Timestamp: ts, Kind: events.Create, Path: filepath.Join(dir, fmt.Sprintf("new%d.bin", i))})
			continue
		}
		it.OnEvent(events.FileEvent{Timestamp: ts, Kind: events.Modify, Path: modifyPaths[i%len(modifyPaths)]})
	}

	risk, _ := it.RiskAndMetrics()
	if risk > 0.5 {
		t.Errorf("smoothed_risk = %v, want <= 0.5 for a benign unzip burst", risk)
	}
	if len(it.FlaggedProcesses()) != 0 {
		t.Errorf("expected zero Flagged records for a benign burst")
	}

	_, metrics := it.RiskAndMetrics()
	if ec, _ := metrics["entropy_change"].(float64); ec < 2.5 || ec > 3.5 {
		t.Errorf("entropy_change = %v, want roughly 3.0", ec)
	}
}

func TestScenario_WarmupSuppressesResponseUntilItElapses(t *testing.T) {
	dir := t.TempDir()

	d := detector.New(baseline.New(1), detector.Config{
		WindowSize: 10 * time.Second,
		Threshold:  1.0,
		MinEvents:  3,
	}, features.DefaultConfig())

	warmup := 300 * time.Millisecond
	cfg := Config{
		WarmupSec:         warmup.Seconds(),
		MinConsecutive:    3,
		FlagThreshold:     0.01,
		CriticalThreshold: 2.0, // this scenario tests warm-up gating, not the kill path
		EMAAlphaFast:      0.5,
		EMAAlphaSlow:      0.08,
	}
	it := New(d, &fakeController{}, cfg)
	it.Start()

	// inject the extension-ransom pattern immediately, still inside warm-up.
	base := time.Now()
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * 40 * time.Millisecond)
		dst := filepath.Join(dir, fmt.Sprintf("file%d.txt.locked", i))
		it.OnEvent(events.FileEvent{Timestamp: ts, Kind: events.Rename, Path: dst})
	}
	if len(it.FlaggedProcesses()) != 0 {
		t.Fatalf("expected no ResponseRecord before warm-up elapses, got %d", len(it.FlaggedProcesses()))
	}

	time.Sleep(warmup + 50*time.Millisecond)

	for i := 10; i < 20; i++ {
		ts := time.Now()
		dst := filepath.Join(dir, fmt.Sprintf("file%d.txt.locked", i))
		it.OnEvent(events.FileEvent{Timestamp: ts, Kind: events.Rename, Path: dst})
	}
	if len(it.FlaggedProcesses()) == 0 {
		t.Errorf("expected a ResponseRecord once warm-up has elapsed and min_consecutive is reached")
	}
}
