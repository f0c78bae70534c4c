// Package detector orchestrates the window buffer, feature engine, and
// baseline model into a stateful, side-effect-free anomaly detector.
package detector

import (
	"time"

	"kavach-r/pkg/baseline"
	"kavach-r/pkg/events"
	"kavach-r/pkg/features"
	"kavach-r/pkg/window"
)

// Alert is a raw, unconfirmed detection produced when a feature vector
// scores below the configured threshold. It carries no response
// decision — that belongs entirely to the RiskIntegrator.
type Alert struct {
	RawScore  float64
	Features  features.Vector
	PID       *int
	Timestamp time.Time
}

// Config holds the Detector's runtime parameters. Threshold is a
// property of the Detector, not the BaselineModel: the model only
// reports raw scores.
type Config struct {
	WindowSize time.Duration
	Threshold  float64
	MinEvents  int
}

// Detector ties together a WindowBuffer, FeatureEngine, and BaselineModel.
// It is side-effect-free with respect to response actions: it never kills
// a process and never logs above a warning. It is not safe for concurrent
// Process calls — callers drive it from a single event consumer, so this
// is never required.
type Detector struct {
	buffer       *window.Buffer
	engine       *features.Engine
	model        *baseline.Model
	threshold    float64
	minEvents    int
	lastFeatures features.Vector
}

// New constructs a Detector. model must already be trained or loaded.
func New(model *baseline.Model, cfg Config, featureCfg features.Config) *Detector {
	minEvents := cfg.MinEvents
	if minEvents <= 0 {
		minEvents = 5
	}
	return &Detector{
		buffer:    window.New(cfg.WindowSize),
		engine:    features.New(featureCfg),
		model:     model,
		threshold: cfg.Threshold,
		minEvents: minEvents,
	}
}

// Process ingests a single event and returns an Alert if the resulting
// window's feature vector scores below the threshold. Returns (nil,
// false) when there isn't yet enough data (buffer smaller than
// MinEvents) or when the score is not anomalous.
func (d *Detector) Process(e events.FileEvent) (*Alert, bool) {
	d.buffer.Push(e)

	if d.buffer.Len() < d.minEvents {
		return nil, false
	}

	v := d.engine.Extract(d.buffer.Snapshot())
	d.lastFeatures = v
	s := d.model.Score(v)

	if s < d.threshold {
		return &Alert{
			RawScore:  s,
			Features:  v,
			PID:       e.PID,
			Timestamp: e.Timestamp,
		}, true
	}
	return nil, false
}

// Reset clears the sliding window, used when an Integrator restarts a scan.
func (d *Detector) Reset() {
	d.buffer.Clear()
	d.lastFeatures = features.Vector{}
}

// LastFeatures returns the feature vector computed on the most recent
// Process call that had enough buffered events to extract one — updated
// every call, independent of whether that call produced an Alert.
func (d *Detector) LastFeatures() features.Vector {
	return d.lastFeatures
}

// Threshold returns the configured anomaly threshold T.
func (d *Detector) Threshold() float64 {
	return d.threshold
}
