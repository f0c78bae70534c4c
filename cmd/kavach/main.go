package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kavach-r/internal/config"
	"kavach-r/pkg/baseline"
	"kavach-r/pkg/detector"
	"kavach-r/pkg/events"
	"kavach-r/pkg/features"
	"kavach-r/pkg/process"
	"kavach-r/pkg/risk"
	"kavach-r/pkg/telemetry"
	"kavach-r/pkg/trainer"
	"kavach-r/pkg/vault"
)

var (
	cfgFile string
	version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:     "kavach",
	Short:   "Behavioral ransomware early-warning detector",
	Long:    `Kavach-R watches a filesystem tree for ransomware-shaped behavior and flags or kills the responsible process before it finishes.`,
	Version: version,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Collect or synthesize benign samples and fit a baseline model",
	RunE:  runTrain,
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Load a trained model and run live detection",
	RunE:  runDetect,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")

	trainCmd.Flags().String("model-path", "", "output model file path")
	trainCmd.Flags().Duration("duration", 0, "live collection duration (0 uses config default)")
	trainCmd.Flags().Duration("window-size", 0, "sliding window size")
	trainCmd.Flags().Float64("contamination", 0, "IsolationForest contamination parameter")
	trainCmd.Flags().StringSlice("watch-paths", nil, "directories to watch while collecting")

	detectCmd.Flags().String("model-path", "", "trained model file path")
	detectCmd.Flags().Duration("window-size", 0, "sliding window size")
	detectCmd.Flags().Float64("threshold", 0, "detector anomaly threshold T")
	detectCmd.Flags().StringSlice("watch-paths", nil, "directories to watch")
	detectCmd.Flags().String("metrics-addr", "", "if set, serve Prometheus metrics on this address")

	rootCmd.AddCommand(trainCmd, detectCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if ctx.Err() != nil {
		os.Exit(130)
	}
	if err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("model-path"); v != "" {
		cfg.ModelPath = v
	}
	if v, _ := cmd.Flags().GetStringSlice("watch-paths"); len(v) > 0 {
		cfg.WatchPaths = v
	}
	if v, _ := cmd.Flags().GetDuration("window-size"); v > 0 {
		cfg.WindowSizeSec = v.Seconds()
	}
	return cfg, nil
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetDuration("duration"); v > 0 {
		cfg.TrainDurationSec = v.Seconds()
	}
	if v, _ := cmd.Flags().GetFloat64("contamination"); v > 0 {
		cfg.Contamination = v
	}

	fmt.Println("=== Kavach-R Training Mode ===")
	fmt.Printf("Duration : %.0fs\n", cfg.TrainDuration().Seconds())
	fmt.Printf("Window   : %.1fs\n", cfg.WindowSize().Seconds())
	fmt.Printf("Output   : %s\n", cfg.ModelPath)

	featureCfg := features.Config{SampleSize: cfg.SampleSize, MaxEntropyFiles: cfg.MaxEntropyFiles}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.TrainDuration())
	defer cancel()

	tr := trainer.New(trainer.Config{
		WatchPaths: cfg.WatchPaths,
		Recursive:  cfg.Recursive,
		Duration:   cfg.TrainDuration(),
		WindowSize: cfg.WindowSize(),
		FeatureCfg: featureCfg,
	})

	samples, err := tr.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "live collection unavailable (%v); falling back to synthetic samples\n", err)
	}
	if len(samples) == 0 {
		fmt.Println("no live samples collected; generating synthetic benign samples")
		samples = trainer.SyntheticBenign(200, cfg.Seed)
	}
	if len(samples) == 0 {
		return fmt.Errorf("no samples collected, cannot train")
	}

	model := baseline.New(cfg.Seed)
	if err := model.Train(samples, cfg.Contamination); err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	if err := model.Save(cfg.ModelPath); err != nil {
		return fmt.Errorf("saving model: %w", err)
	}
	meta := baseline.Metadata{
		NumTrees:      model.NumTrees,
		SubsampleSize: model.SubsampleSize,
		MaxDepth:      model.MaxDepth,
		Seed:          model.Seed,
		Contamination: model.Contamination,
		SampleCount:   len(samples),
		TrainedAt:     time.Now(),
	}
	if err := baseline.SaveMetadata(cfg.ModelPath, meta); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not write model metadata sidecar: %v\n", err)
	}
	fmt.Printf("model saved to %s (%d samples)\n", cfg.ModelPath, len(samples))
	return nil
}

func runDetect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetFloat64("threshold"); v != 0 {
		cfg.Threshold = v
	}
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	model := baseline.New(cfg.Seed)
	if err := model.Load(cfg.ModelPath); err != nil {
		return fmt.Errorf("loading model: %w", err)
	}

	fmt.Println("=== Kavach-R Detection Mode ===")
	fmt.Printf("Model    : %s\n", cfg.ModelPath)
	fmt.Printf("Window   : %.1fs\n", cfg.WindowSize().Seconds())
	fmt.Printf("Threshold: %.3f\n", cfg.Threshold)

	featureCfg := features.Config{SampleSize: cfg.SampleSize, MaxEntropyFiles: cfg.MaxEntropyFiles}
	det := detector.New(model, detector.Config{
		WindowSize: cfg.WindowSize(),
		Threshold:  cfg.Threshold,
		MinEvents:  cfg.MinEvents,
	}, featureCfg)

	integrator := risk.New(det, process.NewOSController(), risk.Config{
		WarmupSec:         cfg.WarmupSec,
		EMAAlphaFast:      cfg.EMAAlphaFast,
		EMAAlphaSlow:      cfg.EMAAlphaSlow,
		FlagThreshold:     cfg.FlagThreshold,
		CriticalThreshold: cfg.CriticalThreshold,
		MinConsecutive:    cfg.MinConsecutive,
		LogThrottleSec:    cfg.LogThrottleSec,
	})
	integrator.Start()

	v, err := vault.New(vault.Config{StoragePath: cfg.VaultPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "vault unavailable, responses will not be persisted: %v\n", err)
	}

	var metrics *telemetry.Metrics
	ctx := cmd.Context()
	if metricsAddr != "" {
		metrics = telemetry.New()
		go func() {
			if err := metrics.Serve(ctx, metricsAddr); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	storedRecords := 0
	lastAlertCount := 0
	callback := func(e events.FileEvent) {
		if metrics != nil {
			metrics.EventsTotal.Inc()
		}
		integrator.OnEvent(e)

		if metrics != nil {
			if n := integrator.AlertCount(); n > lastAlertCount {
				metrics.AlertsTotal.Add(float64(n - lastAlertCount))
				lastAlertCount = n
			}
		}

		riskScore, _ := integrator.RiskAndMetrics()
		if metrics != nil {
			metrics.RiskScore.Set(riskScore)
		}
		if v != nil {
			flagged := integrator.FlaggedProcesses()
			for _, rec := range flagged[storedRecords:] {
				if err := v.Store(rec); err == nil {
					if metrics != nil {
						metrics.ResponsesTotal.WithLabelValues(string(rec.Status)).Inc()
					}
				}
			}
			storedRecords = len(flagged)
		}
	}

	source, err := events.Start(callback, cfg.WatchPaths, cfg.Recursive)
	if err != nil {
		return fmt.Errorf("starting event source: %w", err)
	}
	defer source.Stop()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			integrator.Stop()
			return nil
		case <-ticker.C:
			r, m := integrator.RiskAndMetrics()
			fmt.Printf("risk=%.4f scenario=%v\n", r, m["scenario"])
		}
	}
}
