package telemetry_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tokei-app/tokei/pkg/telemetry"
)

// Example_runInstrumentation shows how a run is wrapped in telemetry.
func Example_runInstrumentation() {
	dir, _ := os.MkdirTemp("", "tokei-telemetry")
	defer os.RemoveAll(dir)

	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "discard"
	cfg.Metrics.TextfilePath = filepath.Join(dir, "metrics.prom")

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}

	var types []string
	tel.Events.Subscribe(func(e telemetry.Event) {
		types = append(types, e.Type)
	}, nil)

	ctx := tel.WithContext(context.Background())
	ctx = telemetry.WithRunContext(ctx, "run-1", "run")
	_ = telemetry.RecordStep(ctx, "syncing", func(ctx context.Context) error {
		return nil
	})
	telemetry.EndRunContext(ctx, "run-1", "succeeded", 0, "done", nil)

	if err := tel.Shutdown(context.Background()); err != nil {
		panic(err)
	}

	_, statErr := os.Stat(cfg.Metrics.TextfilePath)
	fmt.Println(types, statErr == nil)
	// Output: [run.started run.completed] true
}
