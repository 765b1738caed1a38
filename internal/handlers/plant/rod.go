package plant

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"runtime"
	"time"
)

// The Inanimate Carbon Rod. Steady, reliable, twice employee of the month.
// Also carries the unglamorous system maintenance work.

type systemHealthCheck struct{}

func (systemHealthCheck) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	if err := work(ctx, 10*time.Millisecond, 40*time.Millisecond); err != nil {
		return nil, err
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return report(map[string]any{
		"task":            "system_health_check",
		"character":       "inanimate_rod",
		"status":          "completed",
		"message":         "System health nominal. In Rod we trust.",
		"goroutines":      runtime.NumGoroutine(),
		"heap_alloc_mb":   float64(mem.HeapAlloc) / (1 << 20),
		"duration_ms":     since(start),
	})
}

type cleanupTempFiles struct{}

func (cleanupTempFiles) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	if err := work(ctx, 20*time.Millisecond, 80*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":          "cleanup_temp_files",
		"character":     "inanimate_rod",
		"status":        "completed",
		"message":       "Temporary files swept.",
		"files_removed": rand.Intn(20),
		"duration_ms":   since(start),
	})
}

type databaseBackup struct{}

func (databaseBackup) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	if err := work(ctx, 100*time.Millisecond, 400*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":        "database_backup",
		"character":   "inanimate_rod",
		"status":      "completed",
		"message":     "Nightly database backup complete.",
		"size_mb":     10 + rand.Float64()*90,
		"duration_ms": since(start),
	})
}

var rodSimActivities = []string{
	"Remain perfectly still in control rod slot 7",
	"Absorb neutrons without complaint",
	"Win Employee of the Month (again)",
	"Hold elevator door open for Smithers",
	"Prop open the turbine hall door",
	"Serve as paperweight for Carl's reports",
	"Stabilize wobbly break room table",
}

type rodSim struct{}

// Rod simulation: steady, 1% failure rate. Very reliable.
func (rodSim) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	activity := pickActivity(args, rodSimActivities)
	if err := work(ctx, 50*time.Millisecond, 200*time.Millisecond); err != nil {
		return nil, err
	}
	if rand.Float64() < 0.01 {
		return nil, fmt.Errorf("In Rod we trust, but: %s", activity)
	}
	return report(map[string]any{
		"task":        "inanimate_rod_simulation",
		"character":   "inanimate_rod",
		"status":      "completed",
		"activity":    activity,
		"duration_ms": since(start),
	})
}
