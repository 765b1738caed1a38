package plant

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Lenny Leonard. Fast, competent, actually reads the forms.

type runDiagnostics struct{}

func (runDiagnostics) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	systems := []string{"reactor_core", "cooling_loop", "turbine", "containment", "backup_power"}
	readings := make([]map[string]any, 0, len(systems))
	for _, name := range systems {
		if err := work(ctx, 5*time.Millisecond, 15*time.Millisecond); err != nil {
			return nil, err
		}
		readings = append(readings, map[string]any{
			"system":  name,
			"status":  "nominal",
			"reading": 95 + rand.Float64()*5,
		})
	}
	return report(map[string]any{
		"task":            "run_diagnostics",
		"character":       "lenny",
		"status":          "completed",
		"message":         "All reactor systems nominal. Lenny's got it covered.",
		"systems_checked": len(readings),
		"all_nominal":     true,
		"duration_ms":     since(start),
	})
}

type fileReport struct{}

func (fileReport) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	if err := work(ctx, 10*time.Millisecond, 30*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":        "file_report",
		"character":   "lenny",
		"status":      "completed",
		"message":     "Report filed. Unlike Homer, Lenny actually reads the forms.",
		"report_type": pick("safety", "maintenance", "incident", "shift summary"),
		"pages":       2 + rand.Intn(7),
		"duration_ms": since(start),
	})
}

type checkCoolingTower struct{}

func (checkCoolingTower) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	sensors := 6
	var totalTemp float64
	for i := 0; i < sensors; i++ {
		if err := work(ctx, 2*time.Millisecond, 8*time.Millisecond); err != nil {
			return nil, err
		}
		totalTemp += 35 + rand.Float64()*10
	}
	avg := totalTemp / float64(sensors)
	return report(map[string]any{
		"task":            "check_cooling_tower",
		"character":       "lenny",
		"status":          "completed",
		"message":         fmt.Sprintf("Cooling tower nominal. Avg temp: %.1f°C", avg),
		"sensors_read":    sensors,
		"avg_temperature": avg,
		"duration_ms":     since(start),
	})
}

type morningInspection struct{}

func (morningInspection) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	areas := []string{"sector_7g", "control_room", "turbine_hall", "cooling_tower"}
	homerSighting := false
	for _, area := range areas {
		if err := work(ctx, 5*time.Millisecond, 10*time.Millisecond); err != nil {
			return nil, err
		}
		if area == "control_room" && rand.Float64() < 0.5 {
			homerSighting = true
		}
	}
	return report(map[string]any{
		"task":            "morning_inspection",
		"character":       "lenny",
		"status":          "completed",
		"message":         "Morning inspection complete.",
		"areas_inspected": len(areas),
		"all_clear":       true,
		"homer_sighting":  homerSighting,
		"duration_ms":     since(start),
	})
}

type openPlant struct{}

func (openPlant) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	log.Info().Msg("Lenny: Opening the plant, reactor spinning up")
	if err := work(ctx, 50*time.Millisecond, 150*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":           "open_plant",
		"character":      "lenny",
		"status":         "completed",
		"message":        "Plant online. Reactor output nominal.",
		"reactor_output": fmt.Sprintf("%d MW", 900+rand.Intn(200)),
		"duration_ms":    since(start),
	})
}

type nightMaintenance struct{}

func (nightMaintenance) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	if err := work(ctx, 100*time.Millisecond, 300*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":            "night_maintenance",
		"character":       "lenny",
		"status":          "completed",
		"message":         "Night maintenance sweep done. Plant quiet.",
		"items_serviced":  3 + rand.Intn(6),
		"anomalies_found": 0,
		"duration_ms":     since(start),
	})
}

var lennySimActivities = []string{
	"Calibrate pressure gauge #47",
	"Log coolant temperature reading",
	"Update reactor output spreadsheet",
	"Review morning safety checklist",
	"Check fire extinguisher expiration dates",
	"Verify emergency exit signage",
	"Test backup generator startup sequence",
	"Inspect containment seal integrity",
	"Record turbine RPM fluctuations",
	"Swap out dosimeter badges",
	"File weekly radiation exposure report",
	"Restock first aid station",
	"Test emergency shower functionality",
	"Verify control rod insertion depth",
	"Update shift change log",
	"Check ventilation system filters",
	"Run steam pressure valve test",
	"Audit safety equipment inventory",
	"Calibrate Geiger counter #12",
	"Document Homer's latest safety violation",
}

type lennySim struct{}

// Lenny simulation: fast, 2% failure rate.
func (lennySim) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	activity := pickActivity(args, lennySimActivities)
	if err := work(ctx, 30*time.Millisecond, 100*time.Millisecond); err != nil {
		return nil, err
	}
	if rand.Float64() < 0.02 {
		return nil, fmt.Errorf("Lenny hit a snag: %s", activity)
	}
	return report(map[string]any{
		"task":        "lenny_simulation",
		"character":   "lenny",
		"status":      "completed",
		"activity":    activity,
		"duration_ms": since(start),
	})
}
