package plant

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// Charlie. Routine but attentive; the plant runs because of people like him.

type monitorGauges struct{}

func (monitorGauges) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	gauges := 8 + rand.Intn(5)
	for i := 0; i < gauges; i++ {
		if err := work(ctx, 2*time.Millisecond, 6*time.Millisecond); err != nil {
			return nil, err
		}
	}
	return report(map[string]any{
		"task":         "monitor_gauges",
		"character":    "charlie",
		"status":       "completed",
		"message":      "Control room gauges monitored. All within tolerance.",
		"gauges_read":  gauges,
		"out_of_range": 0,
		"duration_ms":  since(start),
	})
}

type restockBreakRoom struct{}

func (restockBreakRoom) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	items := []string{"coffee", "sugar", "paper cups", "napkins", "creamer"}
	restocked := items[:2+rand.Intn(len(items)-1)]
	if err := work(ctx, 20*time.Millisecond, 60*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":            "restock_break_room",
		"character":       "charlie",
		"status":          "completed",
		"message":         fmt.Sprintf("Break room restocked. %d items replenished.", len(restocked)),
		"items_restocked": restocked,
		"duration_ms":     since(start),
	})
}

type logShiftNotes struct{}

func (logShiftNotes) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	if err := work(ctx, 10*time.Millisecond, 30*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":          "log_shift_notes",
		"character":     "charlie",
		"status":        "completed",
		"message":       "Shift notes logged. Diligent as always.",
		"notes_written": 2 + rand.Intn(4),
		"duration_ms":   since(start),
	})
}

type checkEmergencyExits struct{}

func (checkEmergencyExits) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	exits := 6
	for i := 0; i < exits; i++ {
		if err := work(ctx, 3*time.Millisecond, 8*time.Millisecond); err != nil {
			return nil, err
		}
	}
	return report(map[string]any{
		"task":          "check_emergency_exits",
		"character":     "charlie",
		"status":        "completed",
		"message":       "All emergency exits clear. Safety first.",
		"exits_checked": exits,
		"blocked":       0,
		"duration_ms":   since(start),
	})
}

var charlieSimActivities = []string{
	"Refill coffee pot in break room",
	"Replace burnt-out hallway light",
	"Sweep up donut crumbs from Sector 7G",
	"Fix paper jam in copy machine",
	"Water the office plants",
	"Tape up motivational poster Homer ripped",
	"Unclog break room sink",
	"Sort incoming mail for the floor",
	"Update safety board tally (days without incident: 0)",
	"Move Homer's car out of fire lane",
	"Report pothole in parking lot B",
	"Wipe down control room consoles",
	"Reset tripped circuit breaker in hallway",
	"Collect Homer's forgotten lunch box",
}

type charlieSim struct{}

// Charlie simulation: moderate speed, 3% failure rate.
func (charlieSim) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	activity := pickActivity(args, charlieSimActivities)
	if err := work(ctx, 50*time.Millisecond, 200*time.Millisecond); err != nil {
		return nil, err
	}
	if rand.Float64() < 0.03 {
		return nil, fmt.Errorf("Charlie ran into trouble: %s", activity)
	}
	return report(map[string]any{
		"task":        "charlie_simulation",
		"character":   "charlie",
		"status":      "completed",
		"activity":    activity,
		"duration_ms": since(start),
	})
}
