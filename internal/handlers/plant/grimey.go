package plant

import (
	"context"
	"encoding/json"
	"time"
)

// Frank Grimes (deceased), Employee #4763. One ghost, one task at a time.
// Meticulous, thorough, zero failures. Works from beyond the grave.

var grimeySimActivities = []string{
	"Triple-check reactor coolant levels",
	"Re-file paperwork Homer misfiled",
	"Audit Sector 7G safety compliance line by line",
	"Polish the 'Worker of the Week' plaque he never got",
	"Document every single procedural violation",
	"Inspect welds on containment vessel, one by one",
	"Recalculate plant efficiency to four decimal places",
}

type grimeySim struct{}

// Grimey simulation: slow and meticulous, 0% failure rate. Frank Grimes
// does NOT fail.
func (grimeySim) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	activity := pickActivity(args, grimeySimActivities)
	if err := work(ctx, time.Second, 2*time.Second); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":        "grimey_simulation",
		"character":   "grimey",
		"status":      "completed",
		"activity":    activity,
		"employee_id": 4763,
		"duration_ms": since(start),
	})
}
