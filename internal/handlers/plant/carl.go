package plant

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// Carl Carlson. Paperwork in order, Sector 7G kept off the tour.

type handleInspector struct{}

func (handleInspector) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	docs := []string{"safety_log", "compliance_cert", "incident_register", "maintenance_schedule"}
	for range docs {
		if err := work(ctx, 5*time.Millisecond, 15*time.Millisecond); err != nil {
			return nil, err
		}
	}
	return report(map[string]any{
		"task":                   "handle_inspector",
		"character":              "carl",
		"status":                 "completed",
		"message":                "Inspector visit handled. Sector 7G was NOT on the tour.",
		"documents_prepared":     len(docs),
		"inspector_satisfaction": pick("satisfied", "mostly satisfied"),
		"duration_ms":            since(start),
	})
}

type fileAfternoonReports struct{}

func (fileAfternoonReports) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	n := 3 + rand.Intn(4)
	for i := 0; i < n; i++ {
		if err := work(ctx, 3*time.Millisecond, 8*time.Millisecond); err != nil {
			return nil, err
		}
	}
	return report(map[string]any{
		"task":                 "file_afternoon_reports",
		"character":            "carl",
		"status":               "completed",
		"message":              fmt.Sprintf("Filed %d afternoon reports. All accounted for.", n),
		"reports_filed":        n,
		"homer_incident_noted": rand.Float64() < 0.4,
		"duration_ms":          since(start),
	})
}

type shiftHandoff struct{}

func (shiftHandoff) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	if err := work(ctx, 10*time.Millisecond, 30*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":            "shift_handoff",
		"character":       "carl",
		"status":          "completed",
		"message":         "Shift handoff checklist complete. Night crew briefed.",
		"items_handed_off": 8 + rand.Intn(5),
		"duration_ms":     since(start),
	})
}

type makeAnnouncement struct{}

func (makeAnnouncement) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	if err := work(ctx, 5*time.Millisecond, 20*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":      "make_announcement",
		"character": "carl",
		"status":    "completed",
		"message": pick(
			"Attention: Mr. Burns reminds you that lunch breaks are a privilege.",
			"Attention: mandatory fun day has been canceled.",
			"Attention: the smoking section is now the parking lot.",
		),
		"duration_ms": since(start),
	})
}

type morningBriefing struct{}

func (morningBriefing) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	if err := work(ctx, 10*time.Millisecond, 30*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":           "morning_briefing",
		"character":      "carl",
		"status":         "completed",
		"message":        "Morning briefing prepared for Mr. Burns. Excellent.",
		"agenda_items":   4 + rand.Intn(4),
		"duration_ms":    since(start),
	})
}

var carlSimActivities = []string{
	"Update personnel attendance log",
	"Process visitor badge request",
	"File quarterly compliance report",
	"Schedule conference room for safety meeting",
	"Order replacement PPE for Sector 7G",
	"Review overtime authorization requests",
	"Update emergency contact database",
	"Process equipment maintenance request",
	"Coordinate with external auditor",
	"Review training completion records",
	"Submit budget variance report",
	"Update organizational chart (again)",
	"Process Homer's 47th incident report this month",
	"Arrange catering for Burns' birthday",
	"File workers' compensation claim (Homer)",
	"Update parking lot assignment spreadsheet",
	"Schedule annual fire drill",
	"Process new hire orientation checklist",
	"Review and approve purchase orders",
	"Reconcile petty cash (missing $4.50, probably Homer)",
}

type carlSim struct{}

// Carl simulation: fast sequential work, 1% failure rate.
func (carlSim) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	activity := pickActivity(args, carlSimActivities)
	if err := work(ctx, 30*time.Millisecond, 100*time.Millisecond); err != nil {
		return nil, err
	}
	if rand.Float64() < 0.01 {
		return nil, fmt.Errorf("Carl encountered an issue: %s", activity)
	}
	return report(map[string]any{
		"task":        "carl_simulation",
		"character":   "carl",
		"status":      "completed",
		"activity":    activity,
		"duration_ms": since(start),
	})
}
