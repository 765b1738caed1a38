// Package plant implements the Springfield Nuclear Power Plant task handlers.
//
// Each character owns a queue with a deliberately different work profile:
// Homer is slow and unreliable so his backlog stays visible, Lenny and Carl
// clear fast, Grimey works one meticulous task at a time. Durations are
// scaled down from real shift lengths to keep the simulation lively.
package plant

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/lbedner/sector-7g/internal/registry"
)

// Register wires every plant task into the registry with its owning queue.
// Called once at startup, before the registry freezes.
func Register(r *registry.Registry) {
	// Homer tasks
	r.Register("eat_donut_task", eatDonut{}, "homer")
	r.Register("nap_at_console_task", napAtConsole{}, "homer")
	r.Register("attempt_safety_check_task", attemptSafetyCheck{}, "homer")
	r.Register("clock_in_task", clockIn{}, "homer")
	r.Register("go_to_moes_task", goToMoes{}, "homer")
	r.Register("rush_out_task", rushOut{}, "homer")
	r.Register("homer_sim_task", homerSim{}, "homer")

	// Lenny tasks
	r.Register("run_diagnostics_task", runDiagnostics{}, "lenny")
	r.Register("file_report_task", fileReport{}, "lenny")
	r.Register("check_cooling_tower_task", checkCoolingTower{}, "lenny")
	r.Register("morning_inspection_task", morningInspection{}, "lenny")
	r.Register("open_plant_task", openPlant{}, "lenny")
	r.Register("night_maintenance_task", nightMaintenance{}, "lenny")
	r.Register("lenny_sim_task", lennySim{}, "lenny")

	// Carl tasks
	r.Register("handle_inspector_task", handleInspector{}, "carl")
	r.Register("file_afternoon_reports_task", fileAfternoonReports{}, "carl")
	r.Register("shift_handoff_task", shiftHandoff{}, "carl")
	r.Register("make_announcement_task", makeAnnouncement{}, "carl")
	r.Register("morning_briefing_task", morningBriefing{}, "carl")
	r.Register("carl_sim_task", carlSim{}, "carl")

	// Charlie tasks
	r.Register("monitor_gauges_task", monitorGauges{}, "charlie")
	r.Register("restock_break_room_task", restockBreakRoom{}, "charlie")
	r.Register("log_shift_notes_task", logShiftNotes{}, "charlie")
	r.Register("check_emergency_exits_task", checkEmergencyExits{}, "charlie")
	r.Register("charlie_sim_task", charlieSim{}, "charlie")

	// Inanimate Rod: system maintenance plus simulation
	r.Register("system_health_check", systemHealthCheck{}, "inanimate_rod")
	r.Register("cleanup_temp_files", cleanupTempFiles{}, "inanimate_rod")
	r.Register("database_backup", databaseBackup{}, "inanimate_rod")
	r.Register("inanimate_rod_sim_task", rodSim{}, "inanimate_rod")

	// Grimey
	r.Register("grimey_sim_task", grimeySim{}, "grimey")
}

// simArgs lets callers pin a specific activity instead of a random one.
type simArgs struct {
	Activity string `json:"activity"`
}

func pickActivity(args json.RawMessage, activities []string) string {
	var a simArgs
	if len(args) > 0 {
		_ = json.Unmarshal(args, &a)
	}
	if a.Activity != "" {
		return a.Activity
	}
	return activities[rand.Intn(len(activities))]
}

// work sleeps a random duration in [min, max], honoring cancellation.
func work(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func report(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func pick(options ...string) string {
	return options[rand.Intn(len(options))]
}

func since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
