package scheduler

import (
	"context"
	"fmt"

	"github.com/lbedner/sector-7g/internal/config"
	"github.com/lbedner/sector-7g/internal/dispatch"
	"github.com/lbedner/sector-7g/internal/domain"
	"github.com/lbedner/sector-7g/internal/producer"
)

// Definitions builds the code-defined trigger set: the plant's daily timeline
// as cron triggers plus one interval simulation trigger per queue that has a
// producer profile. All cron times are plant-local (the scheduler location).
func Definitions(d *dispatch.Dispatcher, p *producer.Producer, cfg *config.Config) []Definition {
	defs := []Definition{
		cronDef("database_backup", "Daily Database Backup", 2, 0, d, "database_backup"),
		cronDef("burns_opens_plant", "Burns Opens Plant", 6, 0, d, "open_plant_task"),
		cronDef("smithers_morning_briefing", "Smithers Morning Briefing", 6, 30, d, "morning_briefing_task"),
		cronDef("lenny_carl_arrive", "Lenny & Carl Arrive", 7, 0, d, "morning_inspection_task", "run_diagnostics_task"),
		cronDef("homer_alarm_snooze", "Homer Alarm Snooze", 7, 45, d, "nap_at_console_task"),
		cronDef("homer_clocks_in", "Homer Clocks In (Late)", 8, 15, d, "clock_in_task"),
		cronDef("morning_donut_run", "Morning Donut Run", 8, 30, d, "eat_donut_task"),
		cronDef("sector_7g_inspection", "Sector 7G Inspection", 9, 0, d, "morning_inspection_task", "file_report_task"),
		cronDef("homer_descends_to_7g", "Homer Descends to 7G", 9, 45, d, "eat_donut_task"),
		cronDef("health_inspector_visit", "NRC Inspector Visit", 10, 0, d, "handle_inspector_task"),
		cronDef("homer_nap_attempt", "Homer Nap Attempt", 10, 30, d, "nap_at_console_task"),
		cronDef("burns_announcement", "Burns Announcement", 11, 30, d, "make_announcement_task"),
		cronDef("lunch_at_moes", "Lunch at Moe's", 12, 0, d, "go_to_moes_task"),
		cronDef("afternoon_diagnostics", "Afternoon Diagnostics", 13, 0, d, "run_diagnostics_task", "file_report_task"),
		cronDef("homer_safety_check", "Homer Safety Check", 14, 0, d, "attempt_safety_check_task"),
		cronDef("carl_files_reports", "Carl Files Reports", 15, 0, d, "file_afternoon_reports_task"),
		cronDef("cooling_tower_check", "Cooling Tower Check", 16, 0, d, "check_cooling_tower_task"),
		cronDef("homer_another_donut", "Homer Afternoon Donut", 16, 30, d, "eat_donut_task"),
		cronDef("end_of_shift", "End of Shift", 17, 0, d, "rush_out_task"),
		cronDef("evening_handoff", "Evening Shift Handoff", 17, 30, d, "shift_handoff_task"),
		cronDef("night_maintenance", "Night Maintenance", 22, 0, d, "night_maintenance_task"),
	}

	// Continuous simulation: interval triggers that keep the queues busy.
	// Homer gets more work than he can handle; everyone else clears fast.
	for _, q := range cfg.Queues {
		if q.Producer == nil {
			continue
		}
		pc := *q.Producer
		queue := q.Name
		defs = append(defs, Definition{
			Trigger: domain.Trigger{
				ID:           "sim_" + queue,
				Name:         fmt.Sprintf("%s simulation work", queue),
				Kind:         domain.TriggerInterval,
				EverySeconds: pc.EverySeconds,
				Task:         pc.Task,
				Coalesce:     true,
			},
			Fire: func(ctx context.Context) error {
				_, err := p.GenerateBatch(ctx, queue, pc.Task, pc.MinBatch, pc.MaxBatch, pc.DepthCap)
				return err
			},
		})
	}
	return defs
}

// cronDef builds a daily cron trigger that enqueues one or more tasks onto
// their registered queues, fire-and-forget.
func cronDef(id, name string, hour, minute int, d *dispatch.Dispatcher, tasks ...string) Definition {
	return Definition{
		Trigger: domain.Trigger{
			ID:       id,
			Name:     name,
			Kind:     domain.TriggerCron,
			Hour:     hour,
			Minute:   minute,
			Task:     tasks[0],
			Coalesce: true,
		},
		Fire: func(ctx context.Context) error {
			for _, task := range tasks {
				if _, err := d.Enqueue(ctx, task, nil, "", 0); err != nil {
					return fmt.Errorf("enqueue %s: %w", task, err)
				}
			}
			return nil
		},
	}
}
