package plant

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Homer Simpson, Safety Inspector Sector 7G. Slow tasks, real failure rate.

type eatDonut struct{}

func (eatDonut) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	log.Info().Msg("Homer: Mmm... donuts...")

	// Homer savors every bite. A little fibonacci keeps the CPU warm.
	n := 800 + rand.Intn(400)
	a, b := 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	if err := work(ctx, 200*time.Millisecond, 500*time.Millisecond); err != nil {
		return nil, err
	}

	return report(map[string]any{
		"task":      "eat_donut",
		"character": "homer",
		"status":    "completed",
		"message":   "Mmm... donuts...",
		"donut_type": pick("pink sprinkled", "chocolate glazed", "jelly filled",
			"maple bar", "cruller", "boston cream"),
		"fibonacci_n": n,
		"duration_ms": since(start),
	})
}

type napAtConsole struct{}

func (napAtConsole) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	log.Info().Msg("Homer: *snoring at console*")

	if err := work(ctx, 300*time.Millisecond, 800*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":                   "nap_at_console",
		"character":              "homer",
		"status":                 "completed",
		"message":                fmt.Sprintf("Homer napping at Sector 7G console. %s", pick("Zzzzz...", "Hrrrnk... zzz...", "*drool*")),
		"warning_lights_ignored": 1 + rand.Intn(12),
		"duration_ms":            since(start),
	})
}

type attemptSafetyCheck struct{}

func (attemptSafetyCheck) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	log.Info().Msg("Homer: Safety check? D'oh!")

	if err := work(ctx, 200*time.Millisecond, 500*time.Millisecond); err != nil {
		return nil, err
	}

	// 30% chance he actually does it.
	passed := rand.Float64() < 0.3
	message := "Homer checked 'all clear' without looking. Classic Homer."
	checked := 0
	if passed {
		message = "Homer somehow passed the safety check. Mr. Burns is suspicious."
		checked = 1 + rand.Intn(3)
	}
	return report(map[string]any{
		"task":                  "attempt_safety_check",
		"character":             "homer",
		"status":                "completed",
		"passed":                passed,
		"message":               message,
		"items_actually_checked": checked,
		"duration_ms":           since(start),
	})
}

type clockIn struct{}

func (clockIn) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	log.Info().Msg("Homer: Where's my badge? D'oh!")

	if err := work(ctx, 200*time.Millisecond, 400*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":         "clock_in",
		"character":    "homer",
		"status":       "completed",
		"message":      "Homer clocked in. Only 15 minutes late (personal best).",
		"minutes_late": 10 + rand.Intn(36),
		"badge_found_in": pick("car seat", "donut box", "pants pocket",
			"Bart's backpack", "under the couch"),
		"duration_ms": since(start),
	})
}

type goToMoes struct{}

func (goToMoes) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	log.Info().Msg("Homer: Moe's Tavern, here I come!")

	if err := work(ctx, 500*time.Millisecond, time.Second); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":           "go_to_moes",
		"character":      "homer",
		"status":         "completed",
		"message":        "Homer returned from Moe's. Smells like Duff.",
		"duffs_consumed": 2 + rand.Intn(5),
		"bar_tab":        8.50 + rand.Float64()*15.50,
		"duration_ms":    since(start),
	})
}

type rushOut struct{}

func (rushOut) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	log.Info().Msg("Homer: Woohoo! Quitting time!")

	// Homer is VERY efficient at leaving.
	if err := work(ctx, 10*time.Millisecond, 50*time.Millisecond); err != nil {
		return nil, err
	}
	return report(map[string]any{
		"task":              "rush_out",
		"character":         "homer",
		"status":            "completed",
		"message":           "Homer left the building in record time. Tire marks in parking lot.",
		"exit_speed":        "maximum",
		"items_left_behind": pick("lunch box", "hard hat", "dignity", "safety manual"),
		"duration_ms":       since(start),
	})
}

var homerSimActivities = []string{
	"Press random buttons on console",
	"Read donut catalog instead of safety manual",
	"Google 'is plutonium spicy'",
	"Hide Duff beer in filing cabinet",
	"Practice bowling swing in control room",
	"Call Marge to complain about work",
	"Doodle on reactor schematics",
	"Microwave fish in the break room",
	"Try to remember nuclear safety protocol",
	"Argue with vending machine",
	"Fall asleep during safety briefing",
	"Photocopy face on office copier",
	"Build donut tower on control panel",
	"Watch Itchy & Scratchy on work computer",
	"Accidentally vent steam from cooling tower",
	"Blame Lenny for missing paperwork",
	"Eat lunch at 9:30 AM",
	"Lock keys inside reactor containment",
	"Use safety checklist as napkin",
	"Ask Smithers what all the blinking lights mean",
}

type homerSim struct{}

// Homer simulation: slow, 25% failure rate. He is not good at his job.
func (homerSim) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	start := time.Now()
	activity := pickActivity(args, homerSimActivities)
	log.Info().Str("activity", activity).Msg("Homer (sim)")

	if err := work(ctx, 600*time.Millisecond, 1200*time.Millisecond); err != nil {
		return nil, err
	}
	if rand.Float64() < 0.25 {
		return nil, fmt.Errorf("D'oh! Homer failed: %s", activity)
	}
	return report(map[string]any{
		"task":        "homer_simulation",
		"character":   "homer",
		"status":      "completed",
		"activity":    activity,
		"duration_ms": since(start),
	})
}
