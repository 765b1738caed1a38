package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lbedner/sector-7g/internal/domain"
)

// GetTrigger returns the durable definition for id, or ErrNoTrigger.
func (s *Store) GetTrigger(ctx context.Context, id string) (domain.Trigger, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id,name,kind,hour,minute,every_seconds,task,coalesce_missed,last_fire,next_fire
FROM triggers WHERE id=?`, id)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return domain.Trigger{}, ErrNoTrigger
	}
	return t, err
}

// InsertTrigger writes a new trigger definition.
func (s *Store) InsertTrigger(ctx context.Context, t domain.Trigger) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO triggers (id,name,kind,hour,minute,every_seconds,task,coalesce_missed,next_fire)
VALUES (?,?,?,?,?,?,?,?,?)
`, t.ID, t.Name, string(t.Kind), t.Hour, t.Minute, t.EverySeconds, t.Task, t.Coalesce, t.NextFire.UTC())
	return err
}

// OverwriteTrigger replaces the stored definition with the code-defined one.
// Firing history (last_fire) is preserved.
func (s *Store) OverwriteTrigger(ctx context.Context, t domain.Trigger) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE triggers
SET name=?, kind=?, hour=?, minute=?, every_seconds=?, task=?, coalesce_missed=?, next_fire=?, updated_at=CURRENT_TIMESTAMP
WHERE id=?
`, t.Name, string(t.Kind), t.Hour, t.Minute, t.EverySeconds, t.Task, t.Coalesce, t.NextFire.UTC(), t.ID)
	return err
}

// ListTriggers returns all durable trigger definitions ordered by next fire.
func (s *Store) ListTriggers(ctx context.Context) ([]domain.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,name,kind,hour,minute,every_seconds,task,coalesce_missed,last_fire,next_fire
FROM triggers ORDER BY next_fire, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// UpdateTriggerFire persists one firing: this write is what makes the firing
// exactly-once across restarts.
func (s *Store) UpdateTriggerFire(ctx context.Context, id string, lastFire, nextFire time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE triggers SET last_fire=?, next_fire=?, updated_at=CURRENT_TIMESTAMP WHERE id=?
`, lastFire.UTC(), nextFire.UTC(), id)
	return err
}

func scanTrigger(row rowScanner) (domain.Trigger, error) {
	var (
		t        domain.Trigger
		kind     string
		lastFire sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Name, &kind, &t.Hour, &t.Minute, &t.EverySeconds,
		&t.Task, &t.Coalesce, &lastFire, &t.NextFire)
	if err != nil {
		return domain.Trigger{}, err
	}
	t.Kind = domain.TriggerKind(kind)
	if lastFire.Valid {
		v := lastFire.Time
		t.LastFire = &v
	}
	return t, nil
}
