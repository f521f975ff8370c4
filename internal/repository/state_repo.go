package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"nutrient_mixer/internal/models"
)

// DeviceStateSQLite keeps one JSON row per device in device_state.
type DeviceStateSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewDeviceStateSQLite(db *sql.DB) *DeviceStateSQLite {
	return &DeviceStateSQLite{db: db, now: time.Now}
}

const (
	kindRelay = "relay"
	kindPump  = "pump"
	kindFlow  = "flow"

	upsertDeviceStateSQL = `
		INSERT INTO device_state (kind, device_id, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, device_id) DO UPDATE SET
			state=excluded.state,
			updated_at=excluded.updated_at
	`

	selectDeviceStateSQL = `SELECT state FROM device_state WHERE kind = ? ORDER BY device_id ASC`
)

func (r *DeviceStateSQLite) save(ctx context.Context, kind string, id int, state any) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s %d: %w", kind, id, err)
	}
	if _, err := r.db.ExecContext(ctx, upsertDeviceStateSQL, kind, id, string(b), r.now().UTC()); err != nil {
		return fmt.Errorf("save %s %d: %w", kind, id, err)
	}
	return nil
}

func (r *DeviceStateSQLite) SaveRelay(ctx context.Context, s models.RelayState) error {
	return r.save(ctx, kindRelay, s.ID, s)
}

func (r *DeviceStateSQLite) SavePump(ctx context.Context, s models.PumpState) error {
	return r.save(ctx, kindPump, s.ID, s)
}

func (r *DeviceStateSQLite) SaveFlow(ctx context.Context, s models.FlowMeterState) error {
	return r.save(ctx, kindFlow, s.ID, s)
}

func (r *DeviceStateSQLite) LoadRelays(ctx context.Context) ([]models.RelayState, error) {
	return load[models.RelayState](ctx, r.db, kindRelay)
}

func (r *DeviceStateSQLite) LoadPumps(ctx context.Context) ([]models.PumpState, error) {
	return load[models.PumpState](ctx, r.db, kindPump)
}

func (r *DeviceStateSQLite) LoadFlowMeters(ctx context.Context) ([]models.FlowMeterState, error) {
	return load[models.FlowMeterState](ctx, r.db, kindFlow)
}

// load decodes every row of kind. An empty table yields an empty slice.
func load[T any](ctx context.Context, db *sql.DB, kind string) ([]T, error) {
	rows, err := db.QueryContext(ctx, selectDeviceStateSQL, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s state: %w", kind, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s state: %w", kind, err)
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s state: %w", kind, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s state: %w", kind, err)
	}
	return out, nil
}
