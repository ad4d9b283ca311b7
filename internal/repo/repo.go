package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"affiliates/internal/domain"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() string {
	if r.Now != nil {
		return r.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

const affiliateColumns = `id,label,kind,enabled,weight,settings_json,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAffiliateConfig(row rowScanner) (domain.AffiliateConfig, error) {
	var (
		cfg      domain.AffiliateConfig
		enabled  int
		settings string
	)
	if err := row.Scan(&cfg.ID, &cfg.Label, &cfg.Kind, &enabled, &cfg.Weight, &settings, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return cfg, ErrNotFound
		}
		return cfg, err
	}
	cfg.Enabled = enabled != 0
	cfg.Settings = map[string]any{}
	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &cfg.Settings); err != nil {
			return cfg, fmt.Errorf("decode settings of %s: %w", cfg.ID, err)
		}
	}
	return cfg, nil
}

// ListAffiliateConfigs returns every config in storage order: weight, then creation
// time, then id.
func (r Repo) ListAffiliateConfigs(ctx context.Context) ([]domain.AffiliateConfig, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+affiliateColumns+` FROM affiliate_configs ORDER BY weight ASC, created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AffiliateConfig
	for rows.Next() {
		cfg, err := scanAffiliateConfig(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, cfg)
	}
	return res, rows.Err()
}

func (r Repo) GetAffiliateConfig(ctx context.Context, id string) (domain.AffiliateConfig, error) {
	return scanAffiliateConfig(r.DB.QueryRowContext(ctx, `SELECT `+affiliateColumns+` FROM affiliate_configs WHERE id=?`, id))
}

// UpsertAffiliateConfig inserts or replaces cfg. Settings must already be validated.
// The creation time of an existing row is kept.
func (r Repo) UpsertAffiliateConfig(ctx context.Context, cfg domain.AffiliateConfig) (domain.AffiliateConfig, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return cfg, errors.New("id required")
	}
	if cfg.Settings == nil {
		cfg.Settings = map[string]any{}
	}
	settings, err := json.Marshal(cfg.Settings)
	if err != nil {
		return cfg, fmt.Errorf("encode settings: %w", err)
	}
	ts := r.now()
	if cfg.CreatedAt == "" {
		cfg.CreatedAt = ts
	}
	cfg.UpdatedAt = ts
	_, err = r.DB.ExecContext(ctx, `INSERT INTO affiliate_configs(`+affiliateColumns+`) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET label=excluded.label, kind=excluded.kind, enabled=excluded.enabled, weight=excluded.weight, settings_json=excluded.settings_json, updated_at=excluded.updated_at`,
		cfg.ID, cfg.Label, cfg.Kind, boolInt(cfg.Enabled), cfg.Weight, string(settings), cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return cfg, err
	}
	return r.GetAffiliateConfig(ctx, cfg.ID)
}

// SetAffiliateEnabled toggles a config without touching its settings.
func (r Repo) SetAffiliateEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE affiliate_configs SET enabled=?, updated_at=? WHERE id=?`, boolInt(enabled), r.now(), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAffiliateConfig(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM affiliate_configs WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DispatchFilters narrows LatestDispatches.
type DispatchFilters struct {
	Limit       int
	OrderNumber string
	AffiliateID string
	Operation   string
}

// LatestDispatches returns dispatch records, newest first.
func (r Repo) LatestDispatches(ctx context.Context, f DispatchFilters) ([]domain.DispatchRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.OrderNumber != "" {
		clauses = append(clauses, "order_number=?")
		args = append(args, f.OrderNumber)
	}
	if f.AffiliateID != "" {
		clauses = append(clauses, "affiliate_id=?")
		args = append(args, f.AffiliateID)
	}
	if f.Operation != "" {
		clauses = append(clauses, "operation=?")
		args = append(args, f.Operation)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,operation,event_type,order_number,affiliate_id,kind,outcome,COALESCE(status_code,0),COALESCE(detail,'') FROM dispatches %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DispatchRecord
	for rows.Next() {
		var d domain.DispatchRecord
		if err := rows.Scan(&d.ID, &d.TS, &d.Operation, &d.EventType, &d.OrderNumber, &d.AffiliateID, &d.Kind, &d.Outcome, &d.StatusCode, &d.Detail); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
