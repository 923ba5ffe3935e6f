// Package sqlite implements core.Store and lock.RowStore against an
// embedded SQLite database, for the Lite deployment profile: single-node,
// no external dependencies, development and small-scale production.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scalepilot/autoscale/internal/core"
)

// Store is a core.Store and lock.RowStore backed by *sql.DB over
// modernc.org/sqlite. JSON columns are stored as TEXT (SQLite has no jsonb
// type) and timestamps as Unix milliseconds (INTEGER), mirroring the
// postgres backend's schema under SQLite's type affinities.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (creating if absent) the database file at path, with WAL mode
// and foreign keys enabled.
func New(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	logger.Info("sqlite store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (s *Store) CreateGroup(ctx context.Context, group core.ScalingGroup, state core.GroupState) error {
	groupConfig, err := json.Marshal(group.GroupConfig)
	if err != nil {
		return fmt.Errorf("marshal group config: %w", err)
	}
	launchConfig, err := json.Marshal(group.LaunchConfig)
	if err != nil {
		return fmt.Errorf("marshal launch config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO scaling_group (tenant_id, group_id, group_config, launch_config, created_at)
VALUES (?, ?, ?, ?, ?)`,
		group.TenantID, group.GroupID, string(groupConfig), string(launchConfig), toMillis(group.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert scaling_group: %w", err)
	}

	if err := insertState(ctx, tx, state); err != nil {
		return err
	}
	return tx.Commit()
}

func insertState(ctx context.Context, tx *sql.Tx, state core.GroupState) error {
	active, pending, touched, err := marshalState(state)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO scaling_group_state (tenant_id, group_id, active, pending, group_touched, policy_touched, paused)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		state.TenantID, state.GroupID, active, pending, toMillis(state.GroupTouched), touched, state.Paused)
	if err != nil {
		return fmt.Errorf("insert scaling_group_state: %w", err)
	}
	return nil
}

func marshalState(state core.GroupState) (active, pending, policyTouched string, err error) {
	a, err := json.Marshal(state.Active)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal active: %w", err)
	}
	p, err := json.Marshal(state.Pending)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal pending: %w", err)
	}
	t, err := json.Marshal(state.PolicyTouched)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal policy_touched: %w", err)
	}
	return string(a), string(p), string(t), nil
}

func (s *Store) ViewManifest(ctx context.Context, tenantID, groupID string) (core.ScalingGroup, core.GroupState, error) {
	cfg, err := s.ViewConfig(ctx, tenantID, groupID)
	if err != nil {
		return core.ScalingGroup{}, core.GroupState{}, err
	}
	launchConfig, err := s.ViewLaunchConfig(ctx, tenantID, groupID)
	if err != nil {
		return core.ScalingGroup{}, core.GroupState{}, err
	}

	var createdAt int64
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM scaling_group WHERE tenant_id = ? AND group_id = ?`,
		tenantID, groupID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ScalingGroup{}, core.GroupState{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	if err != nil {
		return core.ScalingGroup{}, core.GroupState{}, fmt.Errorf("select created_at: %w", err)
	}

	state, err := s.ViewState(ctx, tenantID, groupID)
	if err != nil {
		return core.ScalingGroup{}, core.GroupState{}, err
	}

	return core.ScalingGroup{
		TenantID:     tenantID,
		GroupID:      groupID,
		GroupConfig:  cfg,
		LaunchConfig: launchConfig,
		CreatedAt:    fromMillis(createdAt),
	}, state, nil
}

func (s *Store) ViewConfig(ctx context.Context, tenantID, groupID string) (core.GroupConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT group_config FROM scaling_group WHERE tenant_id = ? AND group_id = ?`,
		tenantID, groupID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.GroupConfig{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	if err != nil {
		return core.GroupConfig{}, fmt.Errorf("select group_config: %w", err)
	}
	var cfg core.GroupConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return core.GroupConfig{}, fmt.Errorf("unmarshal group_config: %w", err)
	}
	return cfg, nil
}

func (s *Store) ViewLaunchConfig(ctx context.Context, tenantID, groupID string) (core.LaunchConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT launch_config FROM scaling_group WHERE tenant_id = ? AND group_id = ?`,
		tenantID, groupID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LaunchConfig{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	if err != nil {
		return core.LaunchConfig{}, fmt.Errorf("select launch_config: %w", err)
	}
	var cfg core.LaunchConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return core.LaunchConfig{}, fmt.Errorf("unmarshal launch_config: %w", err)
	}
	return cfg, nil
}

func (s *Store) ViewState(ctx context.Context, tenantID, groupID string) (core.GroupState, error) {
	var activeRaw, pendingRaw, touchedRaw string
	var groupTouched int64
	var paused bool

	err := s.db.QueryRowContext(ctx, `
SELECT active, pending, group_touched, policy_touched, paused
FROM scaling_group_state WHERE tenant_id = ? AND group_id = ?`,
		tenantID, groupID).Scan(&activeRaw, &pendingRaw, &groupTouched, &touchedRaw, &paused)
	if errors.Is(err, sql.ErrNoRows) {
		return core.GroupState{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	if err != nil {
		return core.GroupState{}, fmt.Errorf("select scaling_group_state: %w", err)
	}

	state := core.GroupState{TenantID: tenantID, GroupID: groupID, GroupTouched: fromMillis(groupTouched), Paused: paused}
	if err := json.Unmarshal([]byte(activeRaw), &state.Active); err != nil {
		return core.GroupState{}, fmt.Errorf("unmarshal active: %w", err)
	}
	if err := json.Unmarshal([]byte(pendingRaw), &state.Pending); err != nil {
		return core.GroupState{}, fmt.Errorf("unmarshal pending: %w", err)
	}
	if err := json.Unmarshal([]byte(touchedRaw), &state.PolicyTouched); err != nil {
		return core.GroupState{}, fmt.Errorf("unmarshal policy_touched: %w", err)
	}
	return state, nil
}

func (s *Store) UpdateConfig(ctx context.Context, tenantID, groupID string, cfg core.GroupConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal group config: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE scaling_group SET group_config = ? WHERE tenant_id = ? AND group_id = ?`,
		string(raw), tenantID, groupID)
	if err != nil {
		return fmt.Errorf("update group_config: %w", err)
	}
	return requireAffected(res, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID})
}

func (s *Store) UpdateLaunchConfig(ctx context.Context, tenantID, groupID string, cfg core.LaunchConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal launch config: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE scaling_group SET launch_config = ? WHERE tenant_id = ? AND group_id = ?`,
		string(raw), tenantID, groupID)
	if err != nil {
		return fmt.Errorf("update launch_config: %w", err)
	}
	return requireAffected(res, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID})
}

func (s *Store) UpdateState(ctx context.Context, state core.GroupState) error {
	active, pending, touched, err := marshalState(state)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE scaling_group_state SET active = ?, pending = ?, group_touched = ?, policy_touched = ?, paused = ?
WHERE tenant_id = ? AND group_id = ?`,
		active, pending, toMillis(state.GroupTouched), touched, state.Paused, state.TenantID, state.GroupID)
	if err != nil {
		return fmt.Errorf("update scaling_group_state: %w", err)
	}
	return requireAffected(res, &core.NoSuchScalingGroupError{TenantID: state.TenantID, GroupID: state.GroupID})
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, tenantID, groupID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scaling_group WHERE tenant_id = ? AND group_id = ?`, tenantID, groupID)
	if err != nil {
		return fmt.Errorf("delete scaling_group: %w", err)
	}
	return requireAffected(res, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID})
}

func (s *Store) ListPolicies(ctx context.Context, tenantID, groupID string, page core.Page) ([]core.Policy, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT tenant_id, group_id, policy_id, name, cooldown, type, adjustment, args, created_at
FROM scaling_policy
WHERE tenant_id = ? AND group_id = ? AND policy_id > ?
ORDER BY policy_id ASC LIMIT ?`, tenantID, groupID, page.Marker, limit)
	if err != nil {
		return nil, fmt.Errorf("list scaling_policy: %w", err)
	}
	defer rows.Close()

	var out []core.Policy
	for rows.Next() {
		p, err := scanPolicyRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicyRow(row rowScanner) (core.Policy, error) {
	var p core.Policy
	var adjustmentRaw string
	var argsRaw sql.NullString
	var createdAt int64
	err := row.Scan(&p.TenantID, &p.GroupID, &p.PolicyID, &p.Name, &p.CooldownSecs, &p.Type, &adjustmentRaw, &argsRaw, &createdAt)
	if err != nil {
		return core.Policy{}, err
	}
	p.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(adjustmentRaw), &p.Adjustment); err != nil {
		return core.Policy{}, fmt.Errorf("unmarshal adjustment: %w", err)
	}
	if argsRaw.Valid {
		var args core.ScheduleArgs
		if err := json.Unmarshal([]byte(argsRaw.String), &args); err != nil {
			return core.Policy{}, fmt.Errorf("unmarshal args: %w", err)
		}
		p.Schedule = &args
	}
	return p, nil
}

func (s *Store) GetPolicy(ctx context.Context, tenantID, groupID, policyID string) (core.Policy, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT tenant_id, group_id, policy_id, name, cooldown, type, adjustment, args, created_at
FROM scaling_policy WHERE tenant_id = ? AND group_id = ? AND policy_id = ?`, tenantID, groupID, policyID)
	p, err := scanPolicyRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Policy{}, &core.NoSuchPolicyError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID}
	}
	if err != nil {
		return core.Policy{}, fmt.Errorf("select scaling_policy: %w", err)
	}
	return p, nil
}

func (s *Store) CreatePolicies(ctx context.Context, policies []core.Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, p := range policies {
		adjustment, err := json.Marshal(p.Adjustment)
		if err != nil {
			return fmt.Errorf("marshal adjustment: %w", err)
		}
		var argsRaw any
		if p.Schedule != nil {
			raw, err := json.Marshal(p.Schedule)
			if err != nil {
				return fmt.Errorf("marshal args: %w", err)
			}
			argsRaw = string(raw)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO scaling_policy (tenant_id, group_id, policy_id, name, cooldown, type, adjustment, args, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.TenantID, p.GroupID, p.PolicyID, p.Name, p.CooldownSecs, p.Type, string(adjustment), argsRaw, toMillis(p.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert scaling_policy: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) UpdatePolicy(ctx context.Context, policy core.Policy) error {
	adjustment, err := json.Marshal(policy.Adjustment)
	if err != nil {
		return fmt.Errorf("marshal adjustment: %w", err)
	}
	var argsRaw any
	if policy.Schedule != nil {
		raw, err := json.Marshal(policy.Schedule)
		if err != nil {
			return fmt.Errorf("marshal args: %w", err)
		}
		argsRaw = string(raw)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE scaling_policy SET name = ?, cooldown = ?, adjustment = ?, args = ?
WHERE tenant_id = ? AND group_id = ? AND policy_id = ?`,
		policy.Name, policy.CooldownSecs, string(adjustment), argsRaw, policy.TenantID, policy.GroupID, policy.PolicyID)
	if err != nil {
		return fmt.Errorf("update scaling_policy: %w", err)
	}
	return requireAffected(res, &core.NoSuchPolicyError{TenantID: policy.TenantID, GroupID: policy.GroupID, PolicyID: policy.PolicyID})
}

func (s *Store) DeletePolicy(ctx context.Context, tenantID, groupID, policyID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scaling_policy WHERE tenant_id = ? AND group_id = ? AND policy_id = ?`,
		tenantID, groupID, policyID)
	if err != nil {
		return fmt.Errorf("delete scaling_policy: %w", err)
	}
	return requireAffected(res, &core.NoSuchPolicyError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID})
}

func (s *Store) ListWebhooks(ctx context.Context, tenantID, groupID, policyID string, page core.Page) ([]core.Webhook, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT tenant_id, group_id, policy_id, webhook_id, name, metadata, capability_version, capability_hash, created_at
FROM policy_webhook
WHERE tenant_id = ? AND group_id = ? AND policy_id = ? AND webhook_id > ?
ORDER BY webhook_id ASC LIMIT ?`, tenantID, groupID, policyID, page.Marker, limit)
	if err != nil {
		return nil, fmt.Errorf("list policy_webhook: %w", err)
	}
	defer rows.Close()

	var out []core.Webhook
	for rows.Next() {
		w, err := scanWebhookRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWebhookRow(row rowScanner) (core.Webhook, error) {
	var w core.Webhook
	var metadataRaw sql.NullString
	var createdAt int64
	err := row.Scan(&w.TenantID, &w.GroupID, &w.PolicyID, &w.WebhookID, &w.Name, &metadataRaw,
		&w.Capability.Version, &w.Capability.Hash, &createdAt)
	if err != nil {
		return core.Webhook{}, err
	}
	w.CreatedAt = fromMillis(createdAt)
	if metadataRaw.Valid {
		if err := json.Unmarshal([]byte(metadataRaw.String), &w.Metadata); err != nil {
			return core.Webhook{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return w, nil
}

func (s *Store) GetWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string) (core.Webhook, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT tenant_id, group_id, policy_id, webhook_id, name, metadata, capability_version, capability_hash, created_at
FROM policy_webhook WHERE tenant_id = ? AND group_id = ? AND policy_id = ? AND webhook_id = ?`,
		tenantID, groupID, policyID, webhookID)
	w, err := scanWebhookRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Webhook{}, &core.NoSuchWebhookError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID, WebhookID: webhookID}
	}
	if err != nil {
		return core.Webhook{}, fmt.Errorf("select policy_webhook: %w", err)
	}
	return w, nil
}

func (s *Store) CreateWebhooks(ctx context.Context, webhooks []core.Webhook) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, w := range webhooks {
		var metadataRaw any
		if w.Metadata != nil {
			raw, err := json.Marshal(w.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			metadataRaw = string(raw)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO policy_webhook (tenant_id, group_id, policy_id, webhook_id, name, metadata, capability_version, capability_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.TenantID, w.GroupID, w.PolicyID, w.WebhookID, w.Name, metadataRaw, w.Capability.Version, w.Capability.Hash, toMillis(w.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert policy_webhook: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) UpdateWebhook(ctx context.Context, webhook core.Webhook) error {
	var metadataRaw any
	if webhook.Metadata != nil {
		raw, err := json.Marshal(webhook.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadataRaw = string(raw)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE policy_webhook SET name = ?, metadata = ?, capability_version = ?, capability_hash = ?
WHERE tenant_id = ? AND group_id = ? AND policy_id = ? AND webhook_id = ?`,
		webhook.Name, metadataRaw, webhook.Capability.Version, webhook.Capability.Hash,
		webhook.TenantID, webhook.GroupID, webhook.PolicyID, webhook.WebhookID)
	if err != nil {
		return fmt.Errorf("update policy_webhook: %w", err)
	}
	return requireAffected(res, &core.NoSuchWebhookError{TenantID: webhook.TenantID, GroupID: webhook.GroupID, PolicyID: webhook.PolicyID, WebhookID: webhook.WebhookID})
}

func (s *Store) DeleteWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string) error {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM policy_webhook WHERE tenant_id = ? AND group_id = ? AND policy_id = ? AND webhook_id = ?`,
		tenantID, groupID, policyID, webhookID)
	if err != nil {
		return fmt.Errorf("delete policy_webhook: %w", err)
	}
	return requireAffected(res, &core.NoSuchWebhookError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID, WebhookID: webhookID})
}

func (s *Store) ResolveCapability(ctx context.Context, hash string) (core.Webhook, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT tenant_id, group_id, policy_id, webhook_id, name, metadata, capability_version, capability_hash, created_at
FROM policy_webhook WHERE capability_hash = ?`, hash)
	w, err := scanWebhookRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Webhook{}, &core.UnrecognizedCapabilityError{Hash: hash}
	}
	if err != nil {
		return core.Webhook{}, fmt.Errorf("select policy_webhook by hash: %w", err)
	}
	return w, nil
}

func (s *Store) UpsertScheduleEvent(ctx context.Context, event core.ScheduleEvent) error {
	var cron any
	if event.Cron != nil {
		cron = *event.Cron
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scaling_schedule (tenant_id, group_id, policy_id, trigger, cron)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, group_id, policy_id) DO UPDATE SET trigger = excluded.trigger, cron = excluded.cron`,
		event.TenantID, event.GroupID, event.PolicyID, toMillis(event.Trigger), cron)
	if err != nil {
		return fmt.Errorf("upsert scaling_schedule: %w", err)
	}
	return nil
}

func (s *Store) DeleteScheduleEvent(ctx context.Context, tenantID, groupID, policyID string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM scaling_schedule WHERE tenant_id = ? AND group_id = ? AND policy_id = ?`, tenantID, groupID, policyID)
	if err != nil {
		return fmt.Errorf("delete scaling_schedule: %w", err)
	}
	return nil
}

func (s *Store) FetchDueEvents(ctx context.Context, now time.Time, batchSize int) ([]core.ScheduleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tenant_id, group_id, policy_id, trigger, cron
FROM scaling_schedule WHERE trigger <= ? ORDER BY trigger ASC LIMIT ?`, toMillis(now), batchSize)
	if err != nil {
		return nil, fmt.Errorf("select due scaling_schedule: %w", err)
	}
	defer rows.Close()

	var out []core.ScheduleEvent
	for rows.Next() {
		var e core.ScheduleEvent
		var trigger int64
		var cron sql.NullString
		if err := rows.Scan(&e.TenantID, &e.GroupID, &e.PolicyID, &trigger, &cron); err != nil {
			return nil, fmt.Errorf("scan scaling_schedule: %w", err)
		}
		e.Trigger = fromMillis(trigger)
		if cron.Valid {
			e.Cron = &cron.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDueEvents(ctx context.Context, toDelete, toUpdate []core.ScheduleEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range toDelete {
		_, err := tx.ExecContext(ctx, `DELETE FROM scaling_schedule WHERE tenant_id = ? AND group_id = ? AND policy_id = ?`,
			e.TenantID, e.GroupID, e.PolicyID)
		if err != nil {
			return fmt.Errorf("delete due scaling_schedule: %w", err)
		}
	}
	for _, e := range toUpdate {
		var cron any
		if e.Cron != nil {
			cron = *e.Cron
		}
		_, err := tx.ExecContext(ctx, `
UPDATE scaling_schedule SET trigger = ?, cron = ? WHERE tenant_id = ? AND group_id = ? AND policy_id = ?`,
			toMillis(e.Trigger), cron, e.TenantID, e.GroupID, e.PolicyID)
		if err != nil {
			return fmt.Errorf("reschedule scaling_schedule: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) TenantCounts(ctx context.Context, tenantID string) (core.TenantCounts, error) {
	var tc core.TenantCounts
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM scaling_group WHERE tenant_id = ?`, tenantID).Scan(&tc.Groups); err != nil {
		return core.TenantCounts{}, fmt.Errorf("count scaling_group: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM scaling_policy WHERE tenant_id = ?`, tenantID).Scan(&tc.Policies); err != nil {
		return core.TenantCounts{}, fmt.Errorf("count scaling_policy: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM policy_webhook WHERE tenant_id = ?`, tenantID).Scan(&tc.Webhooks); err != nil {
		return core.TenantCounts{}, fmt.Errorf("count policy_webhook: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT active, pending FROM scaling_group_state WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return core.TenantCounts{}, fmt.Errorf("select active/pending: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var activeRaw, pendingRaw string
		if err := rows.Scan(&activeRaw, &pendingRaw); err != nil {
			return core.TenantCounts{}, fmt.Errorf("scan active/pending: %w", err)
		}
		var active map[string]core.ActiveServer
		var pending map[string]time.Time
		if err := json.Unmarshal([]byte(activeRaw), &active); err != nil {
			return core.TenantCounts{}, fmt.Errorf("unmarshal active: %w", err)
		}
		if err := json.Unmarshal([]byte(pendingRaw), &pending); err != nil {
			return core.TenantCounts{}, fmt.Errorf("unmarshal pending: %w", err)
		}
		tc.Active += len(active)
		tc.Pending += len(pending)
	}
	return tc, rows.Err()
}

// GlobalCounts is the admin-metrics collector's one entry point: row counts
// across every tenant, matching CassAdmin.get_metrics's table-wide scope
// rather than TenantCounts's per-tenant one.
func (s *Store) GlobalCounts(ctx context.Context) (core.TenantCounts, error) {
	var tc core.TenantCounts
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM scaling_group`).Scan(&tc.Groups); err != nil {
		return core.TenantCounts{}, fmt.Errorf("count scaling_group: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM scaling_policy`).Scan(&tc.Policies); err != nil {
		return core.TenantCounts{}, fmt.Errorf("count scaling_policy: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM policy_webhook`).Scan(&tc.Webhooks); err != nil {
		return core.TenantCounts{}, fmt.Errorf("count policy_webhook: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT active, pending FROM scaling_group_state`)
	if err != nil {
		return core.TenantCounts{}, fmt.Errorf("select active/pending: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var activeRaw, pendingRaw string
		if err := rows.Scan(&activeRaw, &pendingRaw); err != nil {
			return core.TenantCounts{}, fmt.Errorf("scan active/pending: %w", err)
		}
		var active map[string]core.ActiveServer
		var pending map[string]time.Time
		if err := json.Unmarshal([]byte(activeRaw), &active); err != nil {
			return core.TenantCounts{}, fmt.Errorf("unmarshal active: %w", err)
		}
		if err := json.Unmarshal([]byte(pendingRaw), &pending); err != nil {
			return core.TenantCounts{}, fmt.Errorf("unmarshal pending: %w", err)
		}
		tc.Active += len(active)
		tc.Pending += len(pending)
	}
	return tc, rows.Err()
}
