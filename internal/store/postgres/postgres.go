// Package postgres implements core.Store and lock.RowStore against a
// PostgreSQL database, for the Standard deployment profile. It is the
// default backend: horizontally scalable and safe to run with multiple
// scheduler/worker replicas against the same cluster.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scalepilot/autoscale/internal/core"
)

// Store is a core.Store and lock.RowStore backed by a pgxpool.Pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Config configures the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// New opens a connection pool and verifies connectivity with a ping.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres store connected", "max_conns", poolConfig.MaxConns)
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateGroup inserts the manifest row and its initial mutable state row.
func (s *Store) CreateGroup(ctx context.Context, group core.ScalingGroup, state core.GroupState) error {
	groupConfig, err := json.Marshal(group.GroupConfig)
	if err != nil {
		return fmt.Errorf("marshal group config: %w", err)
	}
	launchConfig, err := json.Marshal(group.LaunchConfig)
	if err != nil {
		return fmt.Errorf("marshal launch config: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
INSERT INTO scaling_group (tenant_id, group_id, group_config, launch_config, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		group.TenantID, group.GroupID, groupConfig, launchConfig, group.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert scaling_group: %w", err)
	}

	if err := insertState(ctx, tx, state); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertState(ctx context.Context, tx pgx.Tx, state core.GroupState) error {
	active, pending, policyTouched, err := marshalState(state)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO scaling_group_state (tenant_id, group_id, active, pending, group_touched, policy_touched, paused)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		state.TenantID, state.GroupID, active, pending, state.GroupTouched, policyTouched, state.Paused)
	if err != nil {
		return fmt.Errorf("insert scaling_group_state: %w", err)
	}
	return nil
}

func marshalState(state core.GroupState) (active, pending, policyTouched []byte, err error) {
	active, err = json.Marshal(state.Active)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal active: %w", err)
	}
	pending, err = json.Marshal(state.Pending)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal pending: %w", err)
	}
	policyTouched, err = json.Marshal(state.PolicyTouched)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal policy_touched: %w", err)
	}
	return active, pending, policyTouched, nil
}

func (s *Store) ViewManifest(ctx context.Context, tenantID, groupID string) (core.ScalingGroup, core.GroupState, error) {
	group, err := s.ViewConfig(ctx, tenantID, groupID)
	if err != nil {
		return core.ScalingGroup{}, core.GroupState{}, err
	}
	launchConfig, err := s.ViewLaunchConfig(ctx, tenantID, groupID)
	if err != nil {
		return core.ScalingGroup{}, core.GroupState{}, err
	}

	var createdAt time.Time
	err = s.pool.QueryRow(ctx, `SELECT created_at FROM scaling_group WHERE tenant_id = $1 AND group_id = $2`,
		tenantID, groupID).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ScalingGroup{}, core.GroupState{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	if err != nil {
		return core.ScalingGroup{}, core.GroupState{}, fmt.Errorf("select created_at: %w", err)
	}

	state, err := s.ViewState(ctx, tenantID, groupID)
	if err != nil {
		return core.ScalingGroup{}, core.GroupState{}, err
	}

	sg := core.ScalingGroup{
		TenantID:     tenantID,
		GroupID:      groupID,
		GroupConfig:  group,
		LaunchConfig: launchConfig,
		CreatedAt:    createdAt,
	}
	return sg, state, nil
}

func (s *Store) ViewConfig(ctx context.Context, tenantID, groupID string) (core.GroupConfig, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT group_config FROM scaling_group WHERE tenant_id = $1 AND group_id = $2`,
		tenantID, groupID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.GroupConfig{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	if err != nil {
		return core.GroupConfig{}, fmt.Errorf("select group_config: %w", err)
	}
	var cfg core.GroupConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return core.GroupConfig{}, fmt.Errorf("unmarshal group_config: %w", err)
	}
	return cfg, nil
}

func (s *Store) ViewLaunchConfig(ctx context.Context, tenantID, groupID string) (core.LaunchConfig, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT launch_config FROM scaling_group WHERE tenant_id = $1 AND group_id = $2`,
		tenantID, groupID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.LaunchConfig{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	if err != nil {
		return core.LaunchConfig{}, fmt.Errorf("select launch_config: %w", err)
	}
	var cfg core.LaunchConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return core.LaunchConfig{}, fmt.Errorf("unmarshal launch_config: %w", err)
	}
	return cfg, nil
}

func (s *Store) ViewState(ctx context.Context, tenantID, groupID string) (core.GroupState, error) {
	var activeRaw, pendingRaw, touchedRaw []byte
	var groupTouched time.Time
	var paused bool

	err := s.pool.QueryRow(ctx, `
SELECT active, pending, group_touched, policy_touched, paused
FROM scaling_group_state WHERE tenant_id = $1 AND group_id = $2`,
		tenantID, groupID).Scan(&activeRaw, &pendingRaw, &groupTouched, &touchedRaw, &paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.GroupState{}, &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	if err != nil {
		return core.GroupState{}, fmt.Errorf("select scaling_group_state: %w", err)
	}

	state := core.GroupState{
		TenantID:     tenantID,
		GroupID:      groupID,
		GroupTouched: groupTouched,
		Paused:       paused,
	}
	if err := json.Unmarshal(activeRaw, &state.Active); err != nil {
		return core.GroupState{}, fmt.Errorf("unmarshal active: %w", err)
	}
	if err := json.Unmarshal(pendingRaw, &state.Pending); err != nil {
		return core.GroupState{}, fmt.Errorf("unmarshal pending: %w", err)
	}
	if err := json.Unmarshal(touchedRaw, &state.PolicyTouched); err != nil {
		return core.GroupState{}, fmt.Errorf("unmarshal policy_touched: %w", err)
	}
	return state, nil
}

func (s *Store) UpdateConfig(ctx context.Context, tenantID, groupID string, cfg core.GroupConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal group config: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE scaling_group SET group_config = $1 WHERE tenant_id = $2 AND group_id = $3`,
		raw, tenantID, groupID)
	if err != nil {
		return fmt.Errorf("update group_config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	return nil
}

func (s *Store) UpdateLaunchConfig(ctx context.Context, tenantID, groupID string, cfg core.LaunchConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal launch config: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE scaling_group SET launch_config = $1 WHERE tenant_id = $2 AND group_id = $3`,
		raw, tenantID, groupID)
	if err != nil {
		return fmt.Errorf("update launch_config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	return nil
}

func (s *Store) UpdateState(ctx context.Context, state core.GroupState) error {
	active, pending, policyTouched, err := marshalState(state)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scaling_group_state
SET active = $1, pending = $2, group_touched = $3, policy_touched = $4, paused = $5
WHERE tenant_id = $6 AND group_id = $7`,
		active, pending, state.GroupTouched, policyTouched, state.Paused, state.TenantID, state.GroupID)
	if err != nil {
		return fmt.Errorf("update scaling_group_state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NoSuchScalingGroupError{TenantID: state.TenantID, GroupID: state.GroupID}
	}
	return nil
}

// DeleteGroup removes the manifest row; ON DELETE CASCADE takes the state,
// policy, webhook, and schedule rows with it in the same statement.
func (s *Store) DeleteGroup(ctx context.Context, tenantID, groupID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scaling_group WHERE tenant_id = $1 AND group_id = $2`, tenantID, groupID)
	if err != nil {
		return fmt.Errorf("delete scaling_group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NoSuchScalingGroupError{TenantID: tenantID, GroupID: groupID}
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context, tenantID, groupID string, page core.Page) ([]core.Policy, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT tenant_id, group_id, policy_id, name, cooldown, type, adjustment, args, created_at
FROM scaling_policy
WHERE tenant_id = $1 AND group_id = $2 AND policy_id > $3
ORDER BY policy_id ASC
LIMIT $4`, tenantID, groupID, page.Marker, limit)
	if err != nil {
		return nil, fmt.Errorf("list scaling_policy: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func scanPolicies(rows pgx.Rows) ([]core.Policy, error) {
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

func scanPolicyRow(row pgx.Row) (core.Policy, error) {
	var p core.Policy
	var adjustmentRaw, argsRaw []byte
	err := row.Scan(&p.TenantID, &p.GroupID, &p.PolicyID, &p.Name, &p.CooldownSecs, &p.Type, &adjustmentRaw, &argsRaw, &p.CreatedAt)
	if err != nil {
		return core.Policy{}, err
	}
	if err := json.Unmarshal(adjustmentRaw, &p.Adjustment); err != nil {
		return core.Policy{}, fmt.Errorf("unmarshal adjustment: %w", err)
	}
	if argsRaw != nil {
		var args core.ScheduleArgs
		if err := json.Unmarshal(argsRaw, &args); err != nil {
			return core.Policy{}, fmt.Errorf("unmarshal args: %w", err)
		}
		p.Schedule = &args
	}
	return p, nil
}

func (s *Store) GetPolicy(ctx context.Context, tenantID, groupID, policyID string) (core.Policy, error) {
	row := s.pool.QueryRow(ctx, `
SELECT tenant_id, group_id, policy_id, name, cooldown, type, adjustment, args, created_at
FROM scaling_policy WHERE tenant_id = $1 AND group_id = $2 AND policy_id = $3`,
		tenantID, groupID, policyID)
	p, err := scanPolicyRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Policy{}, &core.NoSuchPolicyError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID}
	}
	if err != nil {
		return core.Policy{}, fmt.Errorf("select scaling_policy: %w", err)
	}
	return p, nil
}

func (s *Store) CreatePolicies(ctx context.Context, policies []core.Policy) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range policies {
		adjustment, err := json.Marshal(p.Adjustment)
		if err != nil {
			return fmt.Errorf("marshal adjustment: %w", err)
		}
		var argsRaw []byte
		if p.Schedule != nil {
			argsRaw, err = json.Marshal(p.Schedule)
			if err != nil {
				return fmt.Errorf("marshal args: %w", err)
			}
		}
		_, err = tx.Exec(ctx, `
INSERT INTO scaling_policy (tenant_id, group_id, policy_id, name, cooldown, type, adjustment, args, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.TenantID, p.GroupID, p.PolicyID, p.Name, p.CooldownSecs, p.Type, adjustment, argsRaw, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert scaling_policy: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) UpdatePolicy(ctx context.Context, policy core.Policy) error {
	adjustment, err := json.Marshal(policy.Adjustment)
	if err != nil {
		return fmt.Errorf("marshal adjustment: %w", err)
	}
	var argsRaw []byte
	if policy.Schedule != nil {
		argsRaw, err = json.Marshal(policy.Schedule)
		if err != nil {
			return fmt.Errorf("marshal args: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scaling_policy SET name = $1, cooldown = $2, adjustment = $3, args = $4
WHERE tenant_id = $5 AND group_id = $6 AND policy_id = $7`,
		policy.Name, policy.CooldownSecs, adjustment, argsRaw, policy.TenantID, policy.GroupID, policy.PolicyID)
	if err != nil {
		return fmt.Errorf("update scaling_policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NoSuchPolicyError{TenantID: policy.TenantID, GroupID: policy.GroupID, PolicyID: policy.PolicyID}
	}
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, tenantID, groupID, policyID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scaling_policy WHERE tenant_id = $1 AND group_id = $2 AND policy_id = $3`,
		tenantID, groupID, policyID)
	if err != nil {
		return fmt.Errorf("delete scaling_policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NoSuchPolicyError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID}
	}
	return nil
}

func (s *Store) ListWebhooks(ctx context.Context, tenantID, groupID, policyID string, page core.Page) ([]core.Webhook, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT tenant_id, group_id, policy_id, webhook_id, name, metadata, capability_version, capability_hash, created_at
FROM policy_webhook
WHERE tenant_id = $1 AND group_id = $2 AND policy_id = $3 AND webhook_id > $4
ORDER BY webhook_id ASC
LIMIT $5`, tenantID, groupID, policyID, page.Marker, limit)
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

func scanWebhookRow(row pgx.Row) (core.Webhook, error) {
	var w core.Webhook
	var metadataRaw []byte
	err := row.Scan(&w.TenantID, &w.GroupID, &w.PolicyID, &w.WebhookID, &w.Name, &metadataRaw,
		&w.Capability.Version, &w.Capability.Hash, &w.CreatedAt)
	if err != nil {
		return core.Webhook{}, err
	}
	if metadataRaw != nil {
		if err := json.Unmarshal(metadataRaw, &w.Metadata); err != nil {
			return core.Webhook{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return w, nil
}

func (s *Store) GetWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string) (core.Webhook, error) {
	row := s.pool.QueryRow(ctx, `
SELECT tenant_id, group_id, policy_id, webhook_id, name, metadata, capability_version, capability_hash, created_at
FROM policy_webhook WHERE tenant_id = $1 AND group_id = $2 AND policy_id = $3 AND webhook_id = $4`,
		tenantID, groupID, policyID, webhookID)
	w, err := scanWebhookRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Webhook{}, &core.NoSuchWebhookError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID, WebhookID: webhookID}
	}
	if err != nil {
		return core.Webhook{}, fmt.Errorf("select policy_webhook: %w", err)
	}
	return w, nil
}

func (s *Store) CreateWebhooks(ctx context.Context, webhooks []core.Webhook) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, w := range webhooks {
		var metadataRaw []byte
		if w.Metadata != nil {
			metadataRaw, err = json.Marshal(w.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
		}
		_, err = tx.Exec(ctx, `
INSERT INTO policy_webhook (tenant_id, group_id, policy_id, webhook_id, name, metadata, capability_version, capability_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			w.TenantID, w.GroupID, w.PolicyID, w.WebhookID, w.Name, metadataRaw, w.Capability.Version, w.Capability.Hash, w.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert policy_webhook: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) UpdateWebhook(ctx context.Context, webhook core.Webhook) error {
	var metadataRaw []byte
	var err error
	if webhook.Metadata != nil {
		metadataRaw, err = json.Marshal(webhook.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE policy_webhook SET name = $1, metadata = $2, capability_version = $3, capability_hash = $4
WHERE tenant_id = $5 AND group_id = $6 AND policy_id = $7 AND webhook_id = $8`,
		webhook.Name, metadataRaw, webhook.Capability.Version, webhook.Capability.Hash,
		webhook.TenantID, webhook.GroupID, webhook.PolicyID, webhook.WebhookID)
	if err != nil {
		return fmt.Errorf("update policy_webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NoSuchWebhookError{TenantID: webhook.TenantID, GroupID: webhook.GroupID, PolicyID: webhook.PolicyID, WebhookID: webhook.WebhookID}
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, tenantID, groupID, policyID, webhookID string) error {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM policy_webhook WHERE tenant_id = $1 AND group_id = $2 AND policy_id = $3 AND webhook_id = $4`,
		tenantID, groupID, policyID, webhookID)
	if err != nil {
		return fmt.Errorf("delete policy_webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &core.NoSuchWebhookError{TenantID: tenantID, GroupID: groupID, PolicyID: policyID, WebhookID: webhookID}
	}
	return nil
}

func (s *Store) ResolveCapability(ctx context.Context, hash string) (core.Webhook, error) {
	row := s.pool.QueryRow(ctx, `
SELECT tenant_id, group_id, policy_id, webhook_id, name, metadata, capability_version, capability_hash, created_at
FROM policy_webhook WHERE capability_hash = $1`, hash)
	w, err := scanWebhookRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Webhook{}, &core.UnrecognizedCapabilityError{Hash: hash}
	}
	if err != nil {
		return core.Webhook{}, fmt.Errorf("select policy_webhook by hash: %w", err)
	}
	return w, nil
}

func (s *Store) UpsertScheduleEvent(ctx context.Context, event core.ScheduleEvent) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO scaling_schedule (tenant_id, group_id, policy_id, trigger, cron)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, group_id, policy_id) DO UPDATE SET trigger = excluded.trigger, cron = excluded.cron`,
		event.TenantID, event.GroupID, event.PolicyID, event.Trigger, event.Cron)
	if err != nil {
		return fmt.Errorf("upsert scaling_schedule: %w", err)
	}
	return nil
}

func (s *Store) DeleteScheduleEvent(ctx context.Context, tenantID, groupID, policyID string) error {
	_, err := s.pool.Exec(ctx, `
DELETE FROM scaling_schedule WHERE tenant_id = $1 AND group_id = $2 AND policy_id = $3`, tenantID, groupID, policyID)
	if err != nil {
		return fmt.Errorf("delete scaling_schedule: %w", err)
	}
	return nil
}

// FetchDueEvents returns up to batchSize events whose trigger has passed,
// oldest first — the scheduler's drain query, executed while it holds the
// schedule lock.
func (s *Store) FetchDueEvents(ctx context.Context, now time.Time, batchSize int) ([]core.ScheduleEvent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT tenant_id, group_id, policy_id, trigger, cron
FROM scaling_schedule WHERE trigger <= $1 ORDER BY trigger ASC LIMIT $2`, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("select due scaling_schedule: %w", err)
	}
	defer rows.Close()

	var out []core.ScheduleEvent
	for rows.Next() {
		var e core.ScheduleEvent
		if err := rows.Scan(&e.TenantID, &e.GroupID, &e.PolicyID, &e.Trigger, &e.Cron); err != nil {
			return nil, fmt.Errorf("scan scaling_schedule: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateDueEvents commits the outcome of one drain pass: one-shot events are
// deleted, recurring (cron) events are rewritten with their next trigger —
// both in a single transaction so a crash mid-drain cannot fire an event
// twice or lose its reschedule.
func (s *Store) UpdateDueEvents(ctx context.Context, toDelete, toUpdate []core.ScheduleEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range toDelete {
		_, err := tx.Exec(ctx, `DELETE FROM scaling_schedule WHERE tenant_id = $1 AND group_id = $2 AND policy_id = $3`,
			e.TenantID, e.GroupID, e.PolicyID)
		if err != nil {
			return fmt.Errorf("delete due scaling_schedule: %w", err)
		}
	}
	for _, e := range toUpdate {
		_, err := tx.Exec(ctx, `
UPDATE scaling_schedule SET trigger = $1, cron = $2 WHERE tenant_id = $3 AND group_id = $4 AND policy_id = $5`,
			e.Trigger, e.Cron, e.TenantID, e.GroupID, e.PolicyID)
		if err != nil {
			return fmt.Errorf("reschedule scaling_schedule: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) TenantCounts(ctx context.Context, tenantID string) (core.TenantCounts, error) {
	var tc core.TenantCounts
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scaling_group WHERE tenant_id = $1`, tenantID).Scan(&tc.Groups)
	if err != nil {
		return core.TenantCounts{}, fmt.Errorf("count scaling_group: %w", err)
	}
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM scaling_policy WHERE tenant_id = $1`, tenantID).Scan(&tc.Policies)
	if err != nil {
		return core.TenantCounts{}, fmt.Errorf("count scaling_policy: %w", err)
	}
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM policy_webhook WHERE tenant_id = $1`, tenantID).Scan(&tc.Webhooks)
	if err != nil {
		return core.TenantCounts{}, fmt.Errorf("count policy_webhook: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
SELECT coalesce(sum(active_count), 0), coalesce(sum(pending_count), 0)
FROM (
  SELECT (SELECT count(*) FROM jsonb_object_keys(active)) AS active_count,
         (SELECT count(*) FROM jsonb_object_keys(pending)) AS pending_count
  FROM scaling_group_state WHERE tenant_id = $1
) sub`, tenantID).Scan(&tc.Active, &tc.Pending)
	if err != nil {
		return core.TenantCounts{}, fmt.Errorf("count active/pending: %w", err)
	}
	return tc, nil
}

// GlobalCounts is the admin-metrics collector's one entry point: row counts
// across every tenant, matching CassAdmin.get_metrics's table-wide scope
// rather than TenantCounts's per-tenant one.
func (s *Store) GlobalCounts(ctx context.Context) (core.TenantCounts, error) {
	var tc core.TenantCounts
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scaling_group`).Scan(&tc.Groups)
	if err != nil {
		return core.TenantCounts{}, fmt.Errorf("count scaling_group: %w", err)
	}
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM scaling_policy`).Scan(&tc.Policies)
	if err != nil {
		return core.TenantCounts{}, fmt.Errorf("count scaling_policy: %w", err)
	}
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM policy_webhook`).Scan(&tc.Webhooks)
	if err != nil {
		return core.TenantCounts{}, fmt.Errorf("count policy_webhook: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
SELECT coalesce(sum(active_count), 0), coalesce(sum(pending_count), 0)
FROM (
  SELECT (SELECT count(*) FROM jsonb_object_keys(active)) AS active_count,
         (SELECT count(*) FROM jsonb_object_keys(pending)) AS pending_count
  FROM scaling_group_state
) sub`).Scan(&tc.Active, &tc.Pending)
	if err != nil {
		return core.TenantCounts{}, fmt.Errorf("count active/pending: %w", err)
	}
	return tc, nil
}
