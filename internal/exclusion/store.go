package exclusion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zero-day-ai/verdict/internal/database"
	"github.com/zero-day-ai/verdict/internal/types"
)

// Store persists custom exclusions, built-in rule overrides and cumulative
// trigger counters.
type Store struct {
	db *database.DB
}

// NewStore creates a store on a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new custom exclusion.
func (s *Store) Create(ctx context.Context, c *CustomExclusion) error {
	if err := c.Validate(); err != nil {
		return err
	}
	match, err := json.Marshal(c.Match)
	if err != nil {
		return types.WrapError(types.EXCLUSION_INVALID_RULE, "failed to encode match config", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO custom_exclusions
			(id, name, description, match_config, scope_chain, scope_project, enabled, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, string(match), c.Scope.Chain, c.Scope.Project,
		c.Enabled, c.Priority, now, now,
	)
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, fmt.Sprintf("failed to insert custom exclusion %s", c.ID), err)
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

// Get returns a custom exclusion with its trigger count.
func (s *Store) Get(ctx context.Context, id string) (*CustomExclusion, error) {
	row := s.db.QueryRowContext(ctx, selectCustom+` WHERE c.id = ?`, id)
	c, err := scanCustom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.EXCLUSION_NOT_FOUND, fmt.Sprintf("custom exclusion %s not found", id))
	}
	return c, err
}

// List returns every custom exclusion ordered by id.
func (s *Store) List(ctx context.Context) ([]*CustomExclusion, error) {
	rows, err := s.db.QueryContext(ctx, selectCustom+` ORDER BY c.id`)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to list custom exclusions", err)
	}
	defer rows.Close()

	var out []*CustomExclusion
	for rows.Next() {
		c, err := scanCustom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to iterate custom exclusions", err)
	}
	return out, nil
}

// Update replaces the definition of an existing custom exclusion.
func (s *Store) Update(ctx context.Context, c *CustomExclusion) error {
	if err := c.Validate(); err != nil {
		return err
	}
	match, err := json.Marshal(c.Match)
	if err != nil {
		return types.WrapError(types.EXCLUSION_INVALID_RULE, "failed to encode match config", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE custom_exclusions
		SET name = ?, description = ?, match_config = ?, scope_chain = ?, scope_project = ?,
			enabled = ?, priority = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Description, string(match), c.Scope.Chain, c.Scope.Project,
		c.Enabled, c.Priority, now, c.ID,
	)
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, fmt.Sprintf("failed to update custom exclusion %s", c.ID), err)
	}
	if err := expectRow(res, c.ID); err != nil {
		return err
	}
	c.UpdatedAt = now
	return nil
}

// SetEnabled toggles a rule. Custom exclusions are updated in place;
// any other id is recorded as a built-in override.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE custom_exclusions SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, fmt.Sprintf("failed to update %s", id), err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_overrides (rule_id, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		id, enabled, time.Now().UTC())
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, fmt.Sprintf("failed to store override for %s", id), err)
	}
	return nil
}

// Delete removes a custom exclusion and its counter.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM custom_exclusions WHERE id = ?`, id)
		if err != nil {
			return types.WrapError(types.DB_QUERY_FAILED, fmt.Sprintf("failed to delete %s", id), err)
		}
		if err := expectRow(res, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM rule_triggers WHERE rule_id = ?`, id)
		return err
	})
}

// Overrides returns the stored enable flags of built-in rules.
func (s *Store) Overrides(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rule_id, enabled FROM rule_overrides`)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to query rule overrides", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			id      string
			enabled bool
		)
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to scan rule override", err)
		}
		out[id] = enabled
	}
	return out, rows.Err()
}

// TriggerCounts returns the cumulative counters of every rule.
func (s *Store) TriggerCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rule_id, count FROM rule_triggers`)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to query trigger counts", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id string
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to scan trigger count", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// AddTriggerCounts adds deltas to the cumulative counters in one
// transaction.
func (s *Store) AddTriggerCounts(ctx context.Context, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for id, n := range deltas {
			if n <= 0 {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO rule_triggers (rule_id, count, last_triggered_at) VALUES (?, ?, ?)
				ON CONFLICT(rule_id) DO UPDATE SET count = count + excluded.count, last_triggered_at = excluded.last_triggered_at`,
				id, n, now)
			if err != nil {
				return types.WrapError(types.DB_QUERY_FAILED, fmt.Sprintf("failed to add trigger count for %s", id), err)
			}
		}
		return nil
	})
}

// LoadInto applies stored custom exclusions, overrides and counters to e.
func (s *Store) LoadInto(ctx context.Context, e *Engine) error {
	customs, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range customs {
		if err := e.AddCustom(*c); err != nil {
			return err
		}
	}

	overrides, err := s.Overrides(ctx)
	if err != nil {
		return err
	}
	for id, enabled := range overrides {
		if _, ok := e.Rule(id); !ok {
			continue
		}
		if err := e.SetEnabled(id, enabled); err != nil {
			return err
		}
	}

	counts, err := s.TriggerCounts(ctx)
	if err != nil {
		return err
	}
	e.RestoreCounts(counts)
	return nil
}

const selectCustom = `
	SELECT c.id, c.name, c.description, c.match_config, c.scope_chain, c.scope_project,
		c.enabled, c.priority, COALESCE(t.count, 0), c.created_at, c.updated_at
	FROM custom_exclusions c
	LEFT JOIN rule_triggers t ON t.rule_id = c.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustom(row rowScanner) (*CustomExclusion, error) {
	var (
		c     CustomExclusion
		match string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &match, &c.Scope.Chain, &c.Scope.Project,
		&c.Enabled, &c.Priority, &c.TriggerCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, types.WrapError(types.DB_QUERY_FAILED, "failed to scan custom exclusion", err)
	}
	if err := json.Unmarshal([]byte(match), &c.Match); err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED,
			fmt.Sprintf("custom exclusion %s has corrupt match config", c.ID), err)
	}
	return &c, nil
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "failed to read affected rows", err)
	}
	if n == 0 {
		return types.NewError(types.EXCLUSION_NOT_FOUND, fmt.Sprintf("custom exclusion %s not found", id))
	}
	return nil
}
