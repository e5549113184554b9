package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/stateflow/stateflow/pkg/models"
)

// workflowStateRow is the bun model backing the Postgres adapter: the
// full state document lives in a JSONB column keyed by workflow id.
type workflowStateRow struct {
	bun.BaseModel `bun:"table:workflow_states,alias:ws"`

	ID        string    `bun:"id,pk"`
	State     []byte    `bun:"state,type:jsonb,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// PostgresAdapter stores workflow state in Postgres via bun.
type PostgresAdapter struct {
	db *bun.DB
}

// NewPostgresDB opens a bun connection for the given DSN.
func NewPostgresDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// NewPostgresAdapter wraps an existing bun connection.
func NewPostgresAdapter(db *bun.DB) *PostgresAdapter {
	return &PostgresAdapter{db: db}
}

// EnsureSchema creates the workflow_states table when missing.
func (a *PostgresAdapter) EnsureSchema(ctx context.Context) error {
	_, err := a.db.NewCreateTable().
		Model((*workflowStateRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return &models.StorageError{Op: "init", Err: err}
	}
	return nil
}

// Save implements Adapter with an upsert on the workflow id.
func (a *PostgresAdapter) Save(ctx context.Context, id string, state *models.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &models.StorageError{Op: "save", Key: id, Err: err}
	}

	row := &workflowStateRow{
		ID:        id,
		State:     data,
		UpdatedAt: time.Now().UTC(),
	}
	_, err = a.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return &models.StorageError{Op: "save", Key: id, Err: err}
	}
	return nil
}

// Load implements Adapter.
func (a *PostgresAdapter) Load(ctx context.Context, id string) (*models.WorkflowState, error) {
	row := new(workflowStateRow)
	err := a.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrWorkflowNotFound
		}
		return nil, &models.StorageError{Op: "load", Key: id, Err: err}
	}

	var state models.WorkflowState
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, &models.StorageError{Op: "load", Key: id, Err: err}
	}
	return &state, nil
}

// Delete implements Adapter.
func (a *PostgresAdapter) Delete(ctx context.Context, id string) error {
	res, err := a.db.NewDelete().
		Model((*workflowStateRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return &models.StorageError{Op: "delete", Key: id, Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &models.StorageError{Op: "delete", Key: id, Err: err}
	}
	if affected == 0 {
		return models.ErrWorkflowNotFound
	}
	return nil
}

// List implements Adapter.
func (a *PostgresAdapter) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := a.db.NewSelect().
		Model((*workflowStateRow)(nil)).
		Column("id").
		Scan(ctx, &ids)
	if err != nil {
		return nil, &models.StorageError{Op: "list", Err: fmt.Errorf("select workflow ids: %w", err)}
	}
	return ids, nil
}
