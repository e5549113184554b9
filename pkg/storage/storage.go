// Package storage defines the persistence contract for workflow state
// and ships the reference adapters: in-memory, file-backed, remote HTTP,
// Redis, and Postgres.
//
// The executor persists once per scheduler round; adapters do not need
// transactions. At-most-one writer per workflow id is assumed and
// enforced by the executor's local run registry, not the adapter.
package storage

import (
	"context"

	"github.com/stateflow/stateflow/pkg/models"
)

// Adapter stores workflow state keyed by workflow id.
//
// Load returns models.ErrWorkflowNotFound (possibly wrapped) when no
// state exists for the id; Delete does the same. Any other failure is
// reported as a *models.StorageError.
type Adapter interface {
	Save(ctx context.Context, id string, state *models.WorkflowState) error
	Load(ctx context.Context, id string) (*models.WorkflowState, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}
