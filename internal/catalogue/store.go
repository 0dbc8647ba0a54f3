// Package catalogue persists candidate profiles and serves the immutable pool
// snapshot that matching runs read.
package catalogue

import (
	"context"

	"github.com/referwell/matcher/internal/models"
)

// Store defines candidate profile persistence operations.
type Store interface {
	// Upsert creates or replaces a profile, including its embedding and lexical entry.
	Upsert(ctx context.Context, c *models.CandidateProfile) error
	Get(ctx context.Context, id string) (*models.CandidateProfile, error)
	Delete(ctx context.Context, id string) error
	// List returns profiles ordered by id.
	List(ctx context.Context, offset, limit int) ([]*models.CandidateProfile, error)
	All(ctx context.Context) ([]*models.CandidateProfile, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}
