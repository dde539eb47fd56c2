package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lemline/lemline/common/db"
	"github.com/lemline/lemline/common/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// DefinitionStore persists workflow definitions
type DefinitionStore interface {
	Insert(ctx context.Context, def *models.Definition) error
	GetByNameVersion(ctx context.Context, name, version string) (*models.Definition, error)
}

// DefinitionRepository handles database operations for workflow definitions
type DefinitionRepository struct {
	db *db.DB
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(database *db.DB) *DefinitionRepository {
	return &DefinitionRepository{db: database}
}

// EnsureSchema creates the definitions table if it does not exist
func (r *DefinitionRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS definitions (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			definition TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (name, version)
		)
	`

	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create definitions table: %w", err)
	}

	return nil
}

// Insert stores a new workflow definition
func (r *DefinitionRepository) Insert(ctx context.Context, def *models.Definition) error {
	query := `
		INSERT INTO definitions (id, name, version, definition, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		def.ID,
		def.Name,
		def.Version,
		def.Source,
		def.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert definition: %w", err)
	}

	return nil
}

// GetByNameVersion retrieves a definition by its unique (name, version) pair
func (r *DefinitionRepository) GetByNameVersion(ctx context.Context, name, version string) (*models.Definition, error) {
	query := `
		SELECT id, name, version, definition, created_at
		FROM definitions
		WHERE name = $1 AND version = $2
	`

	def := &models.Definition{}
	err := r.db.QueryRow(ctx, query, name, version).Scan(
		&def.ID,
		&def.Name,
		&def.Version,
		&def.Source,
		&def.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("definition %s/%s: %w", name, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	return def, nil
}
