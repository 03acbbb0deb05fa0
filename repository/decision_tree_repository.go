package repository

import (
	"context"
	"errors"
	"fmt"

	"expertpanel-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DecisionTreeRepository handles database operations for decision trees
type DecisionTreeRepository struct {
	db *pgxpool.Pool
}

// NewDecisionTreeRepository creates a new decision tree repository
func NewDecisionTreeRepository(db *pgxpool.Pool) *DecisionTreeRepository {
	return &DecisionTreeRepository{db: db}
}

// GetActive returns the plugin's active tree, or nil when it has none
func (r *DecisionTreeRepository) GetActive(ctx context.Context, pluginID uuid.UUID) (*models.DecisionTree, error) {
	tree := &models.DecisionTree{}
	query := `
		SELECT id, plugin_id, name, root_node_id, nodes, is_active, created_at, updated_at
		FROM decision_trees
		WHERE plugin_id = $1 AND is_active = true
		ORDER BY updated_at DESC
		LIMIT 1`

	err := r.db.QueryRow(ctx, query, pluginID).Scan(
		&tree.ID,
		&tree.PluginID,
		&tree.Name,
		&tree.RootNodeID,
		&tree.Nodes,
		&tree.IsActive,
		&tree.CreatedAt,
		&tree.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if tree.Nodes == nil {
		tree.Nodes = make(models.DecisionNodes)
	}
	return tree, nil
}

// SaveActive stores tree as the plugin's only active tree
func (r *DecisionTreeRepository) SaveActive(ctx context.Context, tree *models.DecisionTree) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"UPDATE decision_trees SET is_active = false, updated_at = NOW() WHERE plugin_id = $1 AND is_active = true",
		tree.PluginID,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate trees: %w", err)
	}

	query := `
		INSERT INTO decision_trees (plugin_id, name, root_node_id, nodes, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING id, is_active, created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		tree.PluginID,
		tree.Name,
		tree.RootNodeID,
		tree.Nodes,
	).Scan(&tree.ID, &tree.IsActive, &tree.CreatedAt, &tree.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert tree: %w", err)
	}

	return tx.Commit(ctx)
}
