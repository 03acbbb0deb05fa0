package repository

import (
	"context"
	"errors"

	"expertpanel-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// PluginRepository handles database operations for expert plugins
type PluginRepository struct {
	db *pgxpool.Pool
}

// NewPluginRepository creates a new plugin repository
func NewPluginRepository(db *pgxpool.Pool) *PluginRepository {
	return &PluginRepository{db: db}
}

const pluginColumns = `id, slug, name, domain, description, system_prompt, version, web_search, created_at, updated_at`

func scanPlugin(row pgx.Row) (*models.Plugin, error) {
	p := &models.Plugin{}
	err := row.Scan(
		&p.ID,
		&p.Slug,
		&p.Name,
		&p.Domain,
		&p.Description,
		&p.SystemPrompt,
		&p.Version,
		&p.WebSearch,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetBySlug retrieves a plugin by its slug
func (r *PluginRepository) GetBySlug(ctx context.Context, slug string) (*models.Plugin, error) {
	query := `SELECT ` + pluginColumns + ` FROM plugins WHERE slug = $1`
	return scanPlugin(r.db.QueryRow(ctx, query, slug))
}

// List returns all plugins ordered by name
func (r *PluginRepository) List(ctx context.Context) ([]models.Plugin, error) {
	rows, err := r.db.Query(ctx, `SELECT `+pluginColumns+` FROM plugins ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plugins := []models.Plugin{}
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, *p)
	}
	return plugins, rows.Err()
}

// Upsert creates a plugin or updates the one with the same slug
func (r *PluginRepository) Upsert(ctx context.Context, p *models.Plugin) error {
	query := `
		INSERT INTO plugins (
			slug, name, domain, description, system_prompt, version, web_search
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			domain = EXCLUDED.domain,
			description = EXCLUDED.description,
			system_prompt = EXCLUDED.system_prompt,
			version = EXCLUDED.version,
			web_search = EXCLUDED.web_search,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return r.db.QueryRow(
		ctx, query,
		p.Slug,
		p.Name,
		p.Domain,
		p.Description,
		p.SystemPrompt,
		p.Version,
		p.WebSearch,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}
