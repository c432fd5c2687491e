package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/marketplace_support/backend/internal/models"
)

func scanAgent(row pgx.Row) (models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.Name, &a.IsOnline, &a.CurrentLoad, &a.UpdatedAt)
	return a, err
}

func (s *Store) UpsertAgent(ctx context.Context, a models.Agent) (models.Agent, error) {
	return scanAgent(s.Pool.QueryRow(ctx, `
		INSERT INTO agents (id, name, is_online, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			is_online = EXCLUDED.is_online,
			updated_at = NOW()
		RETURNING id, name, is_online, current_load, updated_at`, a.ID, a.Name, a.IsOnline))
}

func (s *Store) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	a, err := scanAgent(s.Pool.QueryRow(ctx, `SELECT id, name, is_online, current_load, updated_at FROM agents WHERE id = $1`, id))
	return a, notFound(err)
}

func (s *Store) ListAgents(ctx context.Context, onlineOnly bool) ([]models.Agent, error) {
	query := `SELECT id, name, is_online, current_load, updated_at FROM agents`
	if onlineOnly {
		query += ` WHERE is_online`
	}
	query += ` ORDER BY current_load ASC, id ASC`

	rows, err := s.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgentLoad adjusts the number of sessions an agent holds, clamped at 0.
func (s *Store) UpdateAgentLoad(ctx context.Context, agentID string, delta int) error {
	_, err := s.Pool.Exec(ctx, `UPDATE agents SET current_load = GREATEST(current_load + $1, 0), updated_at = NOW() WHERE id = $2`, delta, agentID)
	return err
}
