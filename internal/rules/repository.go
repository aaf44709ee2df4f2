package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type Repository interface {
	GetActiveRuleConfigs(ctx context.Context) ([]RuleConfig, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetActiveRuleConfigs(ctx context.Context) ([]RuleConfig, error) {
	query := `
		SELECT key, params, description, enabled, created_at, updated_at
		FROM rule_configs
		WHERE enabled = true
		ORDER BY key ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule configs: %w", err)
	}
	defer rows.Close()

	var configs []RuleConfig
	for rows.Next() {
		var rule RuleConfig
		var params []byte
		if err := rows.Scan(
			&rule.Key,
			&params,
			&rule.Description,
			&rule.Enabled,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule config: %w", err)
		}

		if len(params) > 0 {
			if err := json.Unmarshal(params, &rule.Params); err != nil {
				return nil, fmt.Errorf("failed to unmarshal params for rule %s: %w", rule.Key, err)
			}
		}

		configs = append(configs, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return configs, nil
}
