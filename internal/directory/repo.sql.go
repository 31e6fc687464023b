package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-app/gatehouse/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{pool: pool, logger: logger}
}

// FetchHybridPermissions returns the stored grant for a user.
func (r *Repository) FetchHybridPermissions(ctx context.Context, userID int64) (HybridGrant, error) {
	grant := HybridGrant{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT role, updated_at FROM user_grants WHERE user_id = $1`, userID,
	).Scan(&grant.Role, &grant.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return HybridGrant{}, ErrNotFound
		}
		return HybridGrant{}, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT permission_code FROM user_grant_codes WHERE user_id = $1 ORDER BY permission_code`, userID)
	if err != nil {
		return HybridGrant{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return HybridGrant{}, err
		}
		code = strings.TrimSpace(code)
		if code == "" {
			// Empty codes grant nothing; drop them rather than fail the fetch.
			r.warn("skip empty permission code", slog.Int64("user_id", userID))
			continue
		}
		grant.PermissionCodes = append(grant.PermissionCodes, code)
	}
	if err := rows.Err(); err != nil {
		return HybridGrant{}, err
	}
	return grant, nil
}

// FetchPermissionCatalog returns all permissions ordered by code.
func (r *Repository) FetchPermissionCatalog(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, code, name, description, category FROM permissions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Category); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Code) == "" {
			r.warn("skip catalog row without code", slog.Int64("id", p.ID))
			continue
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// FetchPages returns all pages ordered by slug.
func (r *Repository) FetchPages(ctx context.Context) ([]Page, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, slug, name, is_visible, updated_at FROM pages ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pages []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Visible, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Slug) == "" {
			r.warn("skip page row without slug", slog.Int64("id", p.ID))
			continue
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pages, nil
}

// UpdatePageVisibility flips a page's visibility flag.
func (r *Repository) UpdatePageVisibility(ctx context.Context, pageID int64, visible bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE pages SET is_visible = $2, updated_at = now() WHERE id = $1`, pageID, visible)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserPermissions replaces the grant wholesale inside one transaction.
func (r *Repository) UpdateUserPermissions(ctx context.Context, userID int64, role string, codes []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_grants (user_id, role, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role, updated_at = now()`,
			userID, role); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM user_grant_codes WHERE user_id = $1`, userID); err != nil {
			return err
		}
		for _, code := range codes {
			code = strings.TrimSpace(code)
			if code == "" {
				continue
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_grant_codes (user_id, permission_code) VALUES ($1, $2)`,
				userID, code); err != nil {
				if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
					return ErrDuplicate
				}
				return err
			}
		}
		return nil
	})
}

func (r *Repository) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
