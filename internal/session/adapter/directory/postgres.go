package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"teamcards/internal/domain"
)

// Querier is the subset of pgxpool.Pool the Postgres directory uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

const findProfileSQL = `
SELECT user_id, nome, cargo, administrador, departamento,
       COALESCE(email, ''), COALESCE(tel, ''), COALESCE(site, ''), COALESCE(image_url, '')
FROM team_members
WHERE user_id = $1
LIMIT 1`

// Postgres reads profiles from the team_members table.
type Postgres struct {
	db Querier
}

func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

// Connect opens a connection pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse directory dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open directory pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping directory: %w", err)
	}
	return pool, nil
}

func (d *Postgres) FindProfileByIdentity(ctx context.Context, id domain.Identity) (*domain.Profile, error) {
	var (
		p    domain.Profile
		dept string
	)
	err := d.db.QueryRow(ctx, findProfileSQL, id.ID).Scan(
		&p.IdentityKey, &p.DisplayName, &p.RoleTitle, &p.IsAdministrator, &dept,
		&p.Email, &p.Phone, &p.Site, &p.ImageURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query team member: %w", err)
	}
	p.Department = domain.Department(dept)
	return &p, nil
}
