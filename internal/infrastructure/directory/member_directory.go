package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

// MemberDirectory reads the source member records that account
// creation requests originate from.
type MemberDirectory struct {
	pool *pgxpool.Pool
}

func NewMemberDirectory(pool *pgxpool.Pool) *MemberDirectory {
	return &MemberDirectory{pool: pool}
}

func (d *MemberDirectory) Find(ctx context.Context, id string) (*domain.SourceEntity, error) {
	var entity domain.SourceEntity
	var email *string
	err := d.pool.QueryRow(ctx, `
SELECT id, email, full_name
FROM members
WHERE id = $1
`, id).Scan(&entity.ID, &email, &entity.FullName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("member %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load member %s: %w", id, err)
	}
	if email != nil {
		entity.Email = *email
	}
	return &entity, nil
}
