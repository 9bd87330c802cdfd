package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

// PgxDirectory is the account store the pipeline provisions into. All
// writes of one request run inside a single transaction, so a failed
// request rolls back to nothing.
type PgxDirectory struct {
	pool *pgxpool.Pool
}

func NewPgxDirectory(pool *pgxpool.Pool) *PgxDirectory {
	return &PgxDirectory{pool: pool}
}

func (d *PgxDirectory) WithinTx(ctx context.Context, fn func(tx domain.DirectoryTx) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&directoryTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type directoryTx struct {
	tx pgx.Tx
}

func (t *directoryTx) FindUserByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx,
		"SELECT id FROM users WHERE email = $1", email).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find user by email: %w", err)
	}
	return id, nil
}

func (t *directoryTx) CreateUser(ctx context.Context, email, fullName string) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
INSERT INTO users (email, full_name, enabled, created_at, updated_at)
VALUES ($1, $2, TRUE, NOW(), NOW())
RETURNING id
`, email, fullName).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create user %s: %w", email, err)
	}
	return id, nil
}

func (t *directoryTx) UserRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT role FROM user_roles WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("load user roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}
	return roles, nil
}

func (t *directoryTx) RoleExists(ctx context.Context, role string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)", role).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check role %s: %w", role, err)
	}
	return exists, nil
}

func (t *directoryTx) RoleProfileExists(ctx context.Context, profile string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM role_profiles WHERE name = $1)", profile).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check role profile %s: %w", profile, err)
	}
	return exists, nil
}

func (t *directoryTx) AssignRoles(ctx context.Context, userID string, roles []string, profile string) error {
	if len(roles) > 0 {
		rows := make([][]any, 0, len(roles))
		for _, role := range roles {
			rows = append(rows, []any{userID, role})
		}
		if _, err := t.tx.CopyFrom(
			ctx,
			pgx.Identifier{"user_roles"},
			[]string{"user_id", "role"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("assign roles: %w", err)
		}
	}

	if profile != "" {
		if _, err := t.tx.Exec(ctx,
			"UPDATE users SET role_profile = $1, updated_at = NOW() WHERE id = $2",
			profile, userID); err != nil {
			return fmt.Errorf("set role profile: %w", err)
		}
	}
	return nil
}

func (t *directoryTx) DefaultCompany(ctx context.Context) (string, error) {
	var name string
	err := t.tx.QueryRow(ctx,
		"SELECT name FROM companies WHERE is_default ORDER BY name LIMIT 1").Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load default company: %w", err)
	}
	return name, nil
}

func (t *directoryTx) CreateEmployee(ctx context.Context, fullName, company, userID, email string) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
INSERT INTO employees (full_name, company, user_id, email, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'Active', NOW(), NOW())
RETURNING id
`, fullName, company, userID, email).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create employee for %s: %w", email, err)
	}
	return id, nil
}

func (t *directoryTx) LinkRecords(ctx context.Context, sourceRecord, userID, employeeID string) error {
	result, err := t.tx.Exec(ctx, `
UPDATE members
SET user_id = $1,
    employee_id = NULLIF($2, ''),
    updated_at = NOW()
WHERE id = $3
`, userID, employeeID, sourceRecord)
	if err != nil {
		return fmt.Errorf("link member %s: %w", sourceRecord, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("link member %s: no such member", sourceRecord)
	}
	return nil
}
