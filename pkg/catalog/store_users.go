package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

const userColumns = `id, pubkey, created, email, contact_nip17, contact_email,
	country_code, billing_name, billing_addr1, billing_addr2, billing_city,
	billing_state, billing_postal, billing_tax_id`

func scanUser(row pgx.Row) (User, error) {
	var u User
	var pubkey []byte
	err := row.Scan(
		&u.ID, &pubkey, &u.Created, &u.Email, &u.ContactNIP17, &u.ContactEmail,
		&u.CountryCode, &u.BillingName, &u.BillingAddr1, &u.BillingAddr2,
		&u.BillingCity, &u.BillingState, &u.BillingPostal, &u.BillingTaxID,
	)
	if err != nil {
		return User{}, err
	}
	copy(u.Pubkey[:], pubkey)
	return u, nil
}

// GetOrCreateUser implements the first-contact upsert keyed on Pubkey.
func (s *Store) GetOrCreateUser(ctx context.Context, pubkey [32]byte) (User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE pubkey = $1`, pubkey[:])
	u, err := scanUser(row)
	if err == nil {
		return s.decryptUser(u)
	}
	if err != pgx.ErrNoRows {
		return User{}, classifyPgErr(err)
	}

	row = s.pool.QueryRow(ctx, `
		INSERT INTO users (pubkey) VALUES ($1)
		ON CONFLICT (pubkey) DO UPDATE SET pubkey = EXCLUDED.pubkey
		RETURNING `+userColumns, pubkey[:])
	u, err = scanUser(row)
	if err != nil {
		return User{}, classifyPgErr(err)
	}
	return s.decryptUser(u)
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(ctx context.Context, id ID) (User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return User{}, classifyPgErr(err)
	}
	return s.decryptUser(u)
}

// UpdateUserProfile updates the editable billing/contact fields of a user,
// encrypting Email at rest.
func (s *Store) UpdateUserProfile(ctx context.Context, u User) error {
	email, err := s.encryptUserEmail(u.Email)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE users SET email = $2, contact_nip17 = $3, contact_email = $4,
			country_code = $5, billing_name = $6, billing_addr1 = $7,
			billing_addr2 = $8, billing_city = $9, billing_state = $10,
			billing_postal = $11, billing_tax_id = $12
		WHERE id = $1`,
		u.ID, email, u.ContactNIP17, u.ContactEmail, u.CountryCode,
		u.BillingName, u.BillingAddr1, u.BillingAddr2, u.BillingCity,
		u.BillingState, u.BillingPostal, u.BillingTaxID)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

func (s *Store) decryptUser(u User) (User, error) {
	if s.enc == nil || u.Email == "" {
		return u, nil
	}
	plain, err := s.enc.Decrypt(u.Email)
	if err != nil {
		return User{}, lnvpserr.Wrap(lnvpserr.KindFatal, "decrypting user email", err)
	}
	u.Email = plain
	return u, nil
}

func (s *Store) encryptUserEmail(email string) (string, error) {
	if s.enc == nil || email == "" {
		return email, nil
	}
	out, err := s.enc.EncodeAtRest(email)
	if err != nil {
		return "", lnvpserr.Wrap(lnvpserr.KindFatal, "encrypting user email", err)
	}
	return out, nil
}

// AdminListUsers returns a page of users ordered by ID.
func (s *Store) AdminListUsers(ctx context.Context, p PageParams) ([]User, error) {
	p = p.Normalize()
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id LIMIT $1 OFFSET $2`, p.Limit, p.Offset)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		du, err := s.decryptUser(u)
		if err != nil {
			return nil, err
		}
		out = append(out, du)
	}
	return out, rows.Err()
}

// Role / Permission plumbing.

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	var resources []string
	var actions []string
	err := row.Scan(&r.ID, &r.Name, &resources, &actions)
	if err != nil {
		return Role{}, err
	}
	for i := range resources {
		r.Permissions = append(r.Permissions, Permission{
			Resource: PermissionResource(resources[i]),
			Action:   PermissionAction(actions[i]),
		})
	}
	return r, nil
}

// GetRole fetches a role by ID, with its permissions joined in as parallel
// arrays.
func (s *Store) GetRole(ctx context.Context, id ID) (Role, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT r.id, r.name,
			COALESCE(array_agg(p.resource ORDER BY p.resource, p.action) FILTER (WHERE p.resource IS NOT NULL), '{}'),
			COALESCE(array_agg(p.action ORDER BY p.resource, p.action) FILTER (WHERE p.action IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions p ON p.role_id = r.id
		WHERE r.id = $1
		GROUP BY r.id, r.name`, id)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, classifyPgErr(err)
	}
	return role, nil
}

// UserPermissions returns the union of every Permission granted across all
// of a user's RoleAssignments.
// A user with no role assignments has an empty permission set, not an
// error.
func (s *Store) UserPermissions(ctx context.Context, userID ID) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT p.resource, p.action
		FROM role_assignments ra
		JOIN role_permissions p ON p.role_id = ra.role_id
		WHERE ra.user_id = $1
		ORDER BY p.resource, p.action`, userID)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.Resource, &perm.Action); err != nil {
			return nil, fmt.Errorf("scanning permission row: %w", err)
		}
		out = append(out, perm)
	}
	return out, rows.Err()
}

// AssignRole records a RoleAssignment, audited by assignedBy.
func (s *Store) AssignRole(ctx context.Context, userID, roleID, assignedBy ID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO role_assignments (user_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID, assignedBy)
	if err != nil {
		return classifyPgErr(err)
	}
	return nil
}

// RevokeRole removes a RoleAssignment.
func (s *Store) RevokeRole(ctx context.Context, userID, roleID ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_assignments WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return classifyPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return lnvpserr.NotFound("role assignment user=%d role=%d", userID, roleID)
	}
	return nil
}

// HasPermission reports whether perm is present in perms.
func HasPermission(perms []Permission, perm Permission) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}
