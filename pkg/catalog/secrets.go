package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lnvps/lnvpsd/pkg/encryption"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// decryptHost decrypts h.APIToken in place via the Store's encryption
// context. Hosts read before an encryption context is configured (tests
// that pass a nil enc) are returned with the stored value unchanged.
func (s *Store) decryptHost(h Host) (Host, error) {
	if s.enc == nil || h.APIToken == "" {
		return h, nil
	}
	plain, err := s.enc.Decrypt(h.APIToken)
	if err != nil {
		return Host{}, lnvpserr.Wrap(lnvpserr.KindFatal, "decrypting host api_token", err)
	}
	h.APIToken = plain
	return h, nil
}

func (s *Store) encryptHostToken(token string) (string, error) {
	if s.enc == nil || token == "" {
		return token, nil
	}
	out, err := s.enc.EncodeAtRest(token)
	if err != nil {
		return "", lnvpserr.Wrap(lnvpserr.KindFatal, "encrypting host api_token", err)
	}
	return out, nil
}

func (s *Store) decryptRouter(r Router) (Router, error) {
	if s.enc == nil || r.Token == "" {
		return r, nil
	}
	plain, err := s.enc.Decrypt(r.Token)
	if err != nil {
		return Router{}, lnvpserr.Wrap(lnvpserr.KindFatal, "decrypting router token", err)
	}
	r.Token = plain
	return r, nil
}

func (s *Store) encryptRouterToken(token string) (string, error) {
	if s.enc == nil || token == "" {
		return token, nil
	}
	out, err := s.enc.EncodeAtRest(token)
	if err != nil {
		return "", lnvpserr.Wrap(lnvpserr.KindFatal, "encrypting router token", err)
	}
	return out, nil
}

// UpsertHost creates or updates a Host, encrypting APIToken at rest.
func (s *Store) UpsertHost(ctx context.Context, h Host) (Host, error) {
	token, err := s.encryptHostToken(h.APIToken)
	if err != nil {
		return Host{}, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO hosts (id, region_id, kind, name, ip, cpu_total, memory_total_byte, enabled, api_token)
		VALUES (NULLIF($1, 0), $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			region_id = EXCLUDED.region_id, kind = EXCLUDED.kind, name = EXCLUDED.name,
			ip = EXCLUDED.ip, cpu_total = EXCLUDED.cpu_total,
			memory_total_byte = EXCLUDED.memory_total_byte, enabled = EXCLUDED.enabled,
			api_token = EXCLUDED.api_token
		RETURNING `+hostColumns,
		h.ID, h.RegionID, h.Kind, h.Name, h.IP, h.CPUTotal, h.MemoryTotalByte, h.Enabled, token)
	out, err := scanHost(row)
	if err != nil {
		return Host{}, classifyPgErr(err)
	}
	return s.decryptHost(out)
}

// UpsertRouter creates or updates a Router, encrypting Token at rest.
func (s *Store) UpsertRouter(ctx context.Context, r Router) (Router, error) {
	token, err := s.encryptRouterToken(r.Token)
	if err != nil {
		return Router{}, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO routers (id, name, kind, url, token, enabled)
		VALUES (NULLIF($1, 0), $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, kind = EXCLUDED.kind, url = EXCLUDED.url,
			token = EXCLUDED.token, enabled = EXCLUDED.enabled
		RETURNING id, name, kind, url, token, enabled`,
		r.ID, r.Name, r.Kind, r.URL, token, r.Enabled)
	out, err := scanRouter(row)
	if err != nil {
		return Router{}, classifyPgErr(err)
	}
	return s.decryptRouter(out)
}

// secretColumns enumerates every at-rest-encrypted column, table and
// column name paired with the ref prefix ListPlaintextSecrets/UpdateSecret
// use to address a row.
var secretColumns = []struct{ table, column, refPrefix string }{
	{"hosts", "api_token", "hosts"},
	{"routers", "token", "routers"},
	{"users", "email", "users"},
}

// listSecretColumn scans one secretColumns entry into SecretRows, applying
// an extra SQL predicate (e.g. restricting to legacy plaintext rows).
func (s *Store) listSecretColumn(ctx context.Context, sc struct{ table, column, refPrefix string }, extraWhere string) ([]encryption.SecretRow, error) {
	query := fmt.Sprintf(`SELECT id, %s FROM %s WHERE %s <> ''%s`, sc.column, sc.table, sc.column, extraWhere)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, classifyPgErr(err)
	}
	defer rows.Close()

	var out []encryption.SecretRow
	for rows.Next() {
		var id ID
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, fmt.Errorf("scanning %s.%s row: %w", sc.table, sc.column, err)
		}
		out = append(out, encryption.SecretRow{Ref: fmt.Sprintf("%s:%d", sc.refPrefix, id), Value: value})
	}
	return out, rows.Err()
}

// ListPlaintextSecrets satisfies encryption.Store: it scans every
// encrypted column for rows not already carrying the ENC: sentinel,
// so pkg/encryption.MigrateStore can re-encode legacy plaintext in place.
func (s *Store) ListPlaintextSecrets(ctx context.Context) ([]encryption.SecretRow, error) {
	var out []encryption.SecretRow
	for _, sc := range secretColumns {
		rows, err := s.listSecretColumn(ctx, sc, ` AND `+sc.column+` NOT LIKE 'ENC:%'`)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// ListSecrets satisfies encryption.RotatableStore: it scans every encrypted
// column regardless of current encryption state, so pkg/encryption.Rotate
// can re-encrypt already-ENC:-encoded rows under a freshly rotated key.
func (s *Store) ListSecrets(ctx context.Context) ([]encryption.SecretRow, error) {
	var out []encryption.SecretRow
	for _, sc := range secretColumns {
		rows, err := s.listSecretColumn(ctx, sc, "")
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// UpdateSecret satisfies encryption.Store: it writes encoded back to the
// column ref addresses, parsed as "<table>:<id>" against secretColumns.
func (s *Store) UpdateSecret(ctx context.Context, ref string, encoded string) error {
	table, idStr, ok := strings.Cut(ref, ":")
	if !ok {
		return lnvpserr.Validation("malformed secret ref %q", ref)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return lnvpserr.Validation("malformed secret ref %q: %v", ref, err)
	}

	for _, sc := range secretColumns {
		if sc.refPrefix != table {
			continue
		}
		query := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE id = $1`, sc.table, sc.column)
		if _, err := s.pool.Exec(ctx, query, ID(id), encoded); err != nil {
			return classifyPgErr(err)
		}
		return nil
	}
	return lnvpserr.Validation("unknown secret ref table %q", table)
}
