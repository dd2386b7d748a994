package encryption

import "context"

// SecretRow is one at-rest secret column value keyed by an opaque row
// reference the store understands (e.g. "users:42:email").
type SecretRow struct {
	Ref   string
	Value string
}

// Store is implemented by any catalog component that can enumerate and
// rewrite its own secret columns. MigrateStore re-encodes legacy plaintext
// rows to ENC: form in place. Kept as a narrow interface so this package
// never imports the catalog package directly, avoiding an import cycle.
type Store interface {
	ListPlaintextSecrets(ctx context.Context) ([]SecretRow, error)
	UpdateSecret(ctx context.Context, ref string, encoded string) error
}

// MigrateStore walks every plaintext secret exposed by store and re-encodes
// it to ENC: form using ctx's encryption Context. Rows already encrypted are
// skipped (ListPlaintextSecrets is expected to filter them, but MigrateStore
// double-checks via IsEncrypted so a store implementation bug can't cause
// double-encryption).
func (c *Context) MigrateStore(ctx context.Context, store Store) (migrated int, err error) {
	rows, err := store.ListPlaintextSecrets(ctx)
	if err != nil {
		return 0, err
	}

	for _, row := range rows {
		if IsEncrypted(row.Value) {
			continue
		}
		encoded, err := c.Encrypt(row.Value)
		if err != nil {
			return migrated, err
		}
		if err := store.UpdateSecret(ctx, row.Ref, encoded); err != nil {
			return migrated, err
		}
		migrated++
	}

	return migrated, nil
}
