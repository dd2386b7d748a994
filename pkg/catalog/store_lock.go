package catalog

import (
	"context"

	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// LockVm takes a session-scoped Postgres advisory lock keyed on vmID,
// serializing pipelines that target the same VM. It holds a dedicated connection for the
// lock's lifetime; callers must call the returned unlock func exactly
// once, typically deferred.
func (s *Store) LockVm(ctx context.Context, vmID ID) (unlock func(context.Context), err error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, lnvpserr.Wrap(lnvpserr.KindTransientRemote, "acquiring connection for vm lock", err)
	}

	if _, err := conn.Exec(ctx, "select pg_advisory_lock($1)", int64(vmID)); err != nil {
		conn.Release()
		return nil, lnvpserr.Wrap(lnvpserr.KindTransientRemote, "taking vm advisory lock", err)
	}

	return func(unlockCtx context.Context) {
		_, _ = conn.Exec(unlockCtx, "select pg_advisory_unlock($1)", int64(vmID))
		conn.Release()
	}, nil
}
