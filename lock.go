package ejdb

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/flock"

	"github.com/andreyvit/ejdb/ecode"
)

const lockRetryDelay = 20 * time.Millisecond

// acquireHandleLock locks path+".lock": shared for read-only handles,
// exclusive otherwise. With ModeNonBlockingLock a busy lock fails at once;
// otherwise it is retried until timeout.
func acquireHandleLock(path string, mode Mode, timeout time.Duration) (*flock.Flock, error) {
	fl := flock.New(path + ".lock")

	var ok bool
	var err error
	if mode.Has(ModeNonBlockingLock) {
		if mode.readOnly() {
			ok, err = fl.TryRLock()
		} else {
			ok, err = fl.TryLock()
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if mode.readOnly() {
			ok, err = fl.TryRLockContext(ctx, lockRetryDelay)
		} else {
			ok, err = fl.TryLockContext(ctx, lockRetryDelay)
		}
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, ecode.FromStorage("open", ecode.LockError, err)
	}
	if !ok {
		return nil, ecode.Errorf(ecode.LockError, "open", "%s is locked by another handle", path)
	}
	return fl, nil
}
