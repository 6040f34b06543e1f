package ejdb

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/andreyvit/ejdb/ecode"
)

// UniqueTx owns an active collection transaction and guarantees it is
// terminated. The usual pattern is
//
//	utx, err := ejdb.StartUnique(coll)
//	if err != nil {
//		return err
//	}
//	defer utx.End(&err)
//
// End aborts on panic (and re-panics) or when *errp is non-nil, and commits
// otherwise. An owning UniqueTx that is garbage collected aborts its
// transaction and logs a warning.
type UniqueTx struct {
	st *uniqueState
}

// uniqueState is separate from UniqueTx so that the cleanup can reach it.
type uniqueState struct {
	tx    *Transaction
	owned bool
}

func newUniqueTx(tx *Transaction, owned bool) *UniqueTx {
	u := &UniqueTx{st: &uniqueState{tx: tx, owned: owned}}
	runtime.AddCleanup(u, (*uniqueState).collected, u.st)
	return u
}

func (s *uniqueState) collected() {
	if !s.owned {
		return
	}
	s.owned = false
	s.tx.c.logger().Warn("unique transaction collected while active; aborting", zap.String("coll", s.tx.c.Name()))
	s.tx.Abort()
}

// StartUnique starts a transaction on c and takes ownership of it.
func StartUnique(c *Collection) (*UniqueTx, error) {
	tx := c.Transaction()
	if err := tx.Start(); err != nil {
		return nil, err
	}
	return newUniqueTx(tx, true), nil
}

// AdoptUnique takes ownership of the transaction already active on c.
func AdoptUnique(c *Collection) (*UniqueTx, error) {
	tx := c.Transaction()
	if !tx.InTransaction() {
		if !c.Valid() {
			return nil, c.liveness("tx_adopt")
		}
		return nil, ecode.Errorf(ecode.IllegalTransactionState, "tx_adopt", "no active transaction on %s", c.Name())
	}
	return newUniqueTx(tx, true), nil
}

// TryStartUnique is StartUnique that returns an unowned UniqueTx on failure.
func TryStartUnique(c *Collection) *UniqueTx {
	tx := c.Transaction()
	return newUniqueTx(tx, tx.Start() == nil)
}

// liveness returns the error an operation on an invalid c fails with.
func (c *Collection) liveness(op string) error {
	return c.use(op, func(*DB, *engine, *collState) error { return nil })
}

// Owned reports whether u is responsible for an active transaction.
func (u *UniqueTx) Owned() bool {
	return u != nil && u.st.owned
}

func (u *UniqueTx) Transaction() *Transaction {
	return u.st.tx
}

func (u *UniqueTx) Commit() error {
	if !u.Owned() {
		return ecode.Errorf(ecode.IllegalTransactionState, "tx_commit", "unique transaction is not owned")
	}
	u.st.owned = false
	return u.st.tx.Commit()
}

func (u *UniqueTx) Abort() error {
	if !u.Owned() {
		return ecode.Errorf(ecode.IllegalTransactionState, "tx_abort", "unique transaction is not owned")
	}
	u.st.owned = false
	return u.st.tx.Abort()
}

// End terminates an owned transaction; use it with defer. A commit failure
// is stored into *errp.
func (u *UniqueTx) End(errp *error) {
	if p := recover(); p != nil {
		if u.Owned() {
			u.Abort()
		}
		panic(p)
	}
	if !u.Owned() {
		return
	}
	if errp != nil && *errp != nil {
		u.Abort()
		return
	}
	if err := u.Commit(); err != nil && errp != nil {
		*errp = err
	}
}

// Release gives up ownership without terminating the transaction and
// returns the slot to the caller.
func (u *UniqueTx) Release() *Transaction {
	u.st.owned = false
	return u.st.tx
}

// Assign aborts the transaction owned by u, if any, and moves ownership of
// src's transaction to u.
func (u *UniqueTx) Assign(src *UniqueTx) error {
	if u == src {
		return nil
	}
	var err error
	if u.Owned() {
		err = u.Abort()
	}
	u.st.tx = src.st.tx
	u.st.owned = src.st.owned
	src.st.owned = false
	return err
}
