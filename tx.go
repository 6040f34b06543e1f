package ejdb

import (
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/andreyvit/ejdb/ecode"
)

// Transaction is the transaction slot of one collection. While a
// transaction is active, every operation on the collection runs inside it:
// writes from any caller join the active transaction and are committed or
// aborted with it. Changes become visible to new readers on Commit.
type Transaction struct {
	c *Collection
}

// Transaction returns the collection's slot. It does not start anything.
func (c *Collection) Transaction() *Transaction {
	return &Transaction{c: c}
}

func (t *Transaction) Collection() *Collection {
	return t.c
}

// Start begins a transaction; it fails with ecode.IllegalTransactionState if
// one is already active.
func (t *Transaction) Start() error {
	const op = "tx_start"
	return t.c.use(op, func(db *DB, eng *engine, cs *collState) error {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if cs.tx != nil {
			return ecode.Errorf(ecode.IllegalTransactionState, op, "transaction already active on %s", cs.name)
		}
		if cs.bdb.IsReadOnly() {
			return ecode.Errorf(ecode.NoPermission, op, "collection %s is read-only", cs.name)
		}
		btx, err := cs.bdb.Begin(true)
		if err != nil {
			return ecode.FromStorage(op, ecode.ThreadError, err)
		}
		cs.tx = btx
		if db.st.verbose {
			cs.log.Debug(op)
		}
		return nil
	})
}

func (t *Transaction) Commit() error {
	const op = "tx_commit"
	return t.c.use(op, func(db *DB, eng *engine, cs *collState) error {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if cs.tx == nil {
			return ecode.Errorf(ecode.IllegalTransactionState, op, "no active transaction on %s", cs.name)
		}
		btx := cs.tx
		cs.tx = nil
		if err := btx.Commit(); err != nil {
			if rerr := cs.reloadMeta(); rerr != nil {
				cs.log.Warn("reload index descriptors after failed commit", zap.Error(rerr))
			}
			return ecode.FromStorage(op, ecode.WriteError, err)
		}
		if db.st.verbose {
			cs.log.Debug(op)
		}
		return nil
	})
}

// Abort discards the changes of the active transaction.
func (t *Transaction) Abort() error {
	const op = "tx_abort"
	return t.c.use(op, func(db *DB, eng *engine, cs *collState) error {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if cs.tx == nil {
			return ecode.Errorf(ecode.IllegalTransactionState, op, "no active transaction on %s", cs.name)
		}
		return cs.rollback(db.st.verbose)
	})
}

// rollback ends the active transaction. cs.mu must be held.
func (cs *collState) rollback(verbose bool) error {
	btx := cs.tx
	cs.tx = nil
	if err := btx.Rollback(); err != nil {
		return ecode.FromStorage("tx_abort", ecode.WriteError, err)
	}
	if err := cs.reloadMeta(); err != nil {
		return err
	}
	if verbose {
		cs.log.Debug("tx_abort")
	}
	return nil
}

// InTransaction reports whether a transaction is active. An invalid
// collection is never in a transaction.
func (t *Transaction) InTransaction() bool {
	var active bool
	t.c.use("tx_status", func(db *DB, eng *engine, cs *collState) error {
		cs.mu.RLock()
		defer cs.mu.RUnlock()
		active = cs.tx != nil
		return nil
	})
	return active
}

// WithTransaction runs fn in a new transaction, committing when it returns
// nil and aborting when it fails or panics. A panic is returned as an error.
func (c *Collection) WithTransaction(fn func() error) (err error) {
	tx := c.Transaction()
	if err := tx.Start(); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
		if err != nil {
			if abortErr := tx.Abort(); abortErr != nil {
				c.logger().Warn("abort after failure", zap.Error(abortErr), zap.NamedError("cause", err))
			}
			return
		}
		err = tx.Commit()
	}()
	return fn()
}

func (c *Collection) logger() *zap.Logger {
	if c != nil && c.cs != nil {
		return c.cs.log
	}
	return zap.NewNop()
}
