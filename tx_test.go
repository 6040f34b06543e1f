package ejdb

import (
	"errors"
	"testing"

	"github.com/andreyvit/ejdb/ecode"
)

func TestTx_commitAndAbort(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "contacts", `{"name": "Petr"}`)
	tx := c.Transaction()

	noerr(t, tx.Start())
	if !tx.InTransaction() {
		t.Fatalf("InTransaction() = false after Start")
	}
	must(c.SaveDocument(j(`{"name": "Ivan"}`)))
	deepEqual(t, len(must(c.GetAll())), 2)
	noerr(t, tx.Abort())
	if tx.InTransaction() {
		t.Fatalf("InTransaction() = true after Abort")
	}
	deepEqual(t, names(t, must(c.GetAll())), []string{"Petr"})

	noerr(t, tx.Start())
	must(c.SaveDocument(j(`{"name": "Ivan"}`)))
	noerr(t, tx.Commit())
	deepEqual(t, len(must(c.GetAll())), 2)
}

func TestTx_illegalState(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "contacts")
	tx := c.Transaction()

	wantCode(t, tx.Commit(), ecode.IllegalTransactionState)
	wantCode(t, tx.Abort(), ecode.IllegalTransactionState)

	noerr(t, tx.Start())
	must(c.SaveDocument(j(`{"name": "Petr"}`)))
	wantCode(t, c.Transaction().Start(), ecode.IllegalTransactionState)
	// the original transaction is unaffected
	if !tx.InTransaction() {
		t.Fatalf("InTransaction() = false after a failed second Start")
	}
	noerr(t, tx.Commit())
	deepEqual(t, names(t, must(c.GetAll())), []string{"Petr"})
}

func TestTx_otherWritersJoin(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "contacts", `{"name": "Petr"}`)
	tx := c.Transaction()
	noerr(t, tx.Start())

	done := make(chan error)
	go func() {
		other := must(db.GetCollection("contacts"))
		_, err := other.SaveDocument(j(`{"name": "Ivan"}`))
		done <- err
	}()
	noerr(t, <-done)
	deepEqual(t, len(must(c.GetAll())), 2)

	noerr(t, tx.Abort())
	deepEqual(t, names(t, must(c.GetAll())), []string{"Petr"})
}

func TestTx_setIndexAbort(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "contacts", `{"name": "Petr"}`)
	tx := c.Transaction()

	noerr(t, tx.Start())
	noerr(t, c.SetIndex("name", IndexString))
	deepEqual(t, indexNames(t, db, "contacts"), []string{"sname"})
	noerr(t, tx.Abort())

	isempty(t, indexNames(t, db, "contacts"))
	deepEqual(t, must(c.Stats()).IndexRows, 0)
	deepEqual(t, findNames(t, c, newQuery(t, db, `{"name": "Petr"}`)), []string{"Petr"})
}

func TestWithTransaction(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "contacts")

	noerr(t, c.WithTransaction(func() error {
		_, err := c.SaveDocument(j(`{"name": "Petr"}`))
		return err
	}))
	deepEqual(t, len(must(c.GetAll())), 1)

	failure := errors.New("failure")
	err := c.WithTransaction(func() error {
		must(c.SaveDocument(j(`{"name": "Ivan"}`)))
		return failure
	})
	if err != failure {
		t.Fatalf("WithTransaction = %v, wanted %v", err, failure)
	}
	deepEqual(t, len(must(c.GetAll())), 1)

	err = c.WithTransaction(func() error {
		must(c.SaveDocument(j(`{"name": "Boris"}`)))
		panic("boom")
	})
	var p panicked
	if !errors.As(err, &p) {
		t.Fatalf("WithTransaction after panic = %v, wanted panicked", err)
	}
	deepEqual(t, names(t, must(c.GetAll())), []string{"Petr"})
	if c.Transaction().InTransaction() {
		t.Fatalf("transaction still active after panic")
	}
}

func TestUniqueTx_end(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "contacts")

	save := func(name string, fail error) (err error) {
		utx, err := StartUnique(c)
		if err != nil {
			return err
		}
		defer utx.End(&err)
		if _, err := c.SaveDocument(j(`{"name": "` + name + `"}`)); err != nil {
			return err
		}
		return fail
	}

	noerr(t, save("Petr", nil))
	failure := errors.New("failure")
	if err := save("Ivan", failure); err != failure {
		t.Fatalf("save = %v, wanted %v", err, failure)
	}
	deepEqual(t, names(t, must(c.GetAll())), []string{"Petr"})

	func() {
		defer func() {
			if p := recover(); p != "boom" {
				t.Errorf("** recovered %v, wanted boom", p)
			}
		}()
		utx := must(StartUnique(c))
		defer utx.End(nil)
		must(c.SaveDocument(j(`{"name": "Boris"}`)))
		panic("boom")
	}()
	deepEqual(t, names(t, must(c.GetAll())), []string{"Petr"})
	if c.Transaction().InTransaction() {
		t.Fatalf("transaction still active after panic")
	}
}

func TestUniqueTx_ownership(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "contacts")

	_, err := AdoptUnique(c)
	wantCode(t, err, ecode.IllegalTransactionState)

	a := TryStartUnique(c)
	if !a.Owned() {
		t.Fatalf("TryStartUnique did not own a fresh transaction")
	}
	b := TryStartUnique(c)
	if b.Owned() {
		t.Fatalf("second TryStartUnique owns a transaction")
	}
	wantCode(t, b.Commit(), ecode.IllegalTransactionState)
	wantCode(t, b.Abort(), ecode.IllegalTransactionState)

	must(c.SaveDocument(j(`{"name": "Petr"}`)))
	noerr(t, b.Assign(a))
	if a.Owned() || !b.Owned() {
		t.Fatalf("after Assign owned = (%v, %v), wanted (false, true)", a.Owned(), b.Owned())
	}
	noerr(t, b.Commit())
	deepEqual(t, len(must(c.GetAll())), 1)

	tx := must(StartUnique(c)).Release()
	if !tx.InTransaction() {
		t.Fatalf("Release terminated the transaction")
	}
	adopted := must(AdoptUnique(c))
	if adopted.Transaction().Collection() != c {
		t.Fatalf("adopted a transaction of another collection")
	}
	must(c.SaveDocument(j(`{"name": "Ivan"}`)))
	noerr(t, adopted.Abort())
	deepEqual(t, len(must(c.GetAll())), 1)

	// a non-owning End is a no-op
	var endErr error
	adopted.End(&endErr)
	noerr(t, endErr)
}

func TestUniqueTx_assignAbortsOwned(t *testing.T) {
	db := setup(t)
	c1 := setupColl(t, db, "c1")
	c2 := setupColl(t, db, "c2")

	dst := must(StartUnique(c1))
	must(c1.SaveDocument(j(`{"name": "Petr"}`)))
	src := must(StartUnique(c2))
	must(c2.SaveDocument(j(`{"name": "Ivan"}`)))

	noerr(t, dst.Assign(src))
	if c1.Transaction().InTransaction() {
		t.Fatalf("Assign kept the previously owned transaction")
	}
	isempty(t, must(c1.GetAll()))

	var err error
	dst.End(&err)
	noerr(t, err)
	deepEqual(t, names(t, must(c2.GetAll())), []string{"Ivan"})
}

func TestTx_invalidCollection(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "contacts")
	noerr(t, db.RemoveCollection("contacts", true))

	wantCode(t, c.Transaction().Start(), ecode.HandleExpired)
	if c.Transaction().InTransaction() {
		t.Fatalf("InTransaction() = true on a removed collection")
	}
	_, err := StartUnique(c)
	wantCode(t, err, ecode.HandleExpired)
	_, err = AdoptUnique(c)
	wantCode(t, err, ecode.HandleExpired)
}
