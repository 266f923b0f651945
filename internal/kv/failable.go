package kv

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrInjectedFailure is returned by Failable when its plan fires.
var ErrInjectedFailure = errors.New("injected storage failure")

// FailurePlan decides whether the next operation named op fails.
type FailurePlan interface {
	ShouldFail(op string) bool
}

// FailAfter lets n operations through and fails every one after that.
type FailAfter struct {
	limit int64
	calls atomic.Int64
}

// NewFailAfter returns a plan failing from operation n+1 onwards.
func NewFailAfter(n int) *FailAfter {
	return &FailAfter{limit: int64(n)}
}

// ShouldFail implements FailurePlan.
func (f *FailAfter) ShouldFail(string) bool {
	return f.calls.Add(1) > f.limit
}

// Calls returns the number of operations seen so far.
func (f *FailAfter) Calls() int {
	return int(f.calls.Load())
}

// Failable wraps a Storage and fails operations at the boundaries chosen by a
// FailurePlan. Each failure leaves the wrapped storage exactly as it was
// before the failing operation, which is what a crash at that point would do.
type Failable struct {
	Storage
	plan FailurePlan
}

// NewFailable wraps s. A nil plan never fails.
func NewFailable(s Storage, plan FailurePlan) *Failable {
	return &Failable{Storage: s, plan: plan}
}

// SetPlan swaps the failure plan. A nil plan never fails.
func (f *Failable) SetPlan(plan FailurePlan) {
	f.plan = plan
}

func (f *Failable) fail(op string) error {
	if f.plan != nil && f.plan.ShouldFail(op) {
		return ErrInjectedFailure
	}
	return nil
}

// Get implements Storage.
func (f *Failable) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.fail("get"); err != nil {
		return nil, err
	}
	return f.Storage.Get(ctx, key)
}

// GetMany implements Storage.
func (f *Failable) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := f.fail("get_many"); err != nil {
		return nil, err
	}
	return f.Storage.GetMany(ctx, keys)
}

// Put implements Storage.
func (f *Failable) Put(ctx context.Context, key string, value []byte) error {
	if err := f.fail("put"); err != nil {
		return err
	}
	return f.Storage.Put(ctx, key, value)
}

// Delete implements Storage.
func (f *Failable) Delete(ctx context.Context, keys ...string) error {
	if err := f.fail("delete"); err != nil {
		return err
	}
	return f.Storage.Delete(ctx, keys...)
}

// Transaction implements Storage. A failure of any operation inside fn
// aborts the whole transaction.
func (f *Failable) Transaction(ctx context.Context, fn func(Txn) error) error {
	if err := f.fail("transaction"); err != nil {
		return err
	}
	return f.Storage.Transaction(ctx, func(txn Txn) error {
		return fn(&failableTxn{Txn: txn, fail: f.fail})
	})
}

// List implements Storage.
func (f *Failable) List(ctx context.Context, opts ListOptions) (Iterator, error) {
	if err := f.fail("list"); err != nil {
		return nil, err
	}
	return f.Storage.List(ctx, opts)
}

type failableTxn struct {
	Txn
	fail func(op string) error
}

func (t *failableTxn) Get(key string) ([]byte, error) {
	if err := t.fail("txn_get"); err != nil {
		return nil, err
	}
	return t.Txn.Get(key)
}

func (t *failableTxn) Put(key string, value []byte) error {
	if err := t.fail("txn_put"); err != nil {
		return err
	}
	return t.Txn.Put(key, value)
}

func (t *failableTxn) Delete(key string) error {
	if err := t.fail("txn_delete"); err != nil {
		return err
	}
	return t.Txn.Delete(key)
}
