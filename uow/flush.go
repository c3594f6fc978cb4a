package uow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nasdf/tapir/changeset"
	"github.com/nasdf/tapir/document"
	"github.com/nasdf/tapir/metrics"
	"github.com/nasdf/tapir/store"
)

// DocumentError is the failure of a single document write.
type DocumentError struct {
	Doc *document.Document
	Err error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Doc, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// FlushError is returned by Flush when some documents could not be written.
// Every other write of the flush was committed.
type FlushError struct {
	Errors []*DocumentError
}

func (e *FlushError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("failed to write %d documents: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *FlushError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		errs[i] = err
	}
	return errs
}

// Failed reports whether the write of doc failed.
func (e *FlushError) Failed(doc *document.Document) bool {
	for _, err := range e.Errors {
		if err.Doc == doc {
			return true
		}
	}
	return false
}

type pending struct {
	doc   *document.Document
	entry *entry
	write store.Write
}

// ComputeChangeSets returns the change sets of all managed documents that were
// written before and changed since.
func (u *UnitOfWork) ComputeChangeSets(ctx context.Context) (map[*document.Document]*changeset.ChangeSet, error) {
	start := time.Now()
	var tracked []changeset.Tracked
	for doc, e := range u.entries {
		if e.state != document.StateManaged || e.insert {
			continue
		}
		tracked = append(tracked, changeset.Tracked{Doc: doc, Class: e.class, Snapshot: e.snapshot})
	}
	sets, err := u.computer.Compute(ctx, tracked)
	if err != nil {
		return nil, err
	}
	u.metrics.ComputeDuration.Observe(time.Since(start).Seconds())
	u.metrics.ChangeSets.Add(float64(len(sets)))
	return sets, nil
}

// Flush writes all pending inserts, updates and removals in a single batch.
//
// A document whose write fails keeps its previous snapshot so its changes are
// written again by the next flush. Those failures are reported with a *FlushError.
func (u *UnitOfWork) Flush(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		u.metrics.ObserveFlush(start, err)
	}()

	docs := u.managed()
	visited := make(map[*document.Document]bool)
	for _, doc := range docs {
		e := u.entries[doc]
		if e == nil || e.state != document.StateManaged {
			continue
		}
		if err := u.persist(doc, visited); err != nil {
			return err
		}
	}

	sets, err := u.ComputeChangeSets(ctx)
	if err != nil {
		return err
	}

	var failed []*DocumentError
	var writes []pending
	for _, doc := range u.managed() {
		e := u.entries[doc]
		w := store.Write{Collection: e.class.Collection, ID: e.key.id}
		switch {
		case e.state == document.StateRemoved:
			w.Kind = store.WriteDelete
		case e.insert:
			n, err := u.normalizer.NormalizeDocument(e.class, doc)
			if err != nil {
				failed = append(failed, &DocumentError{Doc: doc, Err: err})
				continue
			}
			w.Kind = store.WriteInsert
			w.Document = n
		default:
			cs, ok := sets[doc]
			if !ok {
				continue
			}
			update, err := u.normalizer.Update(cs)
			if err != nil {
				failed = append(failed, &DocumentError{Doc: doc, Err: err})
				continue
			}
			w.Kind = store.WriteUpdate
			w.Update = update
		}
		writes = append(writes, pending{doc: doc, entry: e, write: w})
	}

	if len(writes) > 0 {
		batch := make([]store.Write, len(writes))
		for i, p := range writes {
			batch[i] = p.write
		}
		errs, err := u.store.Write(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}
		for i, p := range writes {
			if errs[i] != nil {
				failed = append(failed, &DocumentError{Doc: p.doc, Err: errs[i]})
				continue
			}
			if err := u.written(p); err != nil {
				failed = append(failed, &DocumentError{Doc: p.doc, Err: err})
			}
		}
	}

	u.metrics.WriteErrors.Add(float64(len(failed)))
	u.log.Debugw("flushed", "writes", len(writes), "failed", len(failed), "duration", time.Since(start))
	if len(failed) > 0 {
		for _, f := range failed {
			u.log.Warnw("document write failed", "document", f.Doc.String(), "error", f.Err)
		}
		return &FlushError{Errors: failed}
	}
	return nil
}

// written records a successful write of a pending document.
func (u *UnitOfWork) written(p pending) error {
	switch p.write.Kind {
	case store.WriteDelete:
		u.untrack(p.doc)
		u.metrics.DocumentsWritten.WithLabelValues(metrics.KindDelete).Inc()
		return nil
	case store.WriteInsert:
		p.entry.insert = false
		u.metrics.DocumentsWritten.WithLabelValues(metrics.KindInsert).Inc()
	default:
		u.metrics.DocumentsWritten.WithLabelValues(metrics.KindUpdate).Inc()
	}
	snapshot, err := u.computer.Take(p.entry.class, p.doc)
	if err != nil {
		return err
	}
	p.entry.snapshot = snapshot
	return nil
}

// IsFlushError reports whether err contains per-document write failures and returns them.
func IsFlushError(err error) (*FlushError, bool) {
	var flushErr *FlushError
	if errors.As(err, &flushErr) {
		return flushErr, true
	}
	return nil, false
}
