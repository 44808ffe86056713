package recordx

import (
	"context"
	"time"

	"github.com/letmevibethatforyou/recordx/internal/metrics"
)

// Create builds a record from attrs and saves it. The record is returned
// even when validation fails; check IsPersisted and Errors.
func (m *Model) Create(ctx context.Context, attrs map[string]any) (*Record, error) {
	r, err := m.New(attrs)
	if err != nil {
		return nil, err
	}
	if _, err := r.Save(ctx); err != nil {
		return r, err
	}
	return r, nil
}

// CreateStrict is Create but fails with a *RecordInvalidError when the
// record is invalid.
func (m *Model) CreateStrict(ctx context.Context, attrs map[string]any) (*Record, error) {
	r, err := m.New(attrs)
	if err != nil {
		return nil, err
	}
	if err := r.SaveStrict(ctx); err != nil {
		return r, err
	}
	return r, nil
}

// Save validates and persists the record. It returns false without touching
// the store when validation fails. New records are posted when they carry no
// identifier and put otherwise; persisted records are put.
//
// Save hooks wrap create hooks for new records and update hooks for
// persisted ones. A hook error aborts the save and is returned.
func (r *Record) Save(ctx context.Context) (ok bool, err error) {
	valid, err := r.Valid(ctx)
	if err != nil || !valid {
		return false, err
	}

	kind := CallbackUpdate
	if r.newRecord {
		kind = CallbackCreate
	}

	m := r.model
	ctx, span := m.startSpan(ctx, "recordx.save", m.mapping.CurrentIndexName(r))
	defer func() { endSpan(span, err) }()

	err = m.callbacks.run(ctx, CallbackSave, r, func() error {
		return m.callbacks.run(ctx, kind, r, func() error {
			return r.persist(ctx)
		})
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveStrict is Save but fails with a *RecordInvalidError when the record is
// invalid.
func (r *Record) SaveStrict(ctx context.Context) error {
	ok, err := r.Save(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &RecordInvalidError{Record: r}
	}
	return nil
}

// UpdateAttributes mass-assigns attrs and saves.
func (r *Record) UpdateAttributes(ctx context.Context, attrs map[string]any) (bool, error) {
	if err := r.SetAttributes(attrs); err != nil {
		return false, err
	}
	return r.Save(ctx)
}

// UpdateAttributesStrict is UpdateAttributes but fails with a
// *RecordInvalidError when the record is invalid.
func (r *Record) UpdateAttributesStrict(ctx context.Context, attrs map[string]any) error {
	if err := r.SetAttributes(attrs); err != nil {
		return err
	}
	return r.SaveStrict(ctx)
}

// Destroy removes a persisted record. It returns false without running
// hooks when the record has no identifier or is already destroyed.
func (r *Record) Destroy(ctx context.Context) (ok bool, err error) {
	if r.destroyed || r.ID() == "" {
		return false, nil
	}

	m := r.model
	ctx, span := m.startSpan(ctx, "recordx.destroy", m.mapping.CurrentIndexName(r))
	defer func() { endSpan(span, err) }()

	err = m.callbacks.run(ctx, CallbackDestroy, r, func() error {
		return r.remove(ctx)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Record) persist(ctx context.Context) error {
	m := r.model
	body := r.attrs.Map()
	id := r.ID()

	err := m.pool.WithType(ctx, m.mapping.CurrentIndexName(r), m.mapping.TypeName(), func(ctx context.Context, t Type) error {
		start := time.Now()
		var (
			meta Meta
			err  error
		)
		if id != "" {
			meta, err = t.Put(ctx, id, body)
			metrics.ObserveStoreOp("put", start, err)
		} else {
			meta, err = t.Post(ctx, body)
			metrics.ObserveStoreOp("post", start, err)
		}
		if err != nil {
			return err
		}
		for k, v := range meta {
			r.WriteAttribute(k, v)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, ok := r.meta[MetaTimestamp]; !ok {
		r.meta[MetaTimestamp] = time.Now().UTC()
	}
	r.newRecord = false
	r.clearChanges()
	return nil
}

func (r *Record) remove(ctx context.Context) error {
	m := r.model
	id := r.ID()

	err := m.pool.WithType(ctx, m.mapping.CurrentIndexName(r), m.mapping.TypeName(), func(ctx context.Context, t Type) error {
		start := time.Now()
		err := t.Delete(ctx, id)
		metrics.ObserveStoreOp("delete", start, err)
		return err
	})
	if err != nil {
		return err
	}
	r.destroyed = true
	return nil
}
