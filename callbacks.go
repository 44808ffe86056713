package recordx

import "context"

// Callback identifies a lifecycle transition that hooks can wrap.
type Callback int

const (
	// CallbackValidation wraps validation.
	CallbackValidation Callback = iota
	// CallbackSave wraps every save, outside CallbackCreate/CallbackUpdate.
	CallbackSave
	// CallbackCreate wraps the first persist of a new record.
	CallbackCreate
	// CallbackUpdate wraps persisting an already persisted record.
	CallbackUpdate
	// CallbackDestroy wraps removal.
	CallbackDestroy
)

// String returns the callback name.
func (c Callback) String() string {
	switch c {
	case CallbackValidation:
		return "validation"
	case CallbackSave:
		return "save"
	case CallbackCreate:
		return "create"
	case CallbackUpdate:
		return "update"
	case CallbackDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// Hook runs before or after a transition. A non-nil error aborts the
// transition and is returned to the caller.
type Hook func(ctx context.Context, r *Record) error

type callbacks struct {
	before    map[Callback][]Hook
	after     map[Callback][]Hook
	afterInit []func(r *Record)
}

func newCallbacks() *callbacks {
	return &callbacks{
		before: make(map[Callback][]Hook),
		after:  make(map[Callback][]Hook),
	}
}

// run invokes before hooks, fn, then after hooks, stopping at the first error.
func (c *callbacks) run(ctx context.Context, kind Callback, r *Record, fn func() error) error {
	for _, h := range c.before[kind] {
		if err := h(ctx, r); err != nil {
			return err
		}
	}
	if err := fn(); err != nil {
		return err
	}
	for _, h := range c.after[kind] {
		if err := h(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (c *callbacks) initialized(r *Record) {
	for _, fn := range c.afterInit {
		fn(r)
	}
}

func (c *callbacks) clone() *callbacks {
	out := newCallbacks()
	for k, hooks := range c.before {
		out.before[k] = append([]Hook(nil), hooks...)
	}
	for k, hooks := range c.after {
		out.after[k] = append([]Hook(nil), hooks...)
	}
	out.afterInit = append(out.afterInit, c.afterInit...)
	return out
}
