package recordx

import (
	"context"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const blankKey = "can't be blank"

// Validator checks a record and adds messages to errs.
type Validator interface {
	Validate(ctx context.Context, r *Record, errs *Errors)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, r *Record, errs *Errors)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, r *Record, errs *Errors) {
	f(ctx, r, errs)
}

// PresenceOf requires each named attribute to be present: non-nil and, for
// strings, not blank.
func PresenceOf(names ...string) Validator {
	return ValidatorFunc(func(_ context.Context, r *Record, errs *Errors) {
		for _, name := range names {
			v, _ := r.ReadAttribute(name)
			if isBlank(v) {
				errs.Add(name, blankKey)
			}
		}
	})
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// Errors collects validation messages per attribute, in the order they were
// added.
type Errors struct {
	order    []string
	messages map[string][]string
}

func newErrors() *Errors {
	return &Errors{messages: make(map[string][]string)}
}

// Add records message for attribute.
func (e *Errors) Add(attribute, message string) {
	if _, ok := e.messages[attribute]; !ok {
		e.order = append(e.order, attribute)
	}
	e.messages[attribute] = append(e.messages[attribute], message)
}

// On returns the messages recorded for attribute.
func (e *Errors) On(attribute string) []string {
	if e == nil {
		return nil
	}
	return e.messages[attribute]
}

// Empty reports whether no messages were recorded.
func (e *Errors) Empty() bool {
	return e == nil || len(e.order) == 0
}

// Len returns the total number of messages.
func (e *Errors) Len() int {
	if e == nil {
		return 0
	}
	n := 0
	for _, msgs := range e.messages {
		n += len(msgs)
	}
	return n
}

// FullMessages returns "Attribute message" strings in English.
func (e *Errors) FullMessages() []string {
	return e.localizedMessages(message.NewPrinter(language.English))
}

func (e *Errors) localizedMessages(p *message.Printer) []string {
	if e == nil {
		return nil
	}
	var out []string
	for _, attr := range e.order {
		for _, msg := range e.messages[attr] {
			out = append(out, humanize(attr)+" "+p.Sprintf(msg))
		}
	}
	return out
}

// humanize turns "publish_at" into "Publish at".
func humanize(name string) string {
	s := strings.ReplaceAll(strings.TrimPrefix(name, "_"), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
