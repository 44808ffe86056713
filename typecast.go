package recordx

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cast"
)

// TypecastFunc converts a raw stored or input value into its in-memory
// representation. It must accept values already in canonical form and
// return them unchanged.
type TypecastFunc func(value any) (any, error)

// Storage type tags with built-in typecasts.
const (
	TypeString  = "string"
	TypeDate    = "date"
	TypeInteger = "integer"
	TypeLong    = "long"
	TypeFloat   = "float"
	TypeDouble  = "double"
	TypeBoolean = "boolean"
)

func identity(value any) (any, error) {
	return value, nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// castDate passes time values through and parses ISO-8601 strings.
func castDate(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case string:
		var firstErr error
		for _, layout := range dateLayouts {
			t, err := time.Parse(layout, v)
			if err == nil {
				return t, nil
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		return nil, errors.Wrapf(firstErr, "parse date %q", v)
	default:
		return nil, errors.Newf("cannot cast %T to date", value)
	}
}

func castInteger(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	n, err := cast.ToInt64E(value)
	if err != nil {
		return nil, errors.Wrapf(err, "cast %v to integer", value)
	}
	return n, nil
}

func castFloat(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return nil, errors.Wrapf(err, "cast %v to float", value)
	}
	return f, nil
}

func castBoolean(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	b, err := cast.ToBoolE(value)
	if err != nil {
		return nil, errors.Wrapf(err, "cast %v to boolean", value)
	}
	return b, nil
}

func builtinTypes() map[string]TypecastFunc {
	return map[string]TypecastFunc{
		TypeDate:    castDate,
		TypeInteger: castInteger,
		TypeLong:    castInteger,
		TypeFloat:   castFloat,
		TypeDouble:  castFloat,
		TypeBoolean: castBoolean,
	}
}
