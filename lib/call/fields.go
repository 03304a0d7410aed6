package call

import (
	"context"
	"sort"
	"strings"
)

// Fields is a snapshot of log context key/value pairs. It replaces implicit
// per-goroutine logging state: the snapshot is taken at submission and travels
// with the envelope to whichever goroutine runs the call.
type Fields map[string]string

type fieldsKey struct{}

// WithFields returns a context carrying the given key/value pairs merged with the
// fields already present in ctx. A trailing key without value is ignored.
func WithFields(ctx context.Context, kv ...string) context.Context {
	merged := FieldsFrom(ctx).clone()
	for i := 0; i+1 < len(kv); i += 2 {
		merged[kv[i]] = kv[i+1]
	}
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// FieldsFrom returns the fields stored in ctx, never nil
func FieldsFrom(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	if f, ok := ctx.Value(fieldsKey{}).(Fields); ok {
		return f
	}
	return Fields{}
}

func (f Fields) clone() Fields {
	c := make(Fields, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// String renders the fields as sorted "k=v" pairs
func (f Fields) String() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(f[k])
	}
	return sb.String()
}
