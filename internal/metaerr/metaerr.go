package metaerr

import (
	"errors"
)

// metaError attaches structured key/value metadata to an error without
// changing its message. The metadata is meant for log output, not for users.
type metaError struct {
	err  error
	meta []any
}

func (e *metaError) Error() string {
	return e.err.Error()
}

func (e *metaError) Unwrap() error {
	return e.err
}

// WithMetadata wraps err with alternating key/value pairs that can later be
// recovered with GetMetadata. A nil err returns nil.
func WithMetadata(err error, kvs ...any) error {
	if err == nil {
		return nil
	}
	return &metaError{err: err, meta: kvs}
}

// GetMetadata collects the metadata of all wrapped errors in err's chain,
// outermost first, as a flat list of alternating key/value pairs.
func GetMetadata(err error) []any {
	var kvs []any
	for err != nil {
		var me *metaError
		if !errors.As(err, &me) {
			break
		}
		kvs = append(kvs, me.meta...)
		err = me.err
	}
	return kvs
}
