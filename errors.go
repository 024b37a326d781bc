package tagcache

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNilProducer = errors.New("tagcache: nil producer")

// TagInvalidateError reports keys whose primary-store delete failed during
// InvalidateTag. Their tag bookkeeping and fallback copies are already gone,
// but the primary may keep serving them until the entry TTL elapses.
type TagInvalidateError struct {
	Tag  string
	Keys []string
	Errs []error
}

func (e *TagInvalidateError) Error() string {
	return fmt.Sprintf("invalidate tag %q: primary delete failed for %d key(s): %s",
		e.Tag, len(e.Keys), strings.Join(e.Keys, ", "))
}

func (e *TagInvalidateError) Unwrap() []error { return e.Errs }
