package payload

import (
	"fmt"
	"reflect"
)

// ValueType infers the declared Type of a concrete staged/received value.
// Payload implementations report their own type via PayloadType(); a slice of
// Payload (or of any type satisfying ValueType itself) is reported as
// seq<Elem>, so a sequence of chunks is distinguishable from a single chunk
// without requiring callers to wrap every emission in a marker type.
func ValueType(v any) Type {
	if v == nil {
		return Any
	}
	if p, ok := v.(Payload); ok {
		return p.PayloadType()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return Seq(Any)
		}
		return Seq(ValueType(rv.Index(0).Interface()))
	}
	return Any
}

// ValidateValue checks that v satisfies the declared type want, per the
// value-level rules in spec.md §4.1/§4.1 Receive: union-any, sequence
// element checks (union-distributed), and non-empty sequence requirement
// unless allowEmptySeq is set.
func ValidateValue(v any, want Type, allowEmptySeq bool) error {
	if want.Kind == KindAny {
		return nil
	}
	if want.Kind == KindUnion {
		var lastErr error
		for _, m := range want.Members {
			if err := ValidateValue(v, m, allowEmptySeq); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("value %v matches no union member of %s", v, want)
		}
		return lastErr
	}
	if want.Kind == KindSequence {
		rv := reflect.ValueOf(v)
		if v == nil || rv.Kind() != reflect.Slice {
			return fmt.Errorf("value is not a sequence, want %s", want)
		}
		if rv.Len() == 0 && !allowEmptySeq {
			return fmt.Errorf("empty sequence not permitted for %s", want)
		}
		for i := 0; i < rv.Len(); i++ {
			if err := ValidateValue(rv.Index(i).Interface(), *want.Elem, allowEmptySeq); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	}
	// KindScalar: nominal check against the value's own declared type.
	got := ValueType(v)
	if Compatible(got, want) {
		return nil
	}
	return fmt.Errorf("value of type %s does not satisfy %s", got, want)
}
