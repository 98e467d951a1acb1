package task

import "fmt"

// Result is the structured shape a runner may return instead of a bare
// string.
type Result struct {
	// ReturnValue is a short human-readable summary, the only part most
	// listings display.
	ReturnValue string

	// JSONBlob holds a larger machine-readable result; prefer it for
	// anything tooling will inspect later.
	JSONBlob string

	// SecondaryBlob is an opaque serialization for values that do not
	// fit JSON.
	SecondaryBlob []byte
}

// normalizeResult coerces the value returned by a runner into a Result.
// Exactly two shapes are legal: a string or a (pointer to) Result.
// Anything else is a bug in the runner and is surfaced immediately.
func normalizeResult(v any) (*Result, error) {
	switch res := v.(type) {
	case string:
		return &Result{ReturnValue: res}, nil
	case *Result:
		if res == nil {
			return nil, fmt.Errorf("runner returned a nil *Result")
		}
		return res, nil
	case Result:
		return &res, nil
	default:
		return nil, fmt.Errorf("runner must return string or Result, not %T", v)
	}
}
