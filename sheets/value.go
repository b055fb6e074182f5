package sheets

import "fmt"

// Norm flattens a cell value to a string-or-number scalar. Nil becomes the
// empty string; anything that is neither a string nor a number is stringified.
func Norm(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return fmt.Sprint(x)
	}
}

// Equal compares two cell values after normalization. Numbers compare as
// numbers regardless of their Go representation; a number never equals its
// string form.
func Equal(a, b any) bool {
	return Norm(a) == Norm(b)
}

// IsEmpty reports whether a cell holds no usable value.
func IsEmpty(v any) bool {
	n := Norm(v)
	return n == "" || n == nil
}
