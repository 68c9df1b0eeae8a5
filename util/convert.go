package util

import (
	"fmt"
)

// ToString formats v with its default format
func ToString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}
