package enums

import (
	"fmt"
	"slices"
	"strings"
)

// parse matches value case-insensitively against the known members.
func parse[T ~string](kind, value string, members []T) (T, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, m := range members {
		if string(m) == normalized {
			return m, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}

func known[T ~string](members []T, value T) bool {
	return slices.Contains(members, value)
}
