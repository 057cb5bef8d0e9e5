package transform

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Field is one extra form field sent with a request.
type Field struct {
	Key   string
	Value string
}

// ParseOptions splits a shell-quoted list of key=value pairs, for example
// `background.color=FFFFFF "result.target_size=1800 2400"`.
func ParseOptions(s string) ([]Field, error) {
	words, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid option syntax: %v", ErrInvalidConfig, err)
	}

	fields := make([]Field, 0, len(words))
	for _, w := range words {
		key, value, ok := strings.Cut(w, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: option %q is not key=value", ErrInvalidConfig, w)
		}
		if key == "image" {
			return nil, fmt.Errorf("%w: option %q is reserved", ErrInvalidConfig, key)
		}
		fields = append(fields, Field{Key: key, Value: value})
	}
	return fields, nil
}
