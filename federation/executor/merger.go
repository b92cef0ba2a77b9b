package executor

import "fmt"

// Merge merges the fields of source into target.
// Nested objects present on both sides are merged recursively, lists are merged
// element by element when their lengths agree and any other value in source
// replaces the one in target.
func Merge(target, source map[string]any) error {
	for k, v := range source {
		existing, ok := target[k]
		if !ok || existing == nil || v == nil {
			target[k] = v
			continue
		}

		switch src := v.(type) {
		case map[string]any:
			dst, ok := existing.(map[string]any)
			if !ok {
				target[k] = v
				continue
			}
			if err := Merge(dst, src); err != nil {
				return fmt.Errorf("%s.%w", k, err)
			}
		case []any:
			dst, ok := existing.([]any)
			if !ok {
				target[k] = v
				continue
			}
			if len(dst) != len(src) {
				return fmt.Errorf("%s: list lengths do not match: target=%d, source=%d", k, len(dst), len(src))
			}
			for i := range src {
				dm, dok := dst[i].(map[string]any)
				sm, sok := src[i].(map[string]any)
				if !dok || !sok {
					dst[i] = src[i]
					continue
				}
				if err := Merge(dm, sm); err != nil {
					return fmt.Errorf("%s[%d].%w", k, i, err)
				}
			}
		default:
			target[k] = v
		}
	}
	return nil
}
