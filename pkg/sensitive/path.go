package sensitive

import (
	"fmt"
	"strconv"
	"strings"
)

// Field paths use dot notation with bracketed indices, e.g.
// "data.accounts[0].token".
type segment struct {
	key     string
	index   int
	isIndex bool
}

func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty field path")
	}

	var segments []segment
	for _, part := range strings.Split(path, ".") {
		for {
			open := strings.Index(part, "[")
			if open < 0 {
				if part != "" {
					segments = append(segments, segment{key: part})
				}
				break
			}
			if open > 0 {
				segments = append(segments, segment{key: part[:open]})
			}
			closing := strings.Index(part[open:], "]")
			if closing < 0 {
				return nil, fmt.Errorf("unterminated index in path segment %q", part)
			}
			idx, err := strconv.Atoi(part[open+1 : open+closing])
			if err != nil {
				return nil, fmt.Errorf("invalid index in path segment %q: %w", part, err)
			}
			segments = append(segments, segment{index: idx, isIndex: true})
			part = part[open+closing+1:]
		}
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("empty field path")
	}
	return segments, nil
}

// getPath walks a decoded JSON value. Missing keys or out-of-range indices
// report absence, not errors; absent fields are simply skipped.
func getPath(root any, segments []segment) (any, bool) {
	current := root
	for _, seg := range segments {
		if seg.isIndex {
			arr, ok := current.([]any)
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return nil, false
			}
			current = arr[seg.index]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg.key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath replaces the value at the path in place. The final container must
// be a map or a slice reached through the same navigation as getPath.
func setPath(root any, segments []segment, value any) bool {
	if len(segments) == 0 {
		return false
	}

	parent, ok := root, true
	if len(segments) > 1 {
		parent, ok = getPath(root, segments[:len(segments)-1])
		if !ok {
			return false
		}
	}

	last := segments[len(segments)-1]
	if last.isIndex {
		arr, ok := parent.([]any)
		if !ok || last.index < 0 || last.index >= len(arr) {
			return false
		}
		arr[last.index] = value
		return true
	}

	obj, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	if _, exists := obj[last.key]; !exists {
		return false
	}
	obj[last.key] = value
	return true
}
