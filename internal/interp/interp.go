package interp

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
)

// templatePattern matches {{ path }}, trimming internal whitespace.
var templatePattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// ValidateTemplate fails with a ConfigError at executor entry when
// braces are unbalanced, rather than mid-run.
func ValidateTemplate(nodeID, field, template string) error {
	open := strings.Count(template, "{{")
	closeCnt := strings.Count(template, "}}")
	if open != closeCnt {
		return xerrors.NewConfigError(nodeID, field, "malformed template: unbalanced {{ }}")
	}
	return nil
}

// Interpolate replaces every {{ path }} in template with its resolved
// string value. A path that resolves to ∅ becomes the empty string.
// Secret matches are tagged internally but still substituted — callers
// that log the *rendered* string must redact the secret values returned
// as the second result.
func Interpolate(template string, scope Scope) (string, []string, error) {
	var secretsUsed []string
	result := templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		sub := templatePattern.FindStringSubmatch(match)
		path := sub[1]
		v, secret, _ := Resolve(path, scope)
		if secret {
			secretsUsed = append(secretsUsed, path)
		}
		if v == nil {
			return ""
		}
		return stringify(v)
	})
	return result, secretsUsed, nil
}

// Resolve walks a dotted/indexed path against scope and returns the
// typed value (∅ i.e. found=false on a missing path), whether the match
// came from a credential/secret tier, and whether anything matched.
func Resolve(path string, scope Scope) (value any, secret bool, found bool) {
	segments, err := splitPath(path)
	if err != nil || len(segments) == 0 {
		return nil, false, false
	}

	root := scope.lookupRoot(segments[0].key)
	if !root.found {
		return nil, false, false
	}

	cur := root.value
	for _, seg := range segments[1:] {
		cur, found = step(cur, seg)
		if !found {
			return nil, root.secret, false
		}
	}
	return cur, root.secret, true
}

type segment struct {
	key   string
	index int
	isIdx bool
}

// splitPath splits on "." and parses bracket notation: [i] selects an
// array index, ["k"] selects a string key that itself may contain dots.
func splitPath(path string) ([]segment, error) {
	var segs []segment
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, segment{key: cur.String()})
			cur.Reset()
		}
	}

	runes := []rune(path)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexRune(string(runes[i+1:]), ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated bracket in path %q", path)
			}
			inner := string(runes[i+1 : i+1+end])
			i += end + 1
			if strings.HasPrefix(inner, `"`) && strings.HasSuffix(inner, `"`) && len(inner) >= 2 {
				segs = append(segs, segment{key: inner[1 : len(inner)-1]})
			} else if idx, err := strconv.Atoi(inner); err == nil {
				segs = append(segs, segment{index: idx, isIdx: true})
			} else {
				segs = append(segs, segment{key: inner})
			}
		default:
			cur.WriteRune(runes[i])
		}
	}
	flush()
	return segs, nil
}

func step(cur any, seg segment) (any, bool) {
	if seg.isIdx {
		rv := reflect.ValueOf(cur)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, false
		}
		if seg.index < 0 || seg.index >= rv.Len() {
			return nil, false
		}
		return rv.Index(seg.index).Interface(), true
	}

	switch m := cur.(type) {
	case map[string]any:
		v, ok := m[seg.key]
		return v, ok
	default:
		rv := reflect.ValueOf(cur)
		if rv.Kind() == reflect.Map {
			v := rv.MapIndex(reflect.ValueOf(seg.key))
			if !v.IsValid() {
				return nil, false
			}
			return v.Interface(), true
		}
		return nil, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
