// Package chunkopts evaluates knitr style chunk option strings such as
// `echo=TRUE, fig.width=7, fig.cap="Totals"` into structured options.
package chunkopts

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

// LabelKey holds an unnamed leading option, which knitr treats as the label.
const LabelKey = "label"

// Evaluator implements core.OptionEvaluator.
type Evaluator struct {
	log pslog.Logger
}

// New constructs an Evaluator.
func New(logger pslog.Logger) *Evaluator {
	return &Evaluator{log: logger}
}

// Evaluate parses raw into chunk options.
func (e *Evaluator) Evaluate(ctx context.Context, raw string) (schema.ChunkOptions, error) {
	opts, err := Parse(raw)
	log := e.log
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	if err != nil {
		log.Debug("chunk options rejected", "options", raw, "err", err)
		return nil, err
	}
	log.Trace("chunk options evaluated", "count", len(opts))
	return opts, nil
}

// Parse splits raw on top-level commas and decodes each key=value pair.
// Errors wrap schema.ErrOptionEval.
func Parse(raw string) (schema.ChunkOptions, error) {
	opts := schema.ChunkOptions{}
	items, err := splitTopLevel(raw)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			if len(items) == 1 {
				continue
			}
			return nil, fmt.Errorf("%w: empty option at position %d", schema.ErrOptionEval, i+1)
		}
		key, value, ok := cutAssign(item)
		if !ok {
			if i != 0 {
				return nil, fmt.Errorf("%w: option %q has no value", schema.ErrOptionEval, item)
			}
			label, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			opts[LabelKey] = label
			continue
		}
		key = strings.TrimSpace(key)
		if !validKey(key) {
			return nil, fmt.Errorf("%w: invalid option name %q", schema.ErrOptionEval, key)
		}
		if _, dup := opts[key]; dup {
			return nil, fmt.Errorf("%w: duplicate option %q", schema.ErrOptionEval, key)
		}
		decoded, err := decodeValue(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", key, err)
		}
		opts[key] = decoded
	}
	return opts, nil
}

// splitTopLevel splits on commas that are outside quotes and brackets.
func splitTopLevel(raw string) ([]string, error) {
	var (
		items []string
		depth int
		quote rune
		start int
		esc   bool
	)
	for i, r := range raw {
		if quote != 0 {
			switch {
			case esc:
				esc = false
			case r == '\\':
				esc = true
			case r == quote:
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unbalanced %q at offset %d", schema.ErrOptionEval, r, i)
			}
		case ',':
			if depth == 0 {
				items = append(items, raw[start:i])
				start = i + 1
			}
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated string", schema.ErrOptionEval)
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unbalanced brackets", schema.ErrOptionEval)
	}
	return append(items, raw[start:]), nil
}

// cutAssign splits on the first top-level '=' that is not part of a
// comparison operator.
func cutAssign(item string) (string, string, bool) {
	var quote rune
	depth := 0
	for i, r := range item {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			quote = r
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(item) && item[i+1] == '=' {
				return "", "", false
			}
			if i > 0 && strings.ContainsRune("<>!", rune(item[i-1])) {
				return "", "", false
			}
			return item[:i], item[i+1:], true
		}
	}
	return "", "", false
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '.' || r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// decodeValue maps an R literal to a Go value. Logical constants become
// bools, NULL and NA become nil, quoted strings are unquoted, c(...) becomes
// a slice and numbers are decoded as YAML scalars. Anything else is kept as
// the expression text.
func decodeValue(value string) (any, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing value", schema.ErrOptionEval)
	}
	switch value {
	case "TRUE", "T":
		return true, nil
	case "FALSE", "F":
		return false, nil
	case "NULL", "NA":
		return nil, nil
	}
	if unquoted, ok, err := unquote(value); ok {
		return unquoted, err
	}
	if inner, ok := vectorBody(value); ok {
		items, err := splitTopLevel(inner)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			item = strings.TrimSpace(item)
			if item == "" && len(items) == 1 {
				break
			}
			decoded, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, decoded)
		}
		return out, nil
	}
	if n, err := strconv.ParseInt(strings.TrimSuffix(value, "L"), 10, 64); err == nil && strings.HasSuffix(value, "L") {
		return int(n), nil
	}
	var scalar any
	if err := yaml.Unmarshal([]byte(value), &scalar); err == nil {
		switch v := scalar.(type) {
		case int, float64:
			return v, nil
		}
	}
	return value, nil
}

func unquote(value string) (string, bool, error) {
	if len(value) < 2 {
		return "", false, nil
	}
	first, last := value[0], value[len(value)-1]
	if (first != '"' && first != '\'') || last != first {
		return "", false, nil
	}
	body := value[1 : len(value)-1]
	if first == '\'' {
		body = strings.ReplaceAll(body, `\'`, `'`)
		body = strings.ReplaceAll(body, `"`, `\"`)
	}
	out, err := strconv.Unquote(`"` + body + `"`)
	if err != nil {
		return "", true, fmt.Errorf("%w: bad string literal %s", schema.ErrOptionEval, value)
	}
	return out, true, nil
}

func vectorBody(value string) (string, bool) {
	if !strings.HasPrefix(value, "c(") || !strings.HasSuffix(value, ")") {
		return "", false
	}
	return value[2 : len(value)-1], true
}
