// Package repair analyzes tool-call validation errors and rewrites the
// offending parameters to match what the server expected. It works from
// error text alone, so it applies to any MCP server that reports schema
// violations in a recognizable shape.
package repair

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Correction records one applied parameter rewrite.
type Correction struct {
	Original       map[string]any `json:"original_params"`
	Corrected      map[string]any `json:"corrected_params"`
	Transformation string         `json:"transformation_applied"`
	Confidence     float64        `json:"confidence"`
}

// pathField extracts the failing field name from zod-style error
// payloads, e.g. {"path": ["indices"], ...}.
var pathField = regexp.MustCompile(`"path":\s*\[\s*"([^"]+)"\s*\]`)

var quoted = regexp.MustCompile(`"([^"]+)"`)

// queryAliases are parameter names callers commonly use for a required
// "query" field.
var queryAliases = []string{"esql", "sql", "search", "statement", "command", "expression"}

type transform struct {
	name  string
	apply func(errMsg string, params map[string]any) *Correction
}

var transforms = []transform{
	{"string_to_array", stringToArray},
	{"singular_to_plural", singularToPlural},
	{"snake_to_camel", snakeToCamel},
	{"known_patterns", knownPatterns},
}

// Analyze inspects a validation error and attempts to produce corrected
// parameters. Returns nil when no transformation matches; callers retry
// at most once with the corrected set.
func Analyze(errMsg string, params map[string]any, logger *slog.Logger) *Correction {
	if logger == nil {
		logger = slog.Default()
	}

	for _, t := range transforms {
		if c := t.apply(errMsg, params); c != nil {
			logger.Debug("parameter correction applied",
				"transform", t.name, "detail", c.Transformation, "confidence", c.Confidence)
			return c
		}
	}

	logger.Debug("no parameter correction found", "error", errMsg)
	return nil
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func toArray(v any) []any {
	if v == nil {
		return []any{}
	}
	return []any{v}
}

// stringToArray wraps a scalar in an array when the server expected an
// array at the reported path, renaming the parameter if needed.
func stringToArray(errMsg string, params map[string]any) *Correction {
	lower := strings.ToLower(errMsg)
	if !strings.Contains(lower, "array") {
		return nil
	}
	if !strings.Contains(lower, "string") && !strings.Contains(lower, "undefined") {
		return nil
	}

	m := pathField.FindStringSubmatch(errMsg)
	if m == nil {
		return nil
	}
	expected := m[1]

	for name, value := range params {
		ln, le := strings.ToLower(name), strings.ToLower(expected)
		if !strings.Contains(le, ln) && !strings.Contains(ln, le) {
			continue
		}
		corrected := cloneParams(params)
		corrected[expected] = toArray(value)
		if name != expected {
			delete(corrected, name)
		}
		return &Correction{
			Original:       params,
			Corrected:      corrected,
			Transformation: fmt.Sprintf("Converted '%s' to '%s' array", name, expected),
			Confidence:     0.8,
		}
	}
	return nil
}

// singularToPlural renames a parameter whose name differs from the
// expected one only by a trailing "s".
func singularToPlural(errMsg string, params map[string]any) *Correction {
	matches := quoted.FindAllStringSubmatch(errMsg, -1)
	if len(matches) < 2 {
		return nil
	}
	expected := matches[0][1]

	for name, value := range params {
		if name == expected {
			continue
		}
		if strings.TrimRight(name, "s") != strings.TrimRight(expected, "s") {
			continue
		}
		corrected := cloneParams(params)
		corrected[expected] = value
		delete(corrected, name)
		return &Correction{
			Original:       params,
			Corrected:      corrected,
			Transformation: fmt.Sprintf("Renamed '%s' to '%s'", name, expected),
			Confidence:     0.7,
		}
	}
	return nil
}

func flatten(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// snakeToCamel renames a parameter when the expected name matches after
// stripping underscores, covering snake_case vs camelCase mismatches.
func snakeToCamel(errMsg string, params map[string]any) *Correction {
	for _, m := range quoted.FindAllStringSubmatch(errMsg, -1) {
		expected := m[1]
		if !strings.Contains(expected, "_") {
			continue
		}
		for name, value := range params {
			if name == expected || flatten(name) != flatten(expected) {
				continue
			}
			corrected := cloneParams(params)
			corrected[expected] = value
			delete(corrected, name)
			return &Correction{
				Original:       params,
				Corrected:      corrected,
				Transformation: fmt.Sprintf("Converted '%s' to '%s'", name, expected),
				Confidence:     0.6,
			}
		}
	}
	return nil
}

// knownPatterns handles error shapes observed against real servers that
// the generic transforms miss.
func knownPatterns(errMsg string, params map[string]any) *Correction {
	if strings.Contains(errMsg, "indices") {
		for _, name := range []string{"index", "index_name"} {
			value, ok := params[name]
			if !ok {
				continue
			}
			corrected := cloneParams(params)
			corrected["indices"] = []any{value}
			delete(corrected, name)
			return &Correction{
				Original:       params,
				Corrected:      corrected,
				Transformation: fmt.Sprintf("Converted '%s' string to 'indices' array", name),
				Confidence:     0.9,
			}
		}
	}

	if strings.Contains(errMsg, "query") && strings.Contains(errMsg, "Required") {
		for _, alias := range queryAliases {
			value, ok := params[alias]
			if !ok {
				continue
			}
			corrected := cloneParams(params)
			corrected["query"] = value
			delete(corrected, alias)
			return &Correction{
				Original:       params,
				Corrected:      corrected,
				Transformation: fmt.Sprintf("Renamed '%s' to required 'query' parameter", alias),
				Confidence:     0.8,
			}
		}
	}

	if strings.Contains(errMsg, "Required") && strings.Contains(errMsg, "array") {
		if c := requiredArray(errMsg, params); c != nil {
			return c
		}
	}

	if strings.Contains(errMsg, "Required") && strings.Contains(errMsg, "undefined") {
		if c := fuzzyRename(errMsg, params); c != nil {
			return c
		}
	}

	return nil
}

// requiredArray satisfies a missing required array field from a
// similarly named parameter, wrapping scalars.
func requiredArray(errMsg string, params map[string]any) *Correction {
	m := pathField.FindStringSubmatch(errMsg)
	if m == nil {
		return nil
	}
	required := m[1]
	requiredClean := flatten(required)

	for name, value := range params {
		nameClean := flatten(name)
		if !strings.Contains(requiredClean, nameClean) && !strings.Contains(nameClean, requiredClean) {
			continue
		}
		corrected := cloneParams(params)
		if list, ok := value.([]any); ok {
			corrected[required] = list
		} else {
			corrected[required] = toArray(value)
		}
		if name != required {
			delete(corrected, name)
		}
		return &Correction{
			Original:       params,
			Corrected:      corrected,
			Transformation: fmt.Sprintf("Converted '%s' to required '%s' array", name, required),
			Confidence:     0.7,
		}
	}
	return nil
}

// fuzzyRename maps a missing required field to the closest-named
// parameter, comparing names with separators stripped and requiring a
// minimum character overlap.
func fuzzyRename(errMsg string, params map[string]any) *Correction {
	m := pathField.FindStringSubmatch(errMsg)
	if m == nil {
		return nil
	}
	required := m[1]
	requiredClean := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(required))

	for name, value := range params {
		nameClean := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(name))

		contained := strings.Contains(requiredClean, nameClean) || strings.Contains(nameClean, requiredClean)
		if !contained && charOverlap(nameClean, requiredClean) < min(3, len(requiredClean)/2) {
			continue
		}

		corrected := cloneParams(params)
		corrected[required] = value
		if name != required {
			delete(corrected, name)
		}
		return &Correction{
			Original:       params,
			Corrected:      corrected,
			Transformation: fmt.Sprintf("Renamed '%s' to required '%s'", name, required),
			Confidence:     0.6,
		}
	}
	return nil
}

// charOverlap counts distinct characters present in both names.
func charOverlap(a, b string) int {
	inA := make(map[rune]bool)
	for _, r := range a {
		inA[r] = true
	}
	seen := make(map[rune]bool)
	n := 0
	for _, r := range b {
		if inA[r] && !seen[r] {
			seen[r] = true
			n++
		}
	}
	return n
}
