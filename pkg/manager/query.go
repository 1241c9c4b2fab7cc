package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidScript indicates a query script the evaluator cannot parse.
var ErrInvalidScript = errors.New("invalid query script")

// QueryEvaluator evaluates a read-only script against a configuration
// snapshot. The evaluator receives a serialized copy of the tree and
// cannot affect it.
type QueryEvaluator interface {
	// Evaluate runs script over the JSON document and returns the
	// serialized result. Unparsable scripts wrap ErrInvalidScript.
	Evaluate(script, document string) (string, error)
}

// PathEvaluator is the built-in evaluator. It understands an empty
// script or "." as identity and dot-separated paths ("margo.argobots")
// as subtree selection. Paths that parse but select nothing evaluate
// to JSON null.
type PathEvaluator struct{}

// Evaluate implements QueryEvaluator.
func (PathEvaluator) Evaluate(script, document string) (string, error) {
	script = strings.TrimSpace(script)
	if script == "" || script == "." {
		return document, nil
	}

	segments := strings.Split(strings.TrimPrefix(script, "."), ".")
	for _, seg := range segments {
		if seg == "" || strings.ContainsAny(seg, " \t\n") {
			return "", fmt.Errorf("%w: %q", ErrInvalidScript, script)
		}
	}

	var root any
	if err := json.Unmarshal([]byte(document), &root); err != nil {
		return "", fmt.Errorf("failed to parse config document: %w", err)
	}

	node := root
	for _, seg := range segments {
		obj, ok := node.(map[string]any)
		if !ok {
			node = nil
			break
		}
		node, ok = obj[seg]
		if !ok {
			node = nil
			break
		}
	}

	result, err := json.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("failed to serialize query result: %w", err)
	}
	return string(result), nil
}
