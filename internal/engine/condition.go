package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/itchyny/gojq"
	"github.com/spf13/cast"
)

// comparisonPattern is the only condition grammar the evaluator understands.
// Two-character operators come first in the alternation so the captured
// group is always the whole operator; comparisonOperators is only a set.
var comparisonPattern = regexp.MustCompile(`(?i)^resultCount\s*(>=|<=|==|>|<)\s*(\d+)$`)

var comparisonOperators = []string{">", ">=", "==", "<=", "<"}

// ConditionEvaluator decides CONDITION steps against the result count of the
// latest completed step.
type ConditionEvaluator struct {
	programs   map[string]*vm.Program
	totalCount *gojq.Code
}

// NewConditionEvaluator compiles one program per supported operator and the
// count extraction query.
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	programs := make(map[string]*vm.Program, len(comparisonOperators))
	env := map[string]any{"resultCount": 0, "threshold": 0}
	for _, op := range comparisonOperators {
		p, err := expr.Compile("resultCount "+op+" threshold", expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile %q comparison: %w", op, err)
		}
		programs[op] = p
	}

	query, err := gojq.Parse(".totalCount")
	if err != nil {
		return nil, fmt.Errorf("parse count query: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile count query: %w", err)
	}
	return &ConditionEvaluator{programs: programs, totalCount: code}, nil
}

// Evaluate returns the outcome of condition for the given result count.
// Expressions outside the comparison grammar fall back to a text check:
// true when the lowercased expression contains "true" or "1".
func (c *ConditionEvaluator) Evaluate(condition string, resultCount int) bool {
	normalized := strings.Join(strings.Fields(condition), " ")
	if m := comparisonPattern.FindStringSubmatch(normalized); m != nil {
		if threshold, err := strconv.Atoi(m[2]); err == nil {
			out, err := expr.Run(c.programs[m[1]], map[string]any{
				"resultCount": resultCount,
				"threshold":   threshold,
			})
			if err == nil {
				if b, ok := out.(bool); ok {
					return b
				}
			}
		}
	}
	lower := strings.ToLower(normalized)
	return strings.Contains(lower, "true") || strings.Contains(lower, "1")
}

// ExtractTotalCount reads the integer totalCount field from a serialized step
// output. Missing, non-numeric or unparsable output yields 0.
func (c *ConditionEvaluator) ExtractTotalCount(ctx context.Context, output string) int {
	if strings.TrimSpace(output) == "" {
		return 0
	}
	var doc any
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		return 0
	}
	iter := c.totalCount.RunWithContext(ctx, doc)
	v, ok := iter.Next()
	if !ok || v == nil {
		return 0
	}
	if _, isErr := v.(error); isErr {
		return 0
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0
	}
	return n
}
