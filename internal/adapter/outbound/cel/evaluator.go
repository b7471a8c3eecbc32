// Package cel evaluates capture exclusion expressions.
//
// An exclusion expression is a CEL program over the variables server,
// method and direction. When it evaluates to true the exchange is not
// recorded. Expressions are compiled once at startup; per-exchange
// decisions are memoized in a bounded LRU cache.
package cel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
)

// maxExpressionLength is the maximum allowed length for exclusion expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit per evaluation.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single CEL evaluation.
const evalTimeout = time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// cacheSize bounds the decision cache. The key space is small (servers x
// methods x four directions), so a modest cache covers steady-state traffic.
const cacheSize = 1024

// Filter decides whether a captured exchange should be excluded from
// storage. A nil *Filter excludes nothing.
type Filter struct {
	prg   cel.Program
	cache *resultCache
}

// newFilterEnvironment creates the CEL environment for exclusion
// expressions. Only the three routing variables are exposed.
func newFilterEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("server", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("direction", cel.StringType),
	)
}

// NewFilter compiles an exclusion expression. An empty or blank expression
// disables filtering and returns a nil filter.
func NewFilter(expression string) (*Filter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}
	if err := validateNesting(expression); err != nil {
		return nil, err
	}

	env, err := newFilterEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create filter environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return &Filter{prg: prg, cache: newResultCache(cacheSize)}, nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Exclude reports whether the exchange identified by server, method and
// direction should be dropped. Evaluation failures keep the exchange.
func (f *Filter) Exclude(server, method, direction string) bool {
	if f == nil {
		return false
	}

	key := cacheKey(server, method, direction)
	if v, ok := f.cache.get(key); ok {
		return v
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	out, _, err := f.prg.ContextEval(ctx, map[string]any{
		"server":    server,
		"method":    method,
		"direction": direction,
	})
	if err != nil {
		return false
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false
	}

	f.cache.put(key, v)
	return v
}

// cacheKey hashes the three routing variables with NUL separators so
// adjacent fields cannot collide.
func cacheKey(server, method, direction string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(server)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(direction)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(method)
	return h.Sum64()
}
