package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Facts is the environment a predicate is evaluated against.
type Facts map[string]interface{}

// Evaluator evaluates boolean predicates over application facts.
type Evaluator interface {
	Evaluate(expression string, facts Facts) (bool, error)
}

// ExprEvaluator is an Evaluator backed by expr-lang/expr. Compiled programs
// are cached per expression, so every call for one expression must supply
// facts with the same keys and value types.
type ExprEvaluator struct {
	cache   map[string]*vm.Program
	mu      sync.RWMutex
	derived map[string]func(Facts) interface{}
}

// NewExprEvaluator creates a new ExprEvaluator with an empty cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:   make(map[string]*vm.Program),
		derived: make(map[string]func(Facts) interface{}),
	}
}

// AddDerivedFact registers a fact computed from the others before evaluation.
func (e *ExprEvaluator) AddDerivedFact(name string, f func(Facts) interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.derived[name] = f
	// Programs compiled without the new name are stale.
	e.cache = make(map[string]*vm.Program)
}

// Evaluate runs expression against facts. The caller's map is not modified.
func (e *ExprEvaluator) Evaluate(expression string, facts Facts) (bool, error) {
	env := e.environment(facts)

	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(env), expr.AsBool())
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile %q: %w", expression, err)
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run %q: %w", expression, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
	}
	return b, nil
}

// Check compiles expression against sample facts without running it.
func (e *ExprEvaluator) Check(expression string, sample Facts) error {
	_, err := expr.Compile(expression, expr.Env(e.environment(sample)), expr.AsBool())
	return err
}

func (e *ExprEvaluator) environment(facts Facts) map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	env := make(map[string]interface{}, len(facts)+len(e.derived))
	for k, v := range facts {
		env[k] = v
	}
	for k, f := range e.derived {
		env[k] = f(facts)
	}
	return env
}
