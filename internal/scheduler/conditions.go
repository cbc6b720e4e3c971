package scheduler

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// conditionCache compiles and caches expr-lang programs, grounded on the
// teacher's ConditionEvaluator (compiledCache map[string]*vm.Program
// under sync.RWMutex). Unlike the teacher, it has no per-run result
// cache: IF/SWITCH conditions here are evaluated against a per-node
// item map that differs on every call, so a result cache would never
// hit.
type conditionCache struct {
	mu        sync.RWMutex
	compiled  map[string]*vm.Program
}

func newConditionCache() *conditionCache {
	return &conditionCache{compiled: make(map[string]*vm.Program)}
}

func (c *conditionCache) eval(expression string, vars map[string]any) (any, error) {
	program, err := c.compile(expression)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, vars)
}

func (c *conditionCache) evalBool(expression string, vars map[string]any) (bool, error) {
	out, err := c.eval(expression, vars)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean, got %T", expression, out)
	}
	return b, nil
}

func (c *conditionCache) compile(expression string) (*vm.Program, error) {
	c.mu.RLock()
	p, ok := c.compiled[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compiling condition %q: %w", expression, err)
	}

	c.mu.Lock()
	c.compiled[expression] = p
	c.mu.Unlock()
	return p, nil
}
