package rules

import (
	"container/list"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// exprCache is a thread-safe LRU cache of compiled expr-lang programs,
// grounded on the teacher's ConditionCache, generalized from CONDITION-node
// expressions to every expr: transform rule. CONDITION handlers and
// ExprTransform share one cache per Registry so a diagram evaluating the
// same guard on every loop iteration only compiles it once.
type exprCache struct {
	mu       sync.Mutex
	capacity int
	index    map[string]*list.Element
	order    *list.List
}

type exprCacheEntry struct {
	key     string
	program *vm.Program
}

func newExprCache(capacity int) *exprCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &exprCache{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *exprCache) get(source string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[source]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*exprCacheEntry).program, true
}

func (c *exprCache) put(source string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[source]; ok {
		el.Value.(*exprCacheEntry).program = program
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&exprCacheEntry{key: source, program: program})
	c.index[source] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(*exprCacheEntry).key)
		}
	}
}

// compileCached compiles source against env, reusing a cached program when
// the same expression was compiled against a structurally identical
// environment before. expr.Compile is itself a pure function of its
// arguments, so caching on source text alone is safe as long as env's
// variable names stay stable across calls, which they do here ("input").
func (c *exprCache) compileCached(source string, env map[string]any) (*vm.Program, error) {
	if program, ok := c.get(source); ok {
		return program, nil
	}
	program, err := expr.Compile(source, expr.Env(env))
	if err != nil {
		return nil, err
	}
	c.put(source, program)
	return program, nil
}
