// Package classify provides the CEL-based bug classification engine.
package classify

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/teamlens/kestrel/internal/domain"
)

// CategoryRule assigns items to a category via a CEL boolean expression
// over work-item fields. Rules are evaluated in declaration order; the
// first match wins. Items matching no rule count as unclassified.
type CategoryRule struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

type compiledCategory struct {
	rule    CategoryRule
	program cel.Program
}

// Engine classifies work items against a compiled category rule set.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []compiledCategory
}

// NewEngine creates a classification engine with the work-item variables.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("item_type", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("environment", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("assigned_to", cel.StringType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// DefaultCategories is the built-in environment classification rule set.
func DefaultCategories() []CategoryRule {
	return []CategoryRule{
		{Name: "production", Expression: `environment == "production" || "prod" in tags`},
		{Name: "staging", Expression: `environment == "staging" || "staging" in tags`},
		{Name: "development", Expression: `environment == "development" || "dev" in tags`},
	}
}

// LoadCategories compiles and installs a rule set, replacing any previous one.
func (e *Engine) LoadCategories(rules []CategoryRule) error {
	compiled := make([]compiledCategory, 0, len(rules))
	for _, rule := range rules {
		prog, err := e.compile(rule)
		if err != nil {
			return err
		}
		compiled = append(compiled, compiledCategory{rule: rule, program: prog})
	}

	e.mu.Lock()
	e.compiled = compiled
	e.mu.Unlock()
	return nil
}

// CategoryKeys returns the fixed category key set, in rule order. The
// payload always carries every key so its shape never varies by code path.
func (e *Engine) CategoryKeys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	keys := make([]string, 0, len(e.compiled))
	for _, c := range e.compiled {
		keys = append(keys, c.rule.Name)
	}
	return keys
}

// Classify tallies bugs in the item list by category. Non-bug items are
// ignored; bugs matching no category count as unclassified.
func (e *Engine) Classify(items []domain.WorkItem) (total, unclassified int, categories map[string]int) {
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	categories = make(map[string]int, len(compiled))
	for _, c := range compiled {
		categories[c.rule.Name] = 0
	}

	for _, item := range items {
		if item.Type != "Bug" {
			continue
		}
		total++

		name, ok := e.matchCategory(compiled, item)
		if !ok {
			unclassified++
			continue
		}
		categories[name]++
	}

	return total, unclassified, categories
}

func (e *Engine) matchCategory(compiled []compiledCategory, item domain.WorkItem) (string, bool) {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}

	activation := map[string]any{
		"item_type":   item.Type,
		"state":       item.State,
		"severity":    item.Severity,
		"environment": item.Environment,
		"title":       item.Title,
		"assigned_to": item.AssignedTo,
		"tags":        tags,
	}

	for _, c := range compiled {
		out, _, err := c.program.Eval(activation)
		if err != nil {
			// A broken rule must not swallow the item; try the next one.
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			return c.rule.Name, true
		}
	}
	return "", false
}

func (e *Engine) compile(rule CategoryRule) (cel.Program, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile category %s: %w", rule.Name, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("category %s: expression must return bool, got %s", rule.Name, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for category %s: %w", rule.Name, err)
	}
	return program, nil
}
