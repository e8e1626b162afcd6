// Package actions holds the named follow-up operations the dashboard can
// trigger once results are in: report generation, email and Slack delivery,
// and insight generation.
package actions

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/feedforward/internal/feedback"
)

// ErrUnknownAction is returned by Registry.Execute for unregistered names.
var ErrUnknownAction = errors.New("unknown action")

// Output is what an action reports back. Only the member the action
// produces is set.
type Output struct {
	Message string `json:"message,omitempty"`
	File    string `json:"file,omitempty"`
	Insight string `json:"insight,omitempty"`
}

// Action is one named operation.
type Action interface {
	Name() string
	Description() string
	Params() []string // required parameter names
	Execute(ctx context.Context, params map[string]string) (*Output, error)
}

// Info describes a registered action.
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params"`
}

// Hooks observe action executions. Outcome is success, invalid or error.
type Hooks struct {
	OnExecute func(name, outcome string, duration float64)
}

// Registry holds available actions keyed by name.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	hooks   Hooks
}

// NewRegistry creates an empty registry.
func NewRegistry(hooks Hooks) *Registry {
	return &Registry{actions: make(map[string]Action), hooks: hooks}
}

// Register adds a, replacing any action with the same name.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name()] = a
}

// Get retrieves an action by name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// List returns every registered action sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, Info{Name: a.Name(), Description: a.Description(), Params: slices.Clone(a.Params())})
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Execute checks required params, then runs the named action.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]string) (*Output, error) {
	a, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}

	start := time.Now()
	out, err := r.execute(ctx, a, params)
	if r.hooks.OnExecute != nil {
		outcome := "success"
		switch {
		case errors.Is(err, feedback.ErrValidation):
			outcome = "invalid"
		case err != nil:
			outcome = "error"
		}
		r.hooks.OnExecute(name, outcome, time.Since(start).Seconds())
	}
	return out, err
}

func (r *Registry) execute(ctx context.Context, a Action, params map[string]string) (*Output, error) {
	if missing := Missing(a.Params(), params); len(missing) > 0 {
		return nil, feedback.Invalid(fmt.Sprintf("%s: missing %s", a.Name(), strings.Join(missing, ", ")))
	}
	return a.Execute(ctx, params)
}

// Missing lists the required names absent or blank in params.
func Missing(required []string, params map[string]string) []string {
	var out []string
	for _, p := range required {
		if strings.TrimSpace(params[p]) == "" {
			out = append(out, p)
		}
	}
	return out
}
