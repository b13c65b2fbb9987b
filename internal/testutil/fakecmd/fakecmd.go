// Package fakecmd provides a scripted tools.CommandRunner for tests.
package fakecmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Response is what one matching invocation returns. A non-zero Code without
// Err yields an "exit status" error like exec does.
type Response struct {
	Stdout string
	Stderr string
	Code   int32
	Err    error
}

// Runner answers commands by the longest registered prefix of "name args...".
// Responses registered for one prefix are consumed in order; the last one
// repeats. Unmatched commands succeed with empty output.
type Runner struct {
	mu        sync.Mutex
	calls     []Call
	responses map[string][]Response
}

func New() *Runner {
	return &Runner{responses: map[string][]Response{}}
}

// On registers responses for commands starting with prefix.
func (r *Runner) On(prefix string, responses ...Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[prefix] = append(r.responses[prefix], responses...)
	return r
}

func (r *Runner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, int32, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	resp := r.next(call.String())
	r.mu.Unlock()

	err := resp.Err
	if err == nil && resp.Code != 0 {
		err = fmt.Errorf("exit status %d", resp.Code)
	}
	return []byte(resp.Stdout), []byte(resp.Stderr), resp.Code, err
}

func (r *Runner) next(line string) Response {
	best := ""
	found := false
	for prefix := range r.responses {
		if strings.HasPrefix(line, prefix) && (!found || len(prefix) > len(best)) {
			best = prefix
			found = true
		}
	}
	if !found {
		return Response{}
	}
	queue := r.responses[best]
	if len(queue) == 0 {
		return Response{}
	}
	resp := queue[0]
	if len(queue) > 1 {
		r.responses[best] = queue[1:]
	}
	return resp
}

// Calls returns every invocation so far.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Commands returns every invocation rendered as "name args...".
func (r *Runner) Commands() []string {
	calls := r.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.String())
	}
	return out
}

// Count returns how many invocations started with prefix.
func (r *Runner) Count(prefix string) int {
	n := 0
	for _, line := range r.Commands() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}
