// Package permission tracks user authorization for the microphone and the
// speech recognizer. Decisions are persisted so a grant is requested at
// most once per device.
package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Scope identifies a permissioned capability.
type Scope string

const (
	Microphone Scope = "microphone"
	Speech     Scope = "speech"
)

// Status is the current authorization state for a scope.
type Status string

const (
	Undetermined Status = "undetermined"
	Granted      Status = "granted"
	Denied       Status = "denied"
)

// Prompter asks the user to decide an undetermined scope. Implementations
// may block until the user responds; ctx bounds the wait.
type Prompter interface {
	Prompt(ctx context.Context, scope Scope) (Status, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, scope Scope) (Status, error)

func (f PrompterFunc) Prompt(ctx context.Context, scope Scope) (Status, error) {
	return f(ctx, scope)
}

// StaticPrompter always answers with a fixed status. Used when the node
// runs headless and grants are decided by configuration.
func StaticPrompter(s Status) Prompter {
	return PrompterFunc(func(context.Context, Scope) (Status, error) { return s, nil })
}

// Authority stores per-scope decisions, persisted as a small JSON file.
type Authority struct {
	path     string
	prompter Prompter

	mu     sync.Mutex
	grants map[Scope]Status
}

// NewAuthority loads (or initializes) the grants file at path. prompter
// resolves undetermined scopes on first request.
func NewAuthority(path string, prompter Prompter) (*Authority, error) {
	a := &Authority{path: path, prompter: prompter, grants: map[Scope]Status{}}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &a.grants); err != nil {
			return nil, fmt.Errorf("permission: parse grants file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("permission: read grants file: %w", err)
	}
	return a, nil
}

// Status returns the current decision for scope without prompting.
func (a *Authority) Status(scope Scope) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.grants[scope]; ok {
		return s
	}
	return Undetermined
}

// Request returns the decision for scope, prompting once if undetermined.
// The decision is persisted either way so the user is never re-asked.
func (a *Authority) Request(ctx context.Context, scope Scope) (Status, error) {
	if s := a.Status(scope); s != Undetermined {
		return s, nil
	}

	s, err := a.prompter.Prompt(ctx, scope)
	if err != nil {
		return Undetermined, fmt.Errorf("permission: prompt %s: %w", scope, err)
	}
	if s == Undetermined {
		return Undetermined, nil
	}

	a.mu.Lock()
	a.grants[scope] = s
	data, merr := json.MarshalIndent(a.grants, "", "  ")
	a.mu.Unlock()
	if merr == nil {
		// A failed save only means the user may be asked again next run.
		_ = os.WriteFile(a.path, data, 0o600)
	}
	return s, nil
}
