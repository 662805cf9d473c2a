// Package app wires configuration, the workspace registry, auditing and
// config reloading into a process-wide validator.
package app

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/yudame/valor/internal/audit"
	"github.com/yudame/valor/internal/config"
	"github.com/yudame/valor/internal/logger"
	"github.com/yudame/valor/internal/workspace"
)

// Holder publishes the current validator. Validators are immutable; a config
// reload stores a new one.
type Holder struct {
	v atomic.Pointer[workspace.Validator]
}

// NewHolder returns a holder for v.
func NewHolder(v *workspace.Validator) *Holder {
	h := &Holder{}
	h.v.Store(v)
	return h
}

// Current returns the validator in effect.
func (h *Holder) Current() *workspace.Validator { return h.v.Load() }

// Store replaces the validator.
func (h *Holder) Store(v *workspace.Validator) { h.v.Store(v) }

// auditors is a copy-on-write list so that sinks created after Build (the
// authz stream hub) can be attached while validators are in use.
type auditors struct {
	mu   sync.Mutex
	list atomic.Pointer[audit.Fanout]
}

func (a *auditors) Record(d workspace.Decision) {
	if f := a.list.Load(); f != nil {
		f.Record(d)
	}
}

func (a *auditors) add(sink workspace.Auditor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var next audit.Fanout
	if cur := a.list.Load(); cur != nil {
		next = append(next, (*cur)...)
	}
	next = append(next, audit.NewFanout(sink)...)
	a.list.Store(&next)
}

// Runtime is a fully wired validator with its supporting resources.
type Runtime struct {
	Config *config.Config
	Holder *Holder
	Store  *audit.Store // nil unless an audit database is configured

	auditors *auditors
	watcher  *workspace.Watcher
}

// Build loads the workspace config named by cfg and wires the validator.
func Build(cfg *config.Config) (*Runtime, error) {
	reg, err := workspace.LoadRegistry(cfg.WorkspaceConfigPath)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, auditors: &auditors{}}
	if cfg.AuditDBPath != "" {
		store, err := audit.Open(cfg.AuditDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		rt.Store = store
		rt.auditors.add(store)
	}
	rt.Holder = NewHolder(workspace.NewValidator(reg, rt.auditors))

	if cfg.WatchWorkspaceConfig {
		w, err := workspace.NewWatcher(cfg.WorkspaceConfigPath, reg, func(next *workspace.Registry) {
			rt.Holder.Store(workspace.NewValidator(next, rt.auditors))
		})
		if err != nil {
			// Reloading is a convenience; the loaded registry stays valid.
			logger.Warn("workspace config watcher disabled: %v", err)
		} else {
			rt.watcher = w
		}
	}
	return rt, nil
}

// Attach adds an auditor that receives every later decision, including those
// of validators built by future reloads.
func (rt *Runtime) Attach(a workspace.Auditor) {
	rt.auditors.add(a)
}

// Validator returns the validator currently in effect.
func (rt *Runtime) Validator() *workspace.Validator { return rt.Holder.Current() }

// Close stops the watcher and closes the audit store.
func (rt *Runtime) Close() error {
	if rt.watcher != nil {
		rt.watcher.Close()
	}
	if rt.Store != nil {
		return rt.Store.Close()
	}
	return nil
}

// InitLogging installs the global logger described by cfg.
func InitLogging(cfg *config.Config) error {
	return logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath)
}
