package logging

import (
	"context"
	"log/slog"
	"sync"
)

// ComponentFilterHandler filters records by the level configured for their
// "component" attribute. Records without a component, or with a component
// that has no override, are held to the default level.
//
// The component is looked up first in attributes attached through WithAttrs
// (the usual logger.With("component", ...) scoping), then in the record.
type ComponentFilterHandler struct {
	next      slog.Handler
	levels    *levelTable
	component string
}

// levelTable is shared by a handler and every clone derived from it.
type levelTable struct {
	mu     sync.RWMutex
	def    slog.Level
	levels map[string]slog.Level
}

// NewComponentFilterHandler wraps next. next may be nil when the handler is
// only used to hold levels.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	return &ComponentFilterHandler{
		next:   next,
		levels: &levelTable{def: defaultLevel, levels: make(map[string]slog.Level)},
	}
}

// SetLevel overrides the minimum level for one component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.levels.mu.Lock()
	h.levels.levels[component] = level
	h.levels.mu.Unlock()
}

// ClearLevel removes a component override.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.levels.mu.Lock()
	delete(h.levels.levels, component)
	h.levels.mu.Unlock()
}

// Level returns the effective level for component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	if level, ok := h.levels.levels[component]; ok {
		return level
	}
	return h.levels.def
}

// DefaultLevel returns the level applied to components without an override.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	return h.levels.def
}

// SetDefaultLevel changes the level for components without an override.
func (h *ComponentFilterHandler) SetDefaultLevel(level slog.Level) {
	h.levels.mu.Lock()
	h.levels.def = level
	h.levels.mu.Unlock()
}

// minLevel is the lowest level any component accepts. Enabled must not
// reject a record before Handle has seen its component attribute.
func (h *ComponentFilterHandler) minLevel() slog.Level {
	h.levels.mu.RLock()
	defer h.levels.mu.RUnlock()
	lowest := h.levels.def
	for _, level := range h.levels.levels {
		if level < lowest {
			lowest = level
		}
	}
	return lowest
}

func (h *ComponentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.component != "" {
		if level < h.Level(h.component) {
			return false
		}
	} else if level < h.minLevel() {
		return false
	}
	if h.next == nil {
		return true
	}
	return h.next.Enabled(ctx, level)
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	if component == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "component" {
				component = a.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.Level(component) {
		return nil
	}
	if h.next == nil {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	for _, a := range attrs {
		if a.Key == "component" {
			clone.component = a.Value.String()
		}
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}
