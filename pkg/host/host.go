// Package host discovers trigger elements in a page and keeps one controller
// bound to each of them across structural edits.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/flowpages/pkg/document"
	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/trigger"
)

var ErrTriggerNotBound = errors.New("no handler bound for trigger")

// Handler runs when a trigger is clicked.
type Handler func(ctx context.Context) error

// Controller is what the host binds to a trigger element.
type Controller interface {
	Invoke(ctx context.Context) error
	State() trigger.State
	Dispose()
}

// Factory builds the controller for a newly discovered trigger.
type Factory func(el *document.Element) Controller

// BindWarning is a static configuration problem found while binding.
type BindWarning struct {
	ComponentID string
	Err         error
}

func (w BindWarning) Error() string {
	return fmt.Sprintf("trigger %s: %v", w.ComponentID, w.Err)
}

func (w BindWarning) Unwrap() error {
	return w.Err
}

type binding struct {
	el         *document.Element
	controller Controller
}

// Host owns the controllers of one document.
type Host struct {
	doc     *document.Document
	factory Factory
	logger  *slog.Logger

	mu       sync.Mutex
	bindings map[string]*binding
	handlers map[string]Handler
	retired  []Controller
	warnings []BindWarning
}

// New creates a host for doc. Controllers are created by factory on the first
// Refresh that sees their trigger.
func New(doc *document.Document, factory Factory, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}

	return &Host{
		doc:      doc,
		factory:  factory,
		logger:   logger.With("module", "host"),
		bindings: make(map[string]*binding),
		handlers: make(map[string]Handler),
	}
}

// Scan returns the trigger elements of doc. A page without triggers yields an
// empty list.
func Scan(doc *document.Document) []*document.Element {
	return doc.Triggers()
}

// Bind attaches handler to el, replacing any handler bound before.
func (h *Host) Bind(el *document.Element, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[el.ComponentID()] = handler
}

// Refresh rescans the document and reconciles controllers with the triggers
// found. Controllers of triggers still present are kept, so in-flight runs
// survive; triggers that disappeared have their controllers disposed.
func (h *Host) Refresh(ctx context.Context) []BindWarning {
	elements := Scan(h.doc)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sweepRetired()

	seen := make(map[string]bool, len(elements))
	warnings := make([]BindWarning, 0)

	for _, el := range elements {
		id := el.ComponentID()
		if seen[id] {
			warnings = append(warnings, BindWarning{ComponentID: id, Err: errors.New("duplicate component id")})

			continue
		}

		seen[id] = true

		if el.Config().Inert() {
			warnings = append(warnings, BindWarning{ComponentID: id, Err: models.ErrWebhookURLRequired})
		}

		current, ok := h.bindings[id]

		switch {
		case !ok:
			current = &binding{el: el, controller: h.factory(el)}
			h.bindings[id] = current
			h.logger.DebugContext(ctx, "Trigger bound", "component_id", id)
		case !current.el.Attached():
			// same id, new node: the old run may finish on the detached node
			h.retire(current.controller)
			current = &binding{el: el, controller: h.factory(el)}
			h.bindings[id] = current
			h.logger.DebugContext(ctx, "Trigger rebound to a new element", "component_id", id)
		}

		h.handlers[id] = current.controller.Invoke
	}

	for id, b := range h.bindings {
		if seen[id] {
			continue
		}

		b.controller.Dispose()
		delete(h.bindings, id)
		delete(h.handlers, id)
		h.logger.DebugContext(ctx, "Trigger removed", "component_id", id)
	}

	for _, w := range warnings {
		h.logger.WarnContext(ctx, "Trigger bound with configuration warning", "component_id", w.ComponentID, "error", w.Err)
	}

	h.warnings = warnings

	return warnings
}

// ContentChanged is the hook for structural edits of the page.
func (h *Host) ContentChanged(ctx context.Context) []BindWarning {
	return h.Refresh(ctx)
}

// Click invokes the handler bound to componentID.
func (h *Host) Click(ctx context.Context, componentID string) error {
	h.mu.Lock()
	handler, ok := h.handlers[componentID]
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTriggerNotBound, componentID)
	}

	return handler(ctx)
}

// Controller returns the controller bound to componentID.
func (h *Host) Controller(componentID string) (Controller, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.bindings[componentID]
	if !ok {
		return nil, false
	}

	return b.controller, true
}

// Warnings returns the warnings of the last Refresh.
func (h *Host) Warnings() []BindWarning {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]BindWarning(nil), h.warnings...)
}

// Close disposes every controller.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, b := range h.bindings {
		b.controller.Dispose()
		delete(h.bindings, id)
		delete(h.handlers, id)
	}

	for _, c := range h.retired {
		c.Dispose()
	}

	h.retired = nil
}

func (h *Host) retire(c Controller) {
	if c.State().InFlight() {
		h.retired = append(h.retired, c)

		return
	}

	c.Dispose()
}

func (h *Host) sweepRetired() {
	active := h.retired[:0]

	for _, c := range h.retired {
		if c.State().InFlight() {
			active = append(active, c)

			continue
		}

		c.Dispose()
	}

	h.retired = active
}
