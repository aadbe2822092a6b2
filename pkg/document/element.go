package document

import (
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dukex/flowpages/pkg/models"
)

// Element is a trigger element of a Document. It implements trigger.Target.
type Element struct {
	doc *Document
	sel *goquery.Selection
}

func (e *Element) ComponentID() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	return e.sel.AttrOr("id", "")
}

func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	return e.sel.Attr(name)
}

func (e *Element) SetAttr(name, value string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	e.sel.SetAttr(name, value)
}

func (e *Element) RemoveAttr(name string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	e.sel.RemoveAttr(name)
}

// Text returns the trimmed text content of the element.
func (e *Element) Text() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	return strings.TrimSpace(e.sel.Text())
}

// Attached reports whether the element is still part of its document.
func (e *Element) Attached() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	return e.doc.doc.Find("."+TriggerClass).IndexOfSelection(e.sel) >= 0
}

// Config reads the trigger configuration stored on the element. A missing
// show-status attribute means the status line is shown.
func (e *Element) Config() models.TriggerConfig {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	label, ok := e.sel.Attr(AttrButtonLabel)
	if !ok {
		label = strings.TrimSpace(e.sel.Text())
	}

	showStatus := true
	if v, ok := e.sel.Attr(AttrShowStatus); ok {
		showStatus = models.ParseBool(v)
	}

	return models.TriggerConfig{
		WebhookURL:    e.sel.AttrOr(AttrWebhookURL, ""),
		WorkflowID:    e.sel.AttrOr(AttrWorkflowID, ""),
		Secret:        e.sel.AttrOr(AttrSecret, ""),
		WaitForResult: models.ParseBool(e.sel.AttrOr(AttrWaitForResult, "")),
		ButtonLabel:   label,
		ShowStatus:    showStatus,
	}
}

// SetEnabled toggles the disabled attribute of the affordance.
func (e *Element) SetEnabled(enabled bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	if enabled {
		e.sel.RemoveAttr("disabled")
	} else {
		e.sel.SetAttr("disabled", "")
	}
}

func (e *Element) Enabled() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	_, disabled := e.sel.Attr("disabled")

	return !disabled
}

// SetLabel replaces the visible text of the affordance.
func (e *Element) SetLabel(label string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	e.sel.SetText(label)
}

func (e *Element) SetStatus(text string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	e.ensureSurface(StatusClass).SetText(text)
}

// Status returns the status line text, empty when there is no status surface.
func (e *Element) Status() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	return strings.TrimSpace(e.surface(StatusClass).Text())
}

// StatusVisible reports whether the status surface exists and is not hidden.
func (e *Element) StatusVisible() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	status := e.surface(StatusClass)
	if status.Length() == 0 {
		return false
	}

	_, hidden := status.Attr("hidden")

	return !hidden
}

func (e *Element) SetResult(text string) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	result := e.ensureSurface(ResultClass)
	result.SetText(text)
	result.RemoveAttr("hidden")
}

func (e *Element) Result() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	return e.surface(ResultClass).Text()
}

// ClearResult empties and hides the result surface if there is one.
func (e *Element) ClearResult() {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	result := e.surface(ResultClass)
	if result.Length() == 0 {
		return
	}

	result.SetText("")
	result.SetAttr("hidden", "")
}

// surface finds the sibling surface owned by this trigger. An unclaimed
// sibling with the class is used when none is explicitly owned.
func (e *Element) surface(class string) *goquery.Selection {
	id := e.sel.AttrOr("id", "")
	candidates := e.sel.Siblings().Filter("." + class)

	owned := candidates.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.AttrOr(AttrTriggerID, "") == id
	})
	if owned.Length() > 0 {
		return owned.First()
	}

	return candidates.FilterFunction(func(_ int, s *goquery.Selection) bool {
		_, claimed := s.Attr(AttrTriggerID)

		return !claimed
	}).First()
}

// ensureSurface returns the surface, claiming or creating it. New surfaces
// are placed right after the trigger, status before result.
func (e *Element) ensureSurface(class string) *goquery.Selection {
	id := e.sel.AttrOr("id", "")

	if existing := e.surface(class); existing.Length() > 0 {
		existing.SetAttr(AttrTriggerID, id)

		return existing
	}

	anchor := e.sel
	if class == ResultClass {
		if status := e.surface(StatusClass); status.Length() > 0 {
			anchor = status
		}
	}

	anchor.AfterHtml(fmt.Sprintf(`<div class="%s" %s="%s"></div>`, class, AttrTriggerID, html.EscapeString(id)))

	return e.surface(class)
}
