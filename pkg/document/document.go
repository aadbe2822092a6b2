// Package document loads a page as an HTML tree and exposes its workflow
// trigger elements.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	TriggerClass = "workflow-trigger"
	StatusClass  = "workflow-status"
	ResultClass  = "workflow-result"

	AttrWebhookURL    = "data-webhook-url"
	AttrWorkflowID    = "data-workflow-id"
	AttrSecret        = "data-webhook-secret"
	AttrWaitForResult = "data-wait-for-result"
	AttrShowStatus    = "data-show-status"
	AttrButtonLabel   = "data-button-label"
	AttrWorkflowField = "data-workflow-field"
	AttrTriggerID     = "data-trigger-id"

	componentIDPrefix = "trigger-"
)

var ErrEmptyDocument = errors.New("document has no root node")

// Document is a page parsed into an HTML tree. All reads and writes of its
// nodes go through the document lock.
type Document struct {
	mu     sync.Mutex
	doc    *goquery.Document
	nextID int
}

// Load parses a page.
func Load(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	return &Document{doc: doc}, nil
}

// LoadFile parses the page stored at path.
func LoadFile(path string) (*Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	return Load(file)
}

// Render writes the page back as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.doc.Nodes) == 0 {
		return ErrEmptyDocument
	}

	return html.Render(w, d.doc.Nodes[0])
}

// String renders the page, returning an empty string on failure.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}

	return buf.String()
}

// WriteFile renders the page into path.
func (d *Document) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write page %s: %w", path, err)
	}

	return nil
}

// Triggers returns the trigger elements in document order. Triggers without an
// id get a generated one so they can be addressed across scans.
func (d *Document) Triggers() []*Element {
	d.mu.Lock()
	defer d.mu.Unlock()

	var elements []*Element

	d.doc.Find("." + TriggerClass).Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); !ok || id == "" {
			s.SetAttr("id", d.newComponentID())
		}

		elements = append(elements, &Element{doc: d, sel: s})
	})

	return elements
}

// Trigger returns the trigger element with the given component id.
func (d *Document) Trigger(componentID string) (*Element, bool) {
	for _, el := range d.Triggers() {
		if el.ComponentID() == componentID {
			return el, true
		}
	}

	return nil, false
}

// Element returns the first element matching selector, giving it a component
// id when it has none. It is how a plain element becomes a trigger.
func (d *Document) Element(selector string) (*Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, false
	}

	if id, ok := sel.Attr("id"); !ok || id == "" {
		sel.SetAttr("id", d.newComponentID())
	}

	return &Element{doc: d, sel: sel}, true
}

// Edit runs fn with the raw tree under the document lock. It is how callers
// perform structural edits.
func (d *Document) Edit(fn func(doc *goquery.Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fn(d.doc)
}

func (d *Document) newComponentID() string {
	for {
		d.nextID++
		candidate := componentIDPrefix + strconv.Itoa(d.nextID)

		if d.doc.Find("#"+candidate).Length() == 0 {
			return candidate
		}
	}
}
