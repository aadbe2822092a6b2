package document

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const fieldSelector = "input[name], select[name], textarea[name]"

// FormData snapshots the values of the fields around the trigger: named
// controls of the enclosing form (or the parent container when there is no
// form) plus every element tagged with data-workflow-field.
func (e *Element) FormData() map[string]string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	data := make(map[string]string)

	scope := e.sel.Closest("form")
	if scope.Length() == 0 {
		scope = e.sel.Parent()
	}

	scope.Find(fieldSelector).Each(func(_ int, s *goquery.Selection) {
		if value, ok := fieldValue(s); ok {
			data[s.AttrOr("name", "")] = value
		}
	})

	e.doc.doc.Find("[" + AttrWorkflowField + "]").Each(func(_ int, s *goquery.Selection) {
		name := fieldName(s)
		if name == "" {
			return
		}

		if value, ok := fieldValue(s); ok {
			data[name] = value
		}
	})

	return data
}

func fieldName(s *goquery.Selection) string {
	for _, attr := range []string{AttrWorkflowField, "name", "id"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}

	return ""
}

// fieldValue returns the current value of a control. Unchecked checkboxes and
// radios, and buttons, carry no value.
func fieldValue(s *goquery.Selection) (string, bool) {
	switch goquery.NodeName(s) {
	case "input":
		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "checkbox", "radio":
			if _, checked := s.Attr("checked"); !checked {
				return "", false
			}

			return s.AttrOr("value", "on"), true
		case "submit", "button", "reset", "image", "file":
			return "", false
		default:
			return s.AttrOr("value", ""), true
		}
	case "select":
		option := s.Find("option[selected]").First()
		if option.Length() == 0 {
			option = s.Find("option").First()
		}

		if option.Length() == 0 {
			return "", true
		}

		if v, ok := option.Attr("value"); ok {
			return v, true
		}

		return strings.TrimSpace(option.Text()), true
	case "textarea":
		return s.Text(), true
	default:
		if v, ok := s.Attr("value"); ok {
			return v, true
		}

		return strings.TrimSpace(s.Text()), true
	}
}
