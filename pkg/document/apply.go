package document

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/dukex/flowpages/pkg/models"
)

// Apply writes a configuration update onto a trigger element. Nil fields are
// left untouched and empty strings overwrite. Applying the same update twice
// leaves the document byte-identical.
func Apply(el *Element, update models.TriggerConfigUpdate) {
	el.doc.mu.Lock()
	defer el.doc.mu.Unlock()

	el.sel.AddClass(TriggerClass)

	setString(el.sel, AttrWebhookURL, update.WebhookURL)
	setString(el.sel, AttrWorkflowID, update.WorkflowID)
	setString(el.sel, AttrSecret, update.Secret)
	setBool(el.sel, AttrWaitForResult, update.WaitForResult)

	if update.ButtonLabel != nil {
		el.sel.SetAttr(AttrButtonLabel, *update.ButtonLabel)
		el.sel.SetText(*update.ButtonLabel)
	}

	if update.ShowStatus != nil {
		setBool(el.sel, AttrShowStatus, update.ShowStatus)

		status := el.ensureSurface(StatusClass)
		if *update.ShowStatus {
			status.RemoveAttr("hidden")
		} else {
			status.SetAttr("hidden", "")
		}
	}
}

// ApplyConfig writes every field of cfg onto the element.
func ApplyConfig(el *Element, cfg models.TriggerConfig) {
	Apply(el, models.FullUpdate(cfg))
}

func setString(sel *goquery.Selection, attr string, value *string) {
	if value != nil {
		sel.SetAttr(attr, *value)
	}
}

func setBool(sel *goquery.Selection, attr string, value *bool) {
	if value != nil {
		sel.SetAttr(attr, models.FormatBool(*value))
	}
}
