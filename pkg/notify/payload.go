package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/macfound/configaudit/pkg/flatten"
	"github.com/macfound/configaudit/pkg/snapshot"
)

const (
	subject          = "GMS Configuration Change Notification"
	productionEnv    = "PRD"
	testMarker       = " ***TEST*** "
	changeIndent     = "&nbsp;&nbsp;&nbsp;&nbsp;&nbsp;"
	introParagraph   = "<p>The following changes to the GMS configuration were found since the last run:</p>"
	testIntroFormat  = "The following email is a test from the %s environment. <br><br>"
	updatedAtFormat  = "</br></br>Updated At %s"
	updatedByFormat  = "</br>Updated By %s %s (%s)"
	changeLineFormat = "</br>" + changeIndent + "%s %s"
)

// Payload is the request accepted by the mail function.
type Payload struct {
	RecipientList []string `json:"recipient_list"`
	CCList        []string `json:"cc_list"`
	BCCList       []string `json:"bcc_list"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	Attachments   []string `json:"attachments"`
}

// Routing decides who receives a notification and how it is marked.
type Routing struct {
	Environment string
	IsDebug     bool

	To, CC         []string
	TestTo, TestCC []string
}

// IsTest reports whether mail must go to the test lists. Debug mode forces it, and
// any environment other than production implies it.
func (r Routing) IsTest() bool {
	return r.IsDebug || !strings.EqualFold(r.Environment, productionEnv)
}

// BuildPayload renders the change notification for changes made by meta.UpdatedBy.
func BuildPayload(changes []flatten.Record, meta snapshot.Metadata, r Routing) Payload {
	subj := subject
	if !strings.EqualFold(r.Environment, productionEnv) {
		subj = strings.ToUpper(r.Environment) + " - " + subj
	}

	var body strings.Builder
	body.WriteString(introParagraph)
	for _, c := range changes {
		fmt.Fprintf(&body, changeLineFormat, html.EscapeString(c.Parent), html.EscapeString(c.Key))
	}
	u := meta.UpdatedBy
	fmt.Fprintf(&body, updatedAtFormat, html.EscapeString(meta.UpdatedAt))
	fmt.Fprintf(&body, updatedByFormat, html.EscapeString(u.FirstName), html.EscapeString(u.LastName), html.EscapeString(u.Email))

	p := Payload{
		RecipientList: nonNil(r.To),
		CCList:        nonNil(r.CC),
		BCCList:       []string{},
		Subject:       subj,
		Body:          body.String(),
		Attachments:   []string{},
	}
	if r.IsTest() {
		p.RecipientList = nonNil(r.TestTo)
		p.CCList = nonNil(r.TestCC)
		p.Subject = testMarker + subj + testMarker
		p.Body = fmt.Sprintf(testIntroFormat, r.Environment) + p.Body
	}
	return p
}

func nonNil(list []string) []string {
	out := []string{}
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
