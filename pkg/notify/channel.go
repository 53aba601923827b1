package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/macfound/configaudit/pkg/whttp"
)

// HTTPChannel posts payloads to the mail function.
type HTTPChannel struct {
	URL         string
	FunctionKey string
	HTTP        *retryablehttp.Client
}

func (c *HTTPChannel) Deliver(ctx context.Context, p Payload) (Receipt, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Receipt{}, err
	}
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  http.MethodPost,
		URL:     c.URL,
		Headers: []whttp.WHTTPHeader{{Name: "x-functions-key", Value: c.FunctionKey}},
		Body:    body,
	}, c.HTTP)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{StatusCode: res.StatusCode, Body: res.BodyString}, nil
}

// LogChannel writes notifications to the log instead of sending them.
type LogChannel struct {
	Log Logger
}

func (c *LogChannel) Deliver(_ context.Context, p Payload) (Receipt, error) {
	log := c.Log
	if log == nil {
		log = nopLogger{}
	}
	log.Infof("Would send %q to %s (cc %s):\n%s", p.Subject, strings.Join(p.RecipientList, ", "), strings.Join(p.CCList, ", "), PlainText(p.Body))
	return Receipt{StatusCode: http.StatusOK}, nil
}

// PlainText renders an HTML notification body as text, one line per break.
func PlainText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p").AppendHtml("\n")

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\u00a0", " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
