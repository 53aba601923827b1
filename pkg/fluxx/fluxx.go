// Package fluxx fetches the client configuration of a Fluxx grants management system
// through its Azure function gateway.
package fluxx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/macfound/configaudit/pkg/snapshot"
	"github.com/macfound/configaudit/pkg/whttp"
	"github.com/tidwall/gjson"
)

// ErrFetchFailed is returned when the gateway did not return a usable document.
var ErrFetchFailed = errors.New("configuration fetch failed")

const (
	configurationQuery = "all_core=1&all_dynamic=1"
	userQuery          = `cols=["first_name","last_name","email"]`
)

// Options configures a Client.
type Options struct {
	// BaseURL is the function app API root, e.g. https://func-fluxx-dev.azurewebsites.net/api.
	BaseURL         string
	FunctionKey     string
	ConfigurationID string
	PerPage         int
	HTTP            *retryablehttp.Client
}

type Client struct {
	opts Options
}

func NewClient(opts Options) *Client {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.HTTP == nil {
		opts.HTTP = whttp.NewClient(whttp.ClientOptions{})
	}
	return &Client{opts: opts}
}

// FetchCurrent returns the current configuration document together with who last
// changed it. The document text is returned exactly as received.
func (c *Client) FetchCurrent(ctx context.Context) (*snapshot.Snapshot, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.getObject(ctx, token, "client_configuration/"+c.opts.ConfigurationID, configurationQuery)
	if err != nil {
		return nil, err
	}

	cfg := gjson.Get(body, "client_configuration")
	if !cfg.IsObject() {
		return nil, fmt.Errorf("%w: response has no client_configuration", ErrFetchFailed)
	}

	configuration := cfg.Get("configuration")
	var raw string
	switch {
	case configuration.Type == gjson.String:
		raw = configuration.Str
	case configuration.IsObject():
		raw = configuration.Raw
	default:
		return nil, fmt.Errorf("%w: client_configuration %s has no configuration document", ErrFetchFailed, c.opts.ConfigurationID)
	}
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return nil, fmt.Errorf("%w: configuration of client_configuration %s is not a JSON object", ErrFetchFailed, c.opts.ConfigurationID)
	}

	updatedByID := cfg.Get("updated_by_id")
	if !updatedByID.Exists() || updatedByID.Type == gjson.Null {
		return nil, fmt.Errorf("%w: client_configuration %s has no updated_by_id", ErrFetchFailed, c.opts.ConfigurationID)
	}

	user, err := c.LookupUser(ctx, token, updatedByID.String())
	if err != nil {
		return nil, err
	}

	return &snapshot.Snapshot{
		Raw: raw,
		Metadata: snapshot.Metadata{
			UpdatedAt: cfg.Get("updated_at").String(),
			UpdatedBy: user,
		},
	}, nil
}

// AccessToken retrieves the bearer token required by the object endpoints.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	res, err := c.post(ctx, "/get_access_token", nil)
	if err != nil {
		return "", err
	}
	token := gjson.Get(res, "access_token").Str
	if token == "" {
		return "", fmt.Errorf("%w: no access_token in response", ErrFetchFailed)
	}
	return token, nil
}

// LookupUser resolves a Fluxx user id to a name and email address.
func (c *Client) LookupUser(ctx context.Context, token, id string) (snapshot.User, error) {
	body, err := c.getObject(ctx, token, "user/"+id, userQuery)
	if err != nil {
		return snapshot.User{}, err
	}
	u := gjson.Get(body, "user")
	if !u.IsObject() {
		return snapshot.User{}, fmt.Errorf("%w: user %s not found", ErrFetchFailed, id)
	}
	return snapshot.User{
		FirstName: u.Get("first_name").Str,
		LastName:  u.Get("last_name").Str,
		Email:     u.Get("email").Str,
	}, nil
}

type objectRequest struct {
	ModelType          string `json:"model_type"`
	AccessToken        string `json:"access_token"`
	JSONString         string `json:"json_string"`
	GMSPerPage         string `json:"gms_per_page"`
	IsJSONPropsOrdered bool   `json:"is_json_props_ordered"`
}

func (c *Client) getObject(ctx context.Context, token, modelType, query string) (string, error) {
	payload, err := json.Marshal(objectRequest{
		ModelType:          modelType,
		AccessToken:        token,
		JSONString:         query,
		GMSPerPage:         strconv.Itoa(c.opts.PerPage),
		IsJSONPropsOrdered: true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return c.post(ctx, "/get_fluxx_object", payload)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) (string, error) {
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  http.MethodPost,
		URL:     c.opts.BaseURL + path,
		Headers: []whttp.WHTTPHeader{{Name: "x-functions-key", Value: c.opts.FunctionKey}},
		Body:    payload,
	}, c.opts.HTTP)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, path, res.StatusCode)
	}
	if !gjson.Valid(res.BodyString) {
		return "", fmt.Errorf("%w: %s returned invalid JSON", ErrFetchFailed, path)
	}
	return res.BodyString, nil
}
