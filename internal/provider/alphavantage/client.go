package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"marketfeed/internal/httpx"
	"marketfeed/internal/provider"
)

const (
	baseURL = "https://www.alphavantage.co"
	maxBody = 32 << 20
)

// DemoKey is the public key Alpha Vantage accepts for a handful of
// documented symbols.
const DemoKey = "demo"

// AlphaVantageAPIClient is a client for the Alpha Vantage query API.
type AlphaVantageAPIClient struct {
	// name identifies the client in errors and diagnostics.
	name string
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient httpx.HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
}

// AlphaVantageAPIClientOption is a configuration option for the client.
type AlphaVantageAPIClientOption func(*AlphaVantageAPIClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) AlphaVantageAPIClientOption {
	return func(c *AlphaVantageAPIClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient httpx.HTTPClient) AlphaVantageAPIClientOption {
	return func(c *AlphaVantageAPIClient) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) AlphaVantageAPIClientOption {
	return func(c *AlphaVantageAPIClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithName overrides the name used in errors, e.g. for the demo-key client.
func WithName(name string) AlphaVantageAPIClientOption {
	return func(c *AlphaVantageAPIClient) {
		c.name = name
	}
}

// NewAlphaVantageAPIClient creates a new client. An empty key is a
// configuration error; use DemoKey for the public demo tier.
func NewAlphaVantageAPIClient(key string, options ...AlphaVantageAPIClientOption) (*AlphaVantageAPIClient, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("alphavantage: api key is required")
	}
	var client = &AlphaVantageAPIClient{
		name:       "alphavantage",
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	client.query.Add("apikey", key)
	for _, option := range options {
		option(client)
	}
	return client, nil
}

func (c *AlphaVantageAPIClient) Name() string { return c.name }

// get performs GET /query for function and decodes the body into out.
// Alpha Vantage reports throttling and bad symbols with HTTP 200, so the
// well-known message keys are checked before out is filled.
func (c *AlphaVantageAPIClient) get(ctx context.Context, function string, params url.Values, out any) error {
	query := maps.Clone(c.query)
	query.Set("function", function)
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	u := fmt.Sprintf("%s/query?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return provider.Wrap(provider.KindMalformed, c.name, "creating request", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return provider.Wrap(provider.Classify(err), c.name, "performing request", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return provider.Errorf(provider.FromStatus(res.StatusCode), c.name, "unexpected status code: %d", res.StatusCode)
	}

	b, err := httpx.ReadBody(res, maxBody)
	if err != nil {
		return provider.Wrap(provider.Classify(err), c.name, "reading response", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return provider.Wrap(provider.KindMalformed, c.name, "decoding response", err)
	}
	if err := c.messageError(raw); err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return provider.Wrap(provider.KindMalformed, c.name, "decoding response", err)
	}
	return nil
}

// messageError maps the "Note", "Information" and "Error Message" keys
// onto error kinds.
func (c *AlphaVantageAPIClient) messageError(raw map[string]json.RawMessage) error {
	text := func(key string) (string, bool) {
		v, ok := raw[key]
		if !ok {
			return "", false
		}
		var s string
		_ = json.Unmarshal(v, &s)
		return s, true
	}
	if msg, ok := text("Note"); ok {
		return provider.NewError(provider.KindRateLimited, c.name, msg)
	}
	if msg, ok := text("Information"); ok {
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "rate limit") || strings.Contains(lower, "requests per") {
			return provider.NewError(provider.KindRateLimited, c.name, msg)
		}
		return provider.NewError(provider.KindEmpty, c.name, msg)
	}
	if msg, ok := text("Error Message"); ok {
		return provider.NewError(provider.KindEmpty, c.name, msg)
	}
	return nil
}
