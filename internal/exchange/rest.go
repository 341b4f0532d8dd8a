package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPError is a non-2xx answer from a venue.
type HTTPError struct {
	Venue  string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s http error %d: %s", e.Venue, e.Status, e.Body)
}

func newRESTClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// getJSON decodes the response body into out regardless of the Content-Type header.
func getJSON(ctx context.Context, venue string, client *resty.Client, path string, params map[string]string, out any) error {
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		ForceContentType("application/json").
		Get(path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", venue, path, err)
	}
	if resp.IsError() {
		body := strings.TrimSpace(resp.String())
		if len(body) > 256 {
			body = body[:256]
		}
		return &HTTPError{Venue: venue, Status: resp.StatusCode(), Body: body}
	}
	return nil
}
