package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mediastream/discoveryservice/internal/domain"
)

const (
	UserAgent       = "discovery-service/1.0"
	maxResponseBody = 4 << 20
	maxErrorBody    = 2048
)

// NewHTTPClient returns a traced client shared by the adapters.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Fetcher performs GET requests for one named source and classifies failures
// into transient or permanent provider errors.
type Fetcher struct {
	Source  string
	Client  *http.Client
	Headers map[string]string
}

type Response struct {
	StatusCode int
	Body       []byte
}

func (f Fetcher) Get(ctx context.Context, endpoint string, query url.Values) (Response, error) {
	resp, err := f.open(ctx, endpoint, query)
	if err != nil {
		return Response{StatusCode: statusOf(resp)}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, domain.TransientError(f.Source, fmt.Errorf("read body: %w", err))
	}
	return Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// Stream hands the response body to consume without buffering it. Errors
// returned by consume are reported as malformed payloads.
func (f Fetcher) Stream(ctx context.Context, endpoint string, query url.Values, consume func(io.Reader) error) (int, error) {
	resp, err := f.open(ctx, endpoint, query)
	if err != nil {
		return statusOf(resp), err
	}
	defer resp.Body.Close()

	if err := consume(resp.Body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return resp.StatusCode, domain.TransientError(f.Source, ctxErr)
		}
		return resp.StatusCode, &domain.ProviderError{
			Source:     f.Source,
			Class:      domain.ClassPermanent,
			StatusCode: resp.StatusCode,
			Message:    "malformed payload",
			Err:        err,
		}
	}
	return resp.StatusCode, nil
}

// open issues the request. A non-2xx answer is closed and returned as an
// error together with the response for its status code.
func (f Fetcher) open(ctx context.Context, endpoint string, query url.Values) (*http.Response, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, domain.PermanentError(f.Source, "invalid endpoint: "+err.Error())
	}
	if len(query) > 0 {
		params := target.Query()
		for key, values := range query {
			for _, value := range values {
				params.Add(key, value)
			}
		}
		target.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, domain.PermanentError(f.Source, err.Error())
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	for key, value := range f.Headers {
		req.Header.Set(key, value)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.TransientError(f.Source, ctxErr)
		}
		return nil, domain.TransientError(f.Source, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return resp, domain.StatusError(f.Source, resp.StatusCode, string(body))
	}
	return resp, nil
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// GetJSON fetches endpoint and decodes the body into out. A body that does
// not decode is a permanent error: retrying would return the same payload.
func (f Fetcher) GetJSON(ctx context.Context, endpoint string, query url.Values, out any) (Response, error) {
	resp, err := f.Get(ctx, endpoint, query)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return resp, &domain.ProviderError{
			Source:     f.Source,
			Class:      domain.ClassPermanent,
			StatusCode: resp.StatusCode,
			Message:    "malformed payload",
			Err:        err,
		}
	}
	return resp, nil
}

// Page assembles a RawPage from adapter items.
func Page[T any](resp Response, items []T) (domain.RawPage, error) {
	raw, _, err := MarshalItems(items)
	if err != nil {
		return domain.RawPage{}, err
	}
	return domain.RawPage{StatusCode: resp.StatusCode, Bytes: len(resp.Body), Items: raw}, nil
}

// DecodeItem is the common first step of every Normalize implementation.
func DecodeItem(source string, raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New(source + ": empty item")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode item: %w", source, err)
	}
	return nil
}
