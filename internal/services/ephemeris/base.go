package ephemeris

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	xhttp "AstroCal/pkg/http"
)

// HTTPServiceBase centralizes client construction and JSON POSTs against the
// ephemeris service.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
	retries int
}

func NewHTTPServiceBase(baseURL string, timeout time.Duration, retries int, opts ...xhttp.ClientOption) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout), xhttp.WithUserAgent("astrocal-ephemeris")}, opts...)
	return &HTTPServiceBase{
		baseURL: baseURL,
		client:  xhttp.NewClient(opts...),
		retries: retries,
	}
}

// PostJSON posts the payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("ephemeris http client not initialized")
	}
	err := b.client.DoJSON(ctx, &xhttp.Request{
		Method: http.MethodPost,
		URL:    b.baseURL + path,
		Body:   payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries transient failures only; a 4xx answer is final.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	attempts := b.retries + 1
	var err error
	for i := 1; i <= attempts; i++ {
		err = b.PostJSON(ctx, path, payload, dest)
		if err == nil || !transient(err) || i == attempts {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// transient is true for transport failures and 5xx/429 answers.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	if errors.As(err, &syn) || errors.As(err, &typ) {
		return false
	}
	return true
}
