// Package search talks to the downstream search engine: bulk document
// writes over the NDJSON bulk API and index provisioning.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/conveyorproject/conveyor/internal/conveyor/ingest"
)

type Config struct {
	// URL is the search engine base url, e.g. http://localhost:9200.
	URL      string
	Username string
	Password string
	// RequestTimeout bounds each individual HTTP request, not the whole
	// retried call. Defaults to 30s.
	RequestTimeout time.Duration
	// MaxRetries is the number of attempts for retryable transport
	// failures. Defaults to 3.
	MaxRetries uint
}

// Client is an HTTP client for the search engine. Transport-level failures
// (connection errors, 5xx, 429) are retried with backoff; per-item bulk
// failures are not retryable and are reported as one combined error.
type Client struct {
	baseURL    string
	username   string
	password   string
	maxRetries uint
	httpClient *http.Client
}

func NewClient(config Config) *Client {
	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL:    strings.TrimRight(config.URL, "/"),
		username:   config.Username,
		password:   config.Password,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type bulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type bulkItemResult struct {
	ID     string         `json:"_id"`
	Status int            `json:"status"`
	Error  *bulkItemError `json:"error"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

// Bulk submits ops as one ordered NDJSON bulk write. Implements
// ingest.BulkClient.
func (c *Client) Bulk(ctx context.Context, ops []ingest.Operation, pipeline string) error {
	if len(ops) == 0 {
		return nil
	}
	var body bytes.Buffer
	for _, op := range ops {
		body.Write(op.Meta)
		body.WriteByte('\n')
		if len(op.Source) > 0 {
			body.Write(op.Source)
			body.WriteByte('\n')
		}
	}
	url := c.baseURL + "/_bulk"
	if pipeline != "" {
		url += "?pipeline=" + pipeline
	}

	responseBody, err := c.doWithRetry(ctx, http.MethodPost, url, "application/x-ndjson", body.Bytes())
	if err != nil {
		return err
	}

	var response bulkResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return errors.WithMessage(err, "error parsing bulk response")
	}
	if !response.Errors {
		return nil
	}
	var result *multierror.Error
	for _, item := range response.Items {
		for action, itemResult := range item {
			if itemResult.Error == nil {
				continue
			}
			result = multierror.Append(result, errors.Errorf(
				"%s of document %q failed with status %d: %s: %s",
				action, itemResult.ID, itemResult.Status, itemResult.Error.Type, itemResult.Error.Reason))
		}
	}
	return errors.WithMessage(result.ErrorOrNil(), "bulk write partially failed")
}

// EnsureIndex creates the index if it does not exist. Creation racing
// another process is fine: already-exists answers are treated as success.
func (c *Client) EnsureIndex(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/%s", c.baseURL, name)
	_, err := c.doWithRetry(ctx, http.MethodPut, url, "application/json", []byte("{}"))
	if err != nil && strings.Contains(err.Error(), "resource_already_exists_exception") {
		return nil
	}
	return errors.WithMessagef(err, "error ensuring index %q", name)
}

func (c *Client) doWithRetry(ctx context.Context, method string, url string, contentType string, body []byte) ([]byte, error) {
	var responseBody []byte
	err := retry.Do(
		func() error {
			var err error
			responseBody, err = c.do(ctx, method, url, contentType, body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.maxRetries),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(attempt uint, err error) {
			log.WithError(err).Warnf("Retrying %s %s, attempt %d", method, url, attempt+1)
		}),
	)
	return responseBody, err
}

func (c *Client) do(ctx context.Context, method string, url string, contentType string, body []byte) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	request.Header.Set("Content-Type", contentType)
	if c.username != "" {
		request.SetBasicAuth(c.username, c.password)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &transportError{cause: err}
	}
	defer response.Body.Close()

	responseBody, err := ioutil.ReadAll(response.Body)
	if err != nil {
		return nil, &transportError{cause: err}
	}
	if response.StatusCode >= 500 || response.StatusCode == http.StatusTooManyRequests {
		return nil, &transportError{cause: errors.Errorf(
			"search engine answered %d: %s", response.StatusCode, truncateBody(responseBody))}
	}
	if response.StatusCode >= 400 {
		return nil, errors.Errorf(
			"search engine answered %d: %s", response.StatusCode, truncateBody(responseBody))
	}
	return responseBody, nil
}

// transportError marks failures worth retrying: connection problems,
// server errors and throttling.
type transportError struct {
	cause error
}

func (err *transportError) Error() string { return err.cause.Error() }
func (err *transportError) Unwrap() error { return err.cause }

func isRetryable(err error) bool {
	var transport *transportError
	return errors.As(err, &transport)
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
