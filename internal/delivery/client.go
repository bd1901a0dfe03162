// Package delivery uploads one queued artifact to the collection server
// and classifies the result.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FieldName is the multipart field the server reads the image from.
const FieldName = "image"

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 20 * time.Second

// Outcome classifies a delivery attempt.
type Outcome int

const (
	// Delivered means the server confirmed storage.
	Delivered Outcome = iota
	// TransientFailure covers network errors, timeouts, 5xx and 429.
	// The artifact should be retried later.
	TransientFailure
	// Rejected means the server refused the artifact with a 4xx.
	// Retrying the same bytes will not help.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result describes one attempt.
type Result struct {
	Outcome    Outcome
	Reason     string
	StatusCode int
	// Stored is the server's name for the artifact on success.
	Stored string
}

// Client posts artifacts to the server's ingestion endpoint.
type Client struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewClient builds a Client for the ingestion URL. A zero timeout uses
// DefaultTimeout. A nil httpClient uses a plain http.Client.
func NewClient(endpoint string, timeout time.Duration, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", endpoint)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{endpoint: endpoint, client: httpClient, timeout: timeout}, nil
}

// Deliver uploads payload under name. It never returns an error: every
// failure is folded into the Result.
func (c *Client) Deliver(ctx context.Context, name string, payload io.Reader) Result {
	body, contentType, err := encodeForm(name, payload)
	if err != nil {
		// Reading the local payload failed; the server never saw it.
		return Result{Outcome: TransientFailure, Reason: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Result{Outcome: TransientFailure, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout after " + c.timeout.String()
		}
		return Result{Outcome: TransientFailure, Reason: reason}
	}
	defer resp.Body.Close()

	return classify(resp)
}

// Reachable reports whether the server answers its health endpoint.
func (c *Client) Reachable(ctx context.Context) bool {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return false
	}
	u.Path = "/healthz"
	u.RawQuery = ""

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func encodeForm(name string, payload io.Reader) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(FieldName, name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, payload); err != nil {
		return nil, "", fmt.Errorf("read payload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

type serverReply struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

func classify(resp *http.Response) Result {
	var reply serverReply
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &reply)

	res := Result{StatusCode: resp.StatusCode}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res.Outcome = Delivered
		res.Stored = reply.Filename
		res.Reason = reply.Message
		return res
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		res.Outcome = TransientFailure
	case resp.StatusCode >= 400:
		res.Outcome = Rejected
	default:
		// 1xx/3xx left unresolved by the client: try again later.
		res.Outcome = TransientFailure
	}

	res.Reason = reply.Error
	if res.Reason == "" {
		res.Reason = strings.TrimSpace(string(raw))
	}
	if res.Reason == "" {
		res.Reason = resp.Status
	}
	return res
}
