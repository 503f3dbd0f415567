package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout for the HTTP sinks.
const DefaultTimeout = 10 * time.Second

// ScalarEntry is the JSON payload posted by External, and stored by the log server.
type ScalarEntry struct {
	Tag   string  `json:"tag"`
	Value float64 `json:"value"`
	Step  int     `json:"step"`
}

// postJSON posts payload to the given URL, and fails with ErrSinkUnavailable if the server can't be reached
// or doesn't return a 2xx status.
func postJSON(client *http.Client, target string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to encode payload for %s", target)
	}
	resp, err := client.Post(target, "application/json", bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(ErrSinkUnavailable, "POST %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Wrapf(ErrSinkUnavailable, "POST %s: status %s: %s", target, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// External sink posts each summary as JSON to `<url>/post_log/<logDir>` (see package logserver).
type External struct {
	client *http.Client
	target string
}

var _ Sink = (*External)(nil)

// NewExternal creates an External sink for the server at baseURL, logging under logDir.
func NewExternal(baseURL, logDir string) *External {
	return &External{
		client: &http.Client{Timeout: DefaultTimeout},
		target: fmt.Sprintf("%s/post_log/%s", strings.TrimRight(baseURL, "/"), url.PathEscape(logDir)),
	}
}

// ScalarSummary implements Sink.
func (e *External) ScalarSummary(tag string, value float64, step int) error {
	return postJSON(e.client, e.target, ScalarEntry{Tag: tag, Value: value, Step: step})
}

// Close implements Sink.
func (e *External) Close() error { return nil }

// Dashboard sink pushes summaries to a Visdom server, one line-plot window per tag.
type Dashboard struct {
	client  *http.Client
	baseURL string
	env     string
	windows map[string]bool
}

var _ Sink = (*Dashboard)(nil)

// NewDashboard creates a Dashboard sink for the Visdom server at baseURL, using the environment env.
func NewDashboard(baseURL, env string) *Dashboard {
	return &Dashboard{
		client:  &http.Client{Timeout: DefaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		env:     env,
		windows: make(map[string]bool),
	}
}

type visdomTrace struct {
	X    []int     `json:"x"`
	Y    []float64 `json:"y"`
	Type string    `json:"type"`
	Mode string    `json:"mode"`
	Name string    `json:"name"`
}

type visdomEvent struct {
	Env    string         `json:"eid"`
	Window string         `json:"win"`
	Data   []visdomTrace  `json:"data"`
	Layout map[string]any `json:"layout,omitempty"`
	Append bool           `json:"append,omitempty"`
	Name   string         `json:"name,omitempty"`
}

// ScalarSummary implements Sink. The first summary of a tag creates its window (`/events`), the following
// ones are appended to it (`/update`).
func (d *Dashboard) ScalarSummary(tag string, value float64, step int) error {
	ev := visdomEvent{
		Env:    d.env,
		Window: tag,
		Data:   []visdomTrace{{X: []int{step}, Y: []float64{value}, Type: "scatter", Mode: "lines", Name: tag}},
	}
	endpoint := "/events"
	if d.windows[tag] {
		endpoint = "/update"
		ev.Append = true
		ev.Name = tag
	} else {
		ev.Layout = map[string]any{"title": tag, "xaxis": map[string]string{"title": "step"}}
	}
	if err := postJSON(d.client, d.baseURL+endpoint, ev); err != nil {
		return err
	}
	d.windows[tag] = true
	return nil
}

// Close implements Sink.
func (d *Dashboard) Close() error { return nil }
