package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Change is one entity change announced on the event stream.
type Change struct {
	Type     string `json:"type"` // saved | deleted
	Resource string `json:"resource"`
	ID       string `json:"id"`
	At       int64  `json:"at"`
}

// Events streams entity changes, calling fn for each until ctx is done, the
// server closes the stream or fn returns an error. resource filters to one
// collection; "" receives every change. ready, when non-nil, is closed once
// the server has confirmed the subscription. A ctx cancellation returns nil.
func (c *Client) Events(ctx context.Context, resource string, ready chan<- struct{}, fn func(Change) error) error {
	path := "/api/events"
	if resource != "" {
		path += "?resource=" + url.QueryEscape(resource)
	}
	req, err := c.newRequest(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: events: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode}
	}

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := dispatch(event, data, ready, fn); err != nil {
				return err
			}
			event, data = "", ""
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != "" {
				data += "\n"
			}
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: events: %v", ErrTransport, err)
	}
	return nil
}

func dispatch(event, data string, ready chan<- struct{}, fn func(Change) error) error {
	switch event {
	case "connected":
		if ready != nil {
			close(ready)
		}
	case "entity":
		var ch Change
		if err := json.Unmarshal([]byte(data), &ch); err != nil {
			return fmt.Errorf("%w: bad event %q: %v", ErrTransport, data, err)
		}
		return fn(ch)
	}
	return nil
}
