package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiError is the error half of the server's response envelope
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

// client talks to the expert panel HTTP API
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends a JSON request and decodes the envelope's data into out
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("unexpected response from %s (HTTP %d): %w", path, resp.StatusCode, err)
	}
	if !env.Success || env.Error != nil {
		if env.Error == nil {
			env.Error = &apiError{Code: "UNKNOWN", Message: "request failed"}
		}
		env.Error.Status = resp.StatusCode
		return env.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// stream sends a JSON request to an SSE endpoint and calls fn for every event
func (c *client) stream(ctx context.Context, path string, body any, fn func(sseEvent) error) error {
	resp, err := c.send(ctx, http.MethodPost, path, body, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// validation failures are answered with a plain envelope before streaming starts
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || env.Error == nil {
			return fmt.Errorf("unexpected response from %s (HTTP %d)", path, resp.StatusCode)
		}
		env.Error.Status = resp.StatusCode
		return env.Error
	}

	return readEvents(resp.Body, fn)
}

func (c *client) send(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	return resp, nil
}

// sseEvent is one server-sent event frame
type sseEvent struct {
	Name string
	Data []byte
}

// errStopStream ends readEvents without an error
var errStopStream = errors.New("stop stream")

// readEvents parses a text/event-stream body. Frames are separated by blank
// lines; multiple data lines are joined with newlines and comment lines are
// ignored.
func readEvents(r io.Reader, fn func(sseEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		name string
		data []string
	)
	dispatch := func() error {
		defer func() {
			name = ""
			data = data[:0]
		}()
		if len(data) == 0 {
			return nil
		}
		if name == "" {
			name = "message"
		}
		return fn(sseEvent{Name: name, Data: []byte(strings.Join(data, "\n"))})
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				if errors.Is(err, errStopStream) {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				data = append(data, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}

	if err := dispatch(); err != nil && !errors.Is(err, errStopStream) {
		return err
	}
	return nil
}
