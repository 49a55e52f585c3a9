// Package client is the thin HTTP client the CLI commands share.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ServerURL and Token are bound to the root command's global flags.
var (
	ServerURL = "http://localhost:8080"
	Token     string
)

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

func do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(data))
	}

	req, err := http.NewRequest(method, strings.TrimRight(ServerURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if Token != "" {
		req.Header.Set("Authorization", "Bearer "+Token)
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return serverError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func serverError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("server error: %s", payload.Error)
	}
	return fmt.Errorf("server error: %s", resp.Status)
}

// Get fetches path and decodes the JSON response into out.
func Get(path string, out interface{}) error {
	return do(http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the response into out.
func Post(path string, body, out interface{}) error {
	return do(http.MethodPost, path, body, out)
}

// Put sends body as JSON and decodes the response into out.
func Put(path string, body, out interface{}) error {
	return do(http.MethodPut, path, body, out)
}

// Delete removes the resource at path.
func Delete(path string) error {
	return do(http.MethodDelete, path, nil, nil)
}
