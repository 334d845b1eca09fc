// Package trackers loads announce URL lists for building magnet links.
package trackers

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPLoader fetches a newline-separated tracker list, such as the ones
// published by the trackerslist project.
type HTTPLoader struct {
	url        string
	httpClient *http.Client
}

func NewHTTPLoader(url string, httpClient *http.Client) *HTTPLoader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &HTTPLoader{url: url, httpClient: httpClient}
}

func (l *HTTPLoader) Load(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracker list request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tracker list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching tracker list", resp.StatusCode)
	}

	var list []string

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		list = append(list, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tracker list: %w", err)
	}

	return list, nil
}

// StaticLoader serves a fixed tracker list.
type StaticLoader []string

func (l StaticLoader) Load(_ context.Context) ([]string, error) {
	return l, nil
}
