// Package health checks that a network capture source is reachable before
// the stream is opened.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SourceKind classifies a capture source string.
type SourceKind string

const (
	SourceDevice  SourceKind = "device"
	SourceFile    SourceKind = "file"
	SourceNetwork SourceKind = "network"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"rtsp":  "554",
	"rtmp":  "1935",
}

// CheckResult contains the results of a preflight check
type CheckResult struct {
	Source        string     `json:"source"`
	Kind          SourceKind `json:"kind"`
	Skipped       bool       `json:"skipped"`
	HostReachable bool       `json:"host_reachable"`
	HostError     string     `json:"host_error,omitempty"`
	URLAccessible bool       `json:"url_accessible"`
	URLError      string     `json:"url_error,omitempty"`
	ResponseTime  int64      `json:"response_time_ms"`
	LastChecked   string     `json:"last_checked"`
}

// OK reports whether the source looks usable.
func (r CheckResult) OK() bool {
	if r.Skipped {
		return true
	}
	if !r.HostReachable {
		return false
	}
	return r.URLAccessible || r.URLError == ""
}

// Checker performs preflight checks on capture sources
type Checker struct {
	timeout time.Duration
	client  *http.Client
}

// NewChecker creates a new health checker
func NewChecker(timeout time.Duration) *Checker {
	return &Checker{
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Classify tells device indices, files and stream URLs apart.
func Classify(source string) SourceKind {
	if _, err := strconv.Atoi(source); err == nil {
		return SourceDevice
	}
	if u, err := url.Parse(source); err == nil && u.Host != "" {
		if _, ok := defaultPorts[strings.ToLower(u.Scheme)]; ok {
			return SourceNetwork
		}
	}
	return SourceFile
}

// Check runs a TCP check against network sources, plus an HTTP GET for
// http and https. Devices and files are skipped.
func (c *Checker) Check(ctx context.Context, source string) CheckResult {
	result := CheckResult{
		Source:      source,
		Kind:        Classify(source),
		LastChecked: time.Now().Format(time.RFC3339),
	}
	if result.Kind != SourceNetwork {
		result.Skipped = true
		return result
	}

	parsedURL, err := url.Parse(source)
	if err != nil {
		result.HostError = fmt.Sprintf("Invalid URL: %v", err)
		result.URLError = result.HostError
		return result
	}
	scheme := strings.ToLower(parsedURL.Scheme)

	result.HostReachable, result.HostError = c.tcpPing(ctx, hostPort(parsedURL, scheme))
	if !result.HostReachable {
		result.URLError = "Host unreachable"
		return result
	}

	if scheme == "http" || scheme == "https" {
		start := time.Now()
		result.URLAccessible, result.URLError = c.httpCheck(ctx, source)
		result.ResponseTime = time.Since(start).Milliseconds()
	}

	return result
}

func hostPort(u *url.URL, scheme string) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), defaultPorts[scheme])
}

// tcpPing attempts to establish a TCP connection to the host
func (c *Checker) tcpPing(ctx context.Context, host string) (bool, string) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return false, fmt.Sprintf("TCP connection failed: %v", err)
	}
	_ = conn.Close()
	return true, ""
}

// httpCheck performs an HTTP GET request to verify URL accessibility
func (c *Checker) httpCheck(ctx context.Context, urlStr string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return false, fmt.Sprintf("Request creation failed: %v", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("HTTP request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return true, ""
	}

	return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
}
