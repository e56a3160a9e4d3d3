// Package backend holds the transport plumbing shared by HTTP-based
// text-generation backends. Concrete backends live in subpackages.
package backend

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// NewHTTPClient returns a client for long-lived streaming calls.
//
// Client.Timeout stays zero: every request carries its own context, and a
// streaming body may legitimately stay open for a long time. headerTimeout
// bounds the wait for the backend to start answering (0 disables it).
func NewHTTPClient(connectTimeout, headerTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &http.Client{Transport: tr, Timeout: 0}
}

// StatusError builds an error from a non-2xx response, including a bounded
// prefix of the body.
func StatusError(name string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return fmt.Errorf("%s http error: %s", name, resp.Status)
	}
	return fmt.Errorf("%s http error: %s: %s", name, resp.Status, msg)
}

// TrimBaseURL normalizes a configured base URL and checks that it is absolute.
func TrimBaseURL(raw, def string) (string, error) {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	if s == "" {
		s = def
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return "", fmt.Errorf("base url %q must start with http:// or https://", s)
	}
	return s, nil
}
