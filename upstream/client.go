// Package upstream implements the signed HTTP client against the comic
// hosting service: request signing, retry with exponential jitter, response
// decompression, and the typed operations the download engine drives.
package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"comicvault/models"
)

// Doer is the seam tests substitute to avoid real network calls.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	baseURL         = "https://comic-api.example.internal"
	maxAttempts     = 3
	connectTimeout  = 30 * time.Second
	requestTimeout  = 60 * time.Second
	defaultLanguage = "en-US"
)

// Client is the authenticated, signed, retrying HTTP client.
type Client struct {
	http  Doer
	token string
	log   *logrus.Entry

	// reqLog is a separate, opt-in file-backed logger for raw request/response
	// traces.
	reqLog *logrus.Logger
}

// NewClient builds a Client. When cfg.Proxy is set, the transport dials
// through the configured HTTP or SOCKS5 proxy; this happens once, at
// construction.
func NewClient(cfg models.Config) (*Client, error) {
	transport := &http.Transport{}

	if cfg.Proxy != nil {
		dialer, err := proxyDialer(*cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("build proxy dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}

	return &Client{
		http:  httpClient,
		token: cfg.Token,
		log:   logrus.WithField("component", "upstream"),
	}, nil
}

// proxyDialer constructs a proxy.Dialer for the configured proxy type.
func proxyDialer(cfg models.ProxyConfig) (proxy.Dialer, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	switch cfg.Type {
	case models.ProxySocks5:
		return proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	case models.ProxyHTTP:
		u := &url.URL{Scheme: "http", Host: addr}
		return proxy.FromURL(u, proxy.Direct)
	default:
		return nil, fmt.Errorf("unknown proxy type %q", cfg.Type)
	}
}

// SetToken updates the bearer token used on subsequent requests, called
// after a successful login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// doJSON signs, sends, retries, decompresses and decodes one JSON request.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	fullURL := baseURL + path

	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.log.WithFields(logrus.Fields{"url": fullURL, "attempt": attempt + 1}).Debug("retrying upstream request")
		}

		data, retryAfter, err := c.attempt(ctx, method, fullURL, reqBody)
		if err == nil {
			if result != nil {
				if uerr := json.Unmarshal(data, result); uerr != nil {
					return &DeserializeError{Path: path, Reason: uerr.Error(), Sample: sample(data)}
				}
			}
			return nil
		}

		if httpErr, ok := err.(*HttpClientError); ok {
			if httpErr.Status == 401 {
				return ErrAuthExpired
			}
			if !httpErr.IsRetryable() {
				return err
			}
			lastErr = err
			c.sleepBackoff(ctx, attempt, retryAfter)
			continue
		}

		// Transport-level failure: always retryable under the budget.
		lastErr = &NetworkError{URL: fullURL, Err: err}
		c.sleepBackoff(ctx, attempt, 0)
	}

	return fmt.Errorf("upstream request failed after %d attempts: %w", maxAttempts, lastErr)
}

// attempt performs one signed request and returns the decompressed body on
// a 2xx status (plus any Retry-After seconds the response carried), or an
// *HttpClientError carrying the status on anything else.
func (c *Client) attempt(ctx context.Context, method, fullURL string, body []byte) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, connectTimeout+requestTimeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, fullURL, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	sig, err := sign(fullURL, method)
	if err != nil {
		return nil, 0, fmt.Errorf("sign request: %w", err)
	}

	req.Header.Set("time", sig.Time)
	req.Header.Set("nonce", sig.Nonce)
	req.Header.Set("signature", sig.Signature)
	req.Header.Set("api-key", headerAPIKey)
	req.Header.Set("app-version", headerAppVersion)
	req.Header.Set("uuid", headerUUID)
	req.Header.Set("platform", headerPlatform)
	req.Header.Set("channel", headerChannel)
	req.Header.Set("build-version", headerBuild)
	req.Header.Set("accept-language", defaultLanguage)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	retryAfter := 0
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			retryAfter = secs
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryAfter, fmt.Errorf("read response body: %w", err)
	}

	data, err := decompress(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, retryAfter, fmt.Errorf("decompress response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, retryAfter, &HttpClientError{Status: resp.StatusCode, Message: sample(data), URL: fullURL}
	}

	return data, retryAfter, nil
}

// decompress detects gzip (magic bytes 1f 8b) or Brotli (Content-Encoding
// header) and returns the plain bytes.
func decompress(body []byte, contentEncoding string) ([]byte, error) {
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}

	if contentEncoding == "br" {
		r := brotli.NewReader(bytes.NewReader(body))
		return io.ReadAll(r)
	}

	return body, nil
}

func sample(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max])
	}
	return string(data)
}

// sleepBackoff waits an exponential-jitter interval before the next retry,
// honoring retryAfter seconds when the upstream supplied one.
func (c *Client) sleepBackoff(ctx context.Context, attempt, retryAfter int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	wait += time.Duration(rand.Intn(250)) * time.Millisecond
	if retryAfter > 0 {
		wait = time.Duration(retryAfter) * time.Second
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
