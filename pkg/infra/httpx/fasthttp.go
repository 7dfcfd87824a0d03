package httpx

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	DefaultTimeout             = 30 * time.Second
	DefaultConnectTimeout      = 5 * time.Second
	DefaultMaxConnsPerHost     = 512
	DefaultMaxIdleConnDuration = 10 * time.Second
	DefaultMaxResponseBodySize = 10 * 1024 * 1024
)

type FastHTTPClientOptions struct {
	// Timeout bounds a request that carries no context deadline.
	Timeout time.Duration
	// ConnectTimeout bounds the dial only and is capped at Timeout.
	ConnectTimeout      time.Duration
	TLSConfig           *tls.Config
	MaxConnsPerHost     int
	MaxIdleConnDuration time.Duration
	MaxResponseBodySize int
	UserAgent           string
}

type FastHTTPClientOption func(*FastHTTPClientOptions)

func WithTimeout(timeout time.Duration) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.Timeout = timeout
	}
}

func WithConnectTimeout(timeout time.Duration) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.ConnectTimeout = timeout
	}
}

// WithTLSConfig sets the TLS configuration used for https endpoints.
func WithTLSConfig(cfg *tls.Config) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.TLSConfig = cfg
	}
}

func WithUserAgent(userAgent string) FastHTTPClientOption {
	return func(o *FastHTTPClientOptions) {
		o.UserAgent = userAgent
	}
}

// FastHTTPClient adapts a pooled fasthttp.Client to the net/http request and
// response types.
type FastHTTPClient struct {
	client    *fasthttp.Client
	timeout   time.Duration
	userAgent string
}

// NewFastHTTPClient creates a new FastHTTPClient with the given options.
// If no options are provided, sensible defaults are used.
func NewFastHTTPClient(opts ...FastHTTPClientOption) *FastHTTPClient {
	options := &FastHTTPClientOptions{
		Timeout:             DefaultTimeout,
		ConnectTimeout:      DefaultConnectTimeout,
		MaxConnsPerHost:     DefaultMaxConnsPerHost,
		MaxIdleConnDuration: DefaultMaxIdleConnDuration,
		MaxResponseBodySize: DefaultMaxResponseBodySize,
	}
	for _, opt := range opts {
		opt(options)
	}

	connectTimeout := options.ConnectTimeout
	if options.Timeout > 0 && (connectTimeout <= 0 || connectTimeout > options.Timeout) {
		connectTimeout = options.Timeout
	}

	client := &fasthttp.Client{
		MaxConnsPerHost:     options.MaxConnsPerHost,
		MaxIdleConnDuration: options.MaxIdleConnDuration,
		MaxResponseBodySize: options.MaxResponseBodySize,
		ReadTimeout:         options.Timeout,
		WriteTimeout:        options.Timeout,
	}
	if connectTimeout > 0 {
		client.Dial = func(addr string) (net.Conn, error) {
			return fasthttp.DialTimeout(addr, connectTimeout)
		}
	}

	if options.TLSConfig != nil {
		client.TLSConfig = options.TLSConfig.Clone()
	}

	return &FastHTTPClient{
		client:    client,
		timeout:   options.Timeout,
		userAgent: options.UserAgent,
	}
}

// Do sends req and honours req.Context(): a context deadline bounds the call
// and cancellation abandons it.
func (c *FastHTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fastReq := fasthttp.AcquireRequest()
	fastResp := fasthttp.AcquireResponse()

	if err := c.copyRequest(req, fastReq); err != nil {
		fasthttp.ReleaseRequest(fastReq)
		fasthttp.ReleaseResponse(fastResp)
		return nil, err
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
		hasDeadline = true
	}

	done := make(chan error, 1)
	go func() {
		if hasDeadline {
			done <- c.client.DoDeadline(fastReq, fastResp, deadline)
			return
		}
		done <- c.client.Do(fastReq, fastResp)
	}()

	select {
	case err := <-done:
		defer fasthttp.ReleaseRequest(fastReq)
		defer fasthttp.ReleaseResponse(fastResp)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		return buildResponse(req, fastResp), nil
	case <-ctx.Done():
		// The in-flight call still owns the buffers until it returns.
		go func() {
			<-done
			fasthttp.ReleaseRequest(fastReq)
			fasthttp.ReleaseResponse(fastResp)
		}()
		return nil, ctx.Err()
	}
}

// CloseIdleConnections closes pooled connections that are not in use.
func (c *FastHTTPClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

func (c *FastHTTPClient) copyRequest(req *http.Request, fastReq *fasthttp.Request) error {
	if req.URL != nil {
		fastReq.SetRequestURI(req.URL.String())
	}
	fastReq.Header.SetMethod(req.Method)

	if req.Host != "" {
		fastReq.Header.SetHost(req.Host)
	} else if req.URL != nil && req.URL.Host != "" {
		fastReq.Header.SetHost(req.URL.Host)
	}

	for key, values := range req.Header {
		if len(values) == 1 {
			fastReq.Header.Set(key, values[0])
		} else {
			for _, value := range values {
				fastReq.Header.Add(key, value)
			}
		}
	}

	if c.userAgent != "" && len(req.Header.Get("User-Agent")) == 0 {
		fastReq.Header.Set("User-Agent", c.userAgent)
	}

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		fastReq.SetBodyRaw(body)
	}
	return nil
}

func buildResponse(req *http.Request, fastResp *fasthttp.Response) *http.Response {
	// fastResp.Body() is reused after release, so it must be copied
	respBody := fastResp.Body()
	bodyCopy := make([]byte, len(respBody))
	copy(bodyCopy, respBody)

	statusCode := fastResp.StatusCode()

	headers := make(http.Header)
	fastResp.Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		StatusCode:    statusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        headers,
		Body:          io.NopCloser(bytes.NewReader(bodyCopy)),
		ContentLength: int64(len(bodyCopy)),
		Request:       req,
	}
}

var _ Client = (*FastHTTPClient)(nil)
var _ IdleCloser = (*FastHTTPClient)(nil)
