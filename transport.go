package httpsession

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// newTransport builds the session transport. The connect timeout bounds
// dialing and the TLS handshake. The read timeout bounds the wait for
// response headers and every read of the body after that.
func newTransport(timeout Timeout) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   timeout.Connect,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialWithReadTimeout(dialer, timeout.Read),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout.Connect,
		ResponseHeaderTimeout: timeout.Read,
		ExpectContinueTimeout: time.Second,
	}
}

// newHTTPClient returns the client used when none is supplied.
func newHTTPClient(timeout Timeout) *http.Client {
	return &http.Client{Transport: newTransport(timeout)}
}

func dialWithReadTimeout(dialer *net.Dialer, read time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil || read <= 0 {
			return conn, err
		}
		return &readTimeoutConn{Conn: conn, read: read}, nil
	}
}

// readTimeoutConn fails a read once the peer has been silent for longer
// than read. Writes push the deadline too, so a read left pending on an
// idle keep-alive connection is measured from the request, not from the
// previous response. Idle connections are dropped after read.
type readTimeoutConn struct {
	net.Conn
	read time.Duration
}

func (c *readTimeoutConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *readTimeoutConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}

// cancelOnClose releases a per-call context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// mergeHeaders copies each default header into h unless h already carries
// it.
func mergeHeaders(h http.Header, defaults http.Header) {
	for name, values := range defaults {
		if _, ok := h[name]; ok {
			continue
		}
		h[name] = append([]string(nil), values...)
	}
}

// userAgent joins the configured User-Agent components.
func userAgent(components []string) string {
	parts := make([]string, 0, len(components))
	for _, c := range components {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

// send runs req through the middleware chain and the HTTP client.
func (s *Session) send(req *http.Request) (*http.Response, error) {
	if len(s.middleware) == 0 {
		return s.httpClient.Do(req)
	}

	current := RoundTripperFunc(s.httpClient.Do)
	for i := len(s.middleware) - 1; i >= 0; i-- {
		mw := s.middleware[i]
		next := current
		current = func(r *http.Request) (*http.Response, error) {
			return mw(r, next)
		}
	}
	return current.RoundTrip(req)
}
