package httpclient

import (
	"net/http"
	"time"
)

// sharedTransport is reused across all pooled clients. The embedder,
// generator and reranker clients all talk to one or two model runtime
// hosts, so keeping their idle connections in a single pool avoids a
// fresh TCP handshake on every pipeline stage.
var sharedTransport = &http.Transport{
	MaxIdleConns:        32,
	MaxIdleConnsPerHost: 16,
	IdleConnTimeout:     120 * time.Second,
	DisableKeepAlives:   false,
}

// NewPooledClient creates an http.Client that shares a connection pool
// with the other model runtime clients. The timeout is a hard cap per
// request; callers still pass per-call deadlines via context.
func NewPooledClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}
