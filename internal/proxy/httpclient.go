package proxy

import (
	"net/http"
	"time"

	"passman/internal/httpx"
)

// sharedHTTPClient hands back the keep-alive pooled client for non-mTLS
// requests; Certificate credentials get a dedicated one-off client instead
// (see clientFor).
func sharedHTTPClient(timeout time.Duration) *http.Client {
	return httpx.SharedClient(timeout)
}
