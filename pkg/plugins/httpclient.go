// Package plugins holds the speech and language providers used by voice
// sessions. Each provider lives in its own subpackage; this package carries
// what they share.
package plugins

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/livekit/protocol/logger"
	"golang.org/x/net/http2"
)

const (
	sharedHTTPTimeout = 15 * time.Second

	sharedMaxIdleConns        = 30
	sharedMaxIdleConnsPerHost = 15
	sharedIdleConnTimeout     = 90 * time.Second
	sharedTLSHandshakeTimeout = 10 * time.Second
	sharedDialTimeout         = 5 * time.Second
)

var (
	sharedHTTPClient *http.Client
	clientOnce       sync.Once
)

// SharedHTTPClient returns a process-wide HTTP client with HTTP/2 and
// connection pooling, used for provider API calls.
func SharedHTTPClient() *http.Client {
	clientOnce.Do(func() {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   sharedDialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: sharedTLSHandshakeTimeout,
			IdleConnTimeout:     sharedIdleConnTimeout,
			MaxIdleConns:        sharedMaxIdleConns,
			MaxIdleConnsPerHost: sharedMaxIdleConnsPerHost,
			ForceAttemptHTTP2:   true,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}

		if err := http2.ConfigureTransport(transport); err != nil {
			logger.GetLogger().Warnw("failed to configure shared HTTP/2 transport", err)
		}

		sharedHTTPClient = &http.Client{
			Transport: transport,
			Timeout:   sharedHTTPTimeout,
		}
	})
	return sharedHTTPClient
}

// FirstEnv returns the first non-empty value among the named variables.
func FirstEnv(getenv func(string) string, names ...string) string {
	for _, name := range names {
		if v := getenv(name); v != "" {
			return v
		}
	}
	return ""
}
