package httputil

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const maxRedirects = 5

type Clients struct {
	Scraping *http.Client // optional proxy, for building sites
	API      *http.Client // direct, for third-party APIs
}

// NewClients builds clients for fetching untrusted third-party sites.
// proxyURL may be empty.
func NewClients(proxyURL string, timeout time.Duration) (*Clients, error) {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
	}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, eris.Wrap(err, "httputil: parse proxy url")
		}
		transport.Proxy = http.ProxyURL(parsed)
		zap.L().Info("scraping client using proxy", zap.String("host", parsed.Host))
	}

	scraping := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return eris.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}
