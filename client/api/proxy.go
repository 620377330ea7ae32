package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"
)

// Transport describes how outbound connections reach the backend. It is
// shared by the REST client and the realtime dialer.
type Transport struct {
	// Proxy is set for http and https proxies.
	Proxy func(*http.Request) (*url.URL, error)
	// DialContext is set for socks5 proxies.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewTransport parses proxyURL. An empty URL means a direct connection.
func NewTransport(proxyURL string) (Transport, error) {
	if proxyURL == "" {
		return Transport{}, nil
	}

	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return Transport{}, fmt.Errorf("failed to parse proxy URL %s: %w", proxyURL, err)
	}

	switch parsedURL.Scheme {
	case "http", "https":
		return Transport{Proxy: http.ProxyURL(parsedURL)}, nil
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return Transport{}, fmt.Errorf("failed to create SOCKS5 proxy dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return Transport{}, fmt.Errorf("SOCKS5 dialer does not support contexts")
		}
		return Transport{DialContext: contextDialer.DialContext}, nil
	default:
		return Transport{}, fmt.Errorf("unsupported proxy scheme %s, supported schemes are http, https, socks5", parsedURL.Scheme)
	}
}

// HTTP builds an http.RoundTripper honoring the proxy settings.
func (t Transport) HTTP() http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if t.Proxy != nil {
		base.Proxy = t.Proxy
	}
	if t.DialContext != nil {
		base.Proxy = nil
		base.DialContext = t.DialContext
	}
	return base
}
