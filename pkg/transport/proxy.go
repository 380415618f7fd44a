package transport

import (
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// proxyFunc resolves proxies from HTTP_PROXY/HTTPS_PROXY/NO_PROXY, with
// proxyURL (if set) replacing both proxy variables. NO_PROXY still applies.
func proxyFunc(proxyURL string) (func(*http.Request) (*url.URL, error), error) {
	pc := httpproxy.FromEnvironment()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("transport: invalid proxy url %q", proxyURL)
		}
		pc.HTTPProxy = proxyURL
		pc.HTTPSProxy = proxyURL
	}
	resolve := pc.ProxyFunc()
	return func(r *http.Request) (*url.URL, error) {
		return resolve(r.URL)
	}, nil
}
