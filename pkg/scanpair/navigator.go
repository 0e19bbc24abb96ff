package scanpair

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
)

const maxRedirects = 10

// Navigator follows a sign-in link like a browser would, keeping cookies
// across hops, and stops at the first redirect into the callback URL.
type Navigator struct {
	client   *http.Client
	callback *url.URL
}

// NewNavigator creates a navigator that stops at callbackURL. transport may
// be nil.
func NewNavigator(callbackURL string, transport http.RoundTripper) (*Navigator, error) {
	cb, err := url.Parse(callbackURL)
	if err != nil || cb.Scheme == "" || cb.Host == "" {
		return nil, fmt.Errorf("invalid callback url %q", callbackURL)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	n := &Navigator{callback: cb}
	n.client = &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if n.isCallback(req.URL) {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
	return n, nil
}

// Jar exposes the cookies the provider set during navigation.
func (n *Navigator) Jar() http.CookieJar { return n.client.Jar }

// Navigate opens link and returns the callback URL it lands on, fragment
// included.
func (n *Navigator) Navigate(ctx context.Context, link string) (*url.URL, error) {
	target, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse sign-in link: %w", err)
	}
	if n.isCallback(target) {
		return target, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open sign-in link: %w", err)
	}
	resp.Body.Close()

	loc := resp.Header.Get("Location")
	if resp.StatusCode < 300 || resp.StatusCode >= 400 || loc == "" {
		return nil, fmt.Errorf("sign-in link ended at %s with status %d", resp.Request.URL.Redacted(), resp.StatusCode)
	}
	dest, err := resp.Request.URL.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("parse redirect: %w", err)
	}
	if !n.isCallback(dest) {
		return nil, fmt.Errorf("sign-in link redirected outside the callback")
	}
	return dest, nil
}

func (n *Navigator) isCallback(u *url.URL) bool {
	return u.Scheme == n.callback.Scheme && u.Host == n.callback.Host && u.Path == n.callback.Path
}
