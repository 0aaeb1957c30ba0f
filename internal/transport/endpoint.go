package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// PushURL derives the push channel endpoint from the HTTP API base:
// http becomes ws, https becomes wss, and /ws/{token} is appended to the
// base path.
func PushURL(apiBase, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return "", fmt.Errorf("parse api base: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported api base scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api base %q has no host", apiBase)
	}
	if token == "" {
		return "", fmt.Errorf("push channel token is empty")
	}
	base := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + token
	u.RawPath = base + "/ws/" + url.PathEscape(token)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
