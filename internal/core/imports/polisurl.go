package imports

import (
	"fmt"
	"net/url"
	"strings"
)

// RefKind tells whether a Polis URL points at a conversation or a report.
type RefKind string

const (
	RefConversation RefKind = "conversation"
	RefReport       RefKind = "report"
)

// PolisRef is a parsed Polis URL.
type PolisRef struct {
	URL  string
	Kind RefKind
	ID   string
}

// ParsePolisURL accepts https://pol.is/<id> and https://pol.is/report/<id>,
// including subdomains of pol.is.
func ParsePolisURL(raw string) (PolisRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PolisRef{}, fmt.Errorf("%w: empty url", ErrInvalidPolisURL)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return PolisRef{}, fmt.Errorf("%w: %q", ErrInvalidPolisURL, raw)
	}

	host := strings.ToLower(u.Hostname())
	if host != "pol.is" && !strings.HasSuffix(host, ".pol.is") {
		return PolisRef{}, fmt.Errorf("%w: host %q is not pol.is", ErrInvalidPolisURL, host)
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	switch {
	case len(parts) == 1 && parts[0] != "report":
		return PolisRef{URL: raw, Kind: RefConversation, ID: parts[0]}, nil
	case len(parts) == 2 && parts[0] == "report":
		return PolisRef{URL: raw, Kind: RefReport, ID: parts[1]}, nil
	}
	return PolisRef{}, fmt.Errorf("%w: unexpected path %q", ErrInvalidPolisURL, u.Path)
}
