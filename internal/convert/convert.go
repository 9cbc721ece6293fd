// Package convert turns proxy share links (ss://, vmess://, trojan://, ...)
// into proxy entries for a configuration document, so subscription exports
// from other tools can be imported as profiles.
package convert

import (
	"encoding/base64"
	"fmt"
	"strings"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// Proxy is one entry of a document's proxies section.
type Proxy map[string]interface{}

// Parser converts one share link scheme.
type Parser interface {
	// Parse converts a share link into a proxy entry.
	Parse(uri string) (Proxy, error)

	// Schemes returns the URI schemes this parser handles, without "://".
	Schemes() []string
}

// Registry manages scheme parsers
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates a registry with all built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}

	r.Register(&ShadowsocksParser{})
	r.Register(&VMessParser{})
	r.Register(&VLESSParser{})
	r.Register(&TrojanParser{})
	r.Register(&Hysteria2Parser{})
	r.Register(&TUICParser{})

	return r
}

// Register registers a parser for its schemes.
func (r *Registry) Register(parser Parser) {
	for _, scheme := range parser.Schemes() {
		r.parsers[strings.ToLower(scheme)] = parser
	}
}

// Link converts a single share link, detecting the scheme.
func (r *Registry) Link(uri string) (Proxy, error) {
	uri = strings.TrimSpace(uri)
	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return nil, &pkgerrors.ParseError{Source: uri, Cause: fmt.Errorf("not a share link")}
	}

	scheme := strings.ToLower(uri[:idx])
	parser, ok := r.parsers[scheme]
	if !ok {
		return nil, &pkgerrors.ParseError{Source: uri, Cause: fmt.Errorf("unsupported scheme %q", scheme)}
	}

	proxy, err := parser.Parse(uri)
	if err != nil {
		return nil, &pkgerrors.ParseError{Source: uri, Cause: err}
	}
	return proxy, nil
}

// Links converts a share-link payload: one link per line, or the whole
// payload base64-encoded the way subscription endpoints commonly serve it.
// Blank lines and comments are skipped. Parsing is all-or-nothing so a
// partially imported subscription can never be stored.
func (r *Registry) Links(payload string) ([]Proxy, error) {
	text := strings.TrimSpace(payload)
	if !strings.Contains(text, "://") {
		if decoded, ok := decodeBase64(text); ok {
			text = decoded
		}
	}

	var proxies []Proxy
	seen := make(map[string]int)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		proxy, err := r.Link(line)
		if err != nil {
			return nil, err
		}

		// Proxy names must be unique within a document.
		name, _ := proxy["name"].(string)
		if n := seen[name]; n > 0 {
			proxy["name"] = fmt.Sprintf("%s %d", name, n+1)
		}
		seen[name]++
		proxies = append(proxies, proxy)
	}

	if len(proxies) == 0 {
		return nil, &pkgerrors.ParseError{Source: "links", Cause: fmt.Errorf("no share links found")}
	}
	return proxies, nil
}

// Document wraps converted proxies into an override document suitable for a
// merge profile.
func Document(proxies []Proxy) map[string]interface{} {
	list := make([]interface{}, len(proxies))
	for i, p := range proxies {
		list[i] = map[string]interface{}(p)
	}
	return map[string]interface{}{"proxies": list}
}

// decodeBase64 tries the encodings subscription endpoints use in the wild.
func decodeBase64(s string) (string, bool) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(s); err == nil {
			return string(decoded), true
		}
	}
	return "", false
}

// decodeBase64Lenient is for fields inside links where padding varies.
func decodeBase64Lenient(s string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
