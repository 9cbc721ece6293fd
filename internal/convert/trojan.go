package convert

import (
	"fmt"
	"net/url"
	"strconv"
)

// TrojanParser converts trojan:// share links.
type TrojanParser struct{}

func (p *TrojanParser) Schemes() []string {
	return []string{"trojan"}
}

func (p *TrojanParser) Parse(uri string) (Proxy, error) {
	// trojan://password@address:port?sni=...&type=ws&path=...#remark
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse link: %w", err)
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("link is missing password")
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	name := u.Fragment
	if name == "" {
		name = fmt.Sprintf("%s:%d", u.Hostname(), port)
	}

	query := u.Query()
	proxy := Proxy{
		"name":     name,
		"type":     "trojan",
		"server":   u.Hostname(),
		"port":     port,
		"password": u.User.Username(),
		"udp":      true,
	}
	if sni := query.Get("sni"); sni != "" {
		proxy["sni"] = sni
	}
	if query.Get("allowInsecure") == "1" || query.Get("skip-cert-verify") == "1" {
		proxy["skip-cert-verify"] = true
	}
	applyTransport(proxy, query.Get("type"), query.Get("host"), query.Get("path"))
	return proxy, nil
}
