package convert

import (
	"fmt"
	"net/url"
	"strconv"
)

// Hysteria2Parser converts hysteria2:// share links.
type Hysteria2Parser struct{}

func (p *Hysteria2Parser) Schemes() []string {
	return []string{"hysteria2", "hy2"}
}

func (p *Hysteria2Parser) Parse(uri string) (Proxy, error) {
	// hysteria2://password@address:port?sni=...&obfs=salamander&obfs-password=...#remark
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse link: %w", err)
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("link is missing password")
	}
	port := 443
	if u.Port() != "" {
		port, err = strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
	}

	name := u.Fragment
	if name == "" {
		name = fmt.Sprintf("%s:%d", u.Hostname(), port)
	}

	query := u.Query()
	proxy := Proxy{
		"name":     name,
		"type":     "hysteria2",
		"server":   u.Hostname(),
		"port":     port,
		"password": u.User.Username(),
	}
	if sni := query.Get("sni"); sni != "" {
		proxy["sni"] = sni
	}
	if query.Get("insecure") == "1" {
		proxy["skip-cert-verify"] = true
	}
	if obfs := query.Get("obfs"); obfs != "" {
		proxy["obfs"] = obfs
		if pw := query.Get("obfs-password"); pw != "" {
			proxy["obfs-password"] = pw
		}
	}
	return proxy, nil
}
