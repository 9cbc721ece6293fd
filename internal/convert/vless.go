package convert

import (
	"fmt"
	"net/url"
	"strconv"
)

// VLESSParser converts vless:// share links.
type VLESSParser struct{}

func (p *VLESSParser) Schemes() []string {
	return []string{"vless"}
}

func (p *VLESSParser) Parse(uri string) (Proxy, error) {
	// vless://uuid@address:port?security=reality&sni=...&pbk=...#remark
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to parse link: %w", err)
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("link is missing uuid")
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
		"name":   name,
		"type":   "vless",
		"server": u.Hostname(),
		"port":   port,
		"uuid":   u.User.Username(),
		"udp":    true,
	}
	if flow := query.Get("flow"); flow != "" {
		proxy["flow"] = flow
	}

	switch query.Get("security") {
	case "tls":
		proxy["tls"] = true
	case "reality":
		proxy["tls"] = true
		opts := map[string]interface{}{"public-key": query.Get("pbk")}
		if sid := query.Get("sid"); sid != "" {
			opts["short-id"] = sid
		}
		proxy["reality-opts"] = opts
	}
	if sni := query.Get("sni"); sni != "" {
		proxy["servername"] = sni
	}
	if fp := query.Get("fp"); fp != "" {
		proxy["client-fingerprint"] = fp
	}

	path := query.Get("path")
	if sn := query.Get("serviceName"); sn != "" {
		path = sn
	}
	applyTransport(proxy, query.Get("type"), query.Get("host"), path)
	return proxy, nil
}
