package convert

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ShadowsocksParser converts ss:// share links.
type ShadowsocksParser struct{}

func (p *ShadowsocksParser) Schemes() []string {
	return []string{"ss", "shadowsocks"}
}

func (p *ShadowsocksParser) Parse(uri string) (Proxy, error) {
	// SS URI format: ss://base64(method:password)@address:port#remark
	// or legacy:     ss://base64(method:password@address:port)#remark
	raw := strings.TrimPrefix(strings.TrimPrefix(uri, "shadowsocks://"), "ss://")

	remark := ""
	if idx := strings.Index(raw, "#"); idx >= 0 {
		remark, _ = url.QueryUnescape(raw[idx+1:])
		raw = raw[:idx]
	}
	// Plugin options are not representable in a proxies entry without the
	// plugin binary; strip and ignore.
	if idx := strings.Index(raw, "?"); idx >= 0 {
		raw = raw[:idx]
	}

	if !strings.Contains(raw, "@") {
		decoded, err := decodeBase64Lenient(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode legacy link: %w", err)
		}
		raw = string(decoded)
	}

	parts := strings.SplitN(raw, "@", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("missing credentials")
	}

	userinfo := parts[0]
	if !strings.Contains(userinfo, ":") {
		decoded, err := decodeBase64Lenient(userinfo)
		if err != nil {
			return nil, fmt.Errorf("failed to decode credentials: %w", err)
		}
		userinfo = string(decoded)
	}
	credentials := strings.SplitN(userinfo, ":", 2)
	if len(credentials) != 2 {
		return nil, fmt.Errorf("invalid method:password")
	}

	host, portStr, ok := strings.Cut(parts[1], ":")
	if !ok {
		return nil, fmt.Errorf("invalid address:port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	name := remark
	if name == "" {
		name = fmt.Sprintf("%s:%d", host, port)
	}

	return Proxy{
		"name":     name,
		"type":     "ss",
		"server":   host,
		"port":     port,
		"cipher":   credentials[0],
		"password": credentials[1],
		"udp":      true,
	}, nil
}
