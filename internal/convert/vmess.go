package convert

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// VMessParser converts vmess:// share links.
type VMessParser struct{}

// vmessJSON is the de-facto share format carried base64-encoded in the link.
type vmessJSON struct {
	V    string      `json:"v"`
	PS   string      `json:"ps"`   // remark
	Add  string      `json:"add"`  // address
	Port interface{} `json:"port"` // string or int depending on exporter
	ID   string      `json:"id"`   // uuid
	AID  interface{} `json:"aid"`  // alterId, string or int
	Scy  string      `json:"scy"`  // cipher
	Net  string      `json:"net"`  // transport
	Host string      `json:"host"`
	Path string      `json:"path"`
	TLS  string      `json:"tls"`
	SNI  string      `json:"sni"`
	FP   string      `json:"fp"`
}

func (p *VMessParser) Schemes() []string {
	return []string{"vmess"}
}

func (p *VMessParser) Parse(uri string) (Proxy, error) {
	decoded, err := decodeBase64Lenient(strings.TrimPrefix(uri, "vmess://"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode link: %w", err)
	}

	var v vmessJSON
	if err := json.Unmarshal(decoded, &v); err != nil {
		return nil, fmt.Errorf("failed to parse link payload: %w", err)
	}
	if v.Add == "" || v.ID == "" {
		return nil, fmt.Errorf("link is missing address or uuid")
	}

	port, err := flexiblePort(v.Port)
	if err != nil {
		return nil, err
	}
	alterID, err := flexibleInt(v.AID)
	if err != nil {
		return nil, fmt.Errorf("invalid alterId: %w", err)
	}

	name := v.PS
	if name == "" {
		name = fmt.Sprintf("%s:%d", v.Add, port)
	}
	cipher := v.Scy
	if cipher == "" {
		cipher = "auto"
	}

	proxy := Proxy{
		"name":    name,
		"type":    "vmess",
		"server":  v.Add,
		"port":    port,
		"uuid":    v.ID,
		"alterId": alterID,
		"cipher":  cipher,
		"udp":     true,
	}
	if v.TLS == "tls" {
		proxy["tls"] = true
		if v.SNI != "" {
			proxy["servername"] = v.SNI
		}
		if v.FP != "" {
			proxy["client-fingerprint"] = v.FP
		}
	}
	applyTransport(proxy, v.Net, v.Host, v.Path)
	return proxy, nil
}

// applyTransport fills the network/transport options shared by vmess, vless
// and trojan entries.
func applyTransport(proxy Proxy, network, host, path string) {
	switch network {
	case "", "tcp":
		return
	case "ws":
		proxy["network"] = "ws"
		opts := map[string]interface{}{}
		if path != "" {
			opts["path"] = path
		}
		if host != "" {
			opts["headers"] = map[string]interface{}{"Host": host}
		}
		if len(opts) > 0 {
			proxy["ws-opts"] = opts
		}
	case "grpc":
		proxy["network"] = "grpc"
		if path != "" {
			proxy["grpc-opts"] = map[string]interface{}{"grpc-service-name": path}
		}
	default:
		proxy["network"] = network
	}
}

func flexiblePort(v interface{}) (int, error) {
	port, err := flexibleInt(v)
	if err != nil {
		return 0, fmt.Errorf("invalid port: %w", err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

func flexibleInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int(t), nil
	case string:
		if t == "" {
			return 0, nil
		}
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
