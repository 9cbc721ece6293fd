package convert

import (
	"encoding/base64"
	"errors"
	"testing"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

func TestShadowsocksLink(t *testing.T) {
	userinfo := base64.RawURLEncoding.EncodeToString([]byte("aes-256-gcm:secret"))
	proxy, err := NewRegistry().Link("ss://" + userinfo + "@proxy.example.com:8388#Tokyo%201")
	if err != nil {
		t.Fatalf("Link() error: %v", err)
	}

	want := map[string]interface{}{
		"name": "Tokyo 1", "type": "ss", "server": "proxy.example.com",
		"port": 8388, "cipher": "aes-256-gcm", "password": "secret",
	}
	for k, v := range want {
		if proxy[k] != v {
			t.Errorf("proxy[%q] = %v, want %v", k, proxy[k], v)
		}
	}
}

func TestShadowsocksLegacyLink(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("chacha20-ietf-poly1305:pw@host.example.com:443"))
	proxy, err := NewRegistry().Link("ss://" + payload)
	if err != nil {
		t.Fatalf("Link() error: %v", err)
	}
	if proxy["cipher"] != "chacha20-ietf-poly1305" || proxy["server"] != "host.example.com" || proxy["port"] != 443 {
		t.Errorf("unexpected proxy: %v", proxy)
	}
	if proxy["name"] != "host.example.com:443" {
		t.Errorf("expected fallback name, got %v", proxy["name"])
	}
}

func TestVMessLink(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(`{
		"v": "2", "ps": "HK 01", "add": "vm.example.com", "port": "443",
		"id": "b831381d-6324-4d53-ad4f-8cda48b30811", "aid": "0",
		"net": "ws", "host": "cdn.example.com", "path": "/ws", "tls": "tls", "sni": "vm.example.com"
	}`))
	proxy, err := NewRegistry().Link("vmess://" + payload)
	if err != nil {
		t.Fatalf("Link() error: %v", err)
	}

	if proxy["type"] != "vmess" || proxy["server"] != "vm.example.com" || proxy["port"] != 443 {
		t.Errorf("unexpected proxy: %v", proxy)
	}
	if proxy["uuid"] != "b831381d-6324-4d53-ad4f-8cda48b30811" || proxy["alterId"] != 0 {
		t.Errorf("unexpected credentials: %v", proxy)
	}
	if proxy["tls"] != true || proxy["servername"] != "vm.example.com" {
		t.Errorf("unexpected tls fields: %v", proxy)
	}
	wsOpts, ok := proxy["ws-opts"].(map[string]interface{})
	if !ok || wsOpts["path"] != "/ws" {
		t.Errorf("unexpected ws-opts: %v", proxy["ws-opts"])
	}
}

func TestTrojanLink(t *testing.T) {
	proxy, err := NewRegistry().Link("trojan://pw123@tj.example.com:443?sni=cdn.example.com&allowInsecure=1#SG")
	if err != nil {
		t.Fatalf("Link() error: %v", err)
	}
	if proxy["type"] != "trojan" || proxy["password"] != "pw123" || proxy["sni"] != "cdn.example.com" {
		t.Errorf("unexpected proxy: %v", proxy)
	}
	if proxy["skip-cert-verify"] != true {
		t.Errorf("expected skip-cert-verify, got %v", proxy)
	}
}

func TestVLESSRealityLink(t *testing.T) {
	proxy, err := NewRegistry().Link(
		"vless://uuid-1@vl.example.com:443?security=reality&sni=www.example.com&pbk=PUBKEY&sid=aa12&flow=xtls-rprx-vision&fp=chrome#US")
	if err != nil {
		t.Fatalf("Link() error: %v", err)
	}
	if proxy["type"] != "vless" || proxy["flow"] != "xtls-rprx-vision" || proxy["tls"] != true {
		t.Errorf("unexpected proxy: %v", proxy)
	}
	reality, ok := proxy["reality-opts"].(map[string]interface{})
	if !ok || reality["public-key"] != "PUBKEY" || reality["short-id"] != "aa12" {
		t.Errorf("unexpected reality-opts: %v", proxy["reality-opts"])
	}
}

func TestHysteria2Link(t *testing.T) {
	proxy, err := NewRegistry().Link("hysteria2://pw@hy.example.com:8443?sni=hy.example.com&obfs=salamander&obfs-password=op#DE")
	if err != nil {
		t.Fatalf("Link() error: %v", err)
	}
	if proxy["type"] != "hysteria2" || proxy["port"] != 8443 || proxy["obfs"] != "salamander" || proxy["obfs-password"] != "op" {
		t.Errorf("unexpected proxy: %v", proxy)
	}
}

func TestTUICLink(t *testing.T) {
	proxy, err := NewRegistry().Link("tuic://uuid-1:pw@tu.example.com:443?congestion_control=bbr#FR")
	if err != nil {
		t.Fatalf("Link() error: %v", err)
	}
	if proxy["type"] != "tuic" || proxy["uuid"] != "uuid-1" || proxy["password"] != "pw" {
		t.Errorf("unexpected proxy: %v", proxy)
	}
	if proxy["congestion-controller"] != "bbr" {
		t.Errorf("unexpected congestion controller: %v", proxy)
	}
}

func TestLinkUnsupportedScheme(t *testing.T) {
	_, err := NewRegistry().Link("wireguard://whatever")
	var perr *pkgerrors.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestLinksMultilineAndDedup(t *testing.T) {
	userinfo := base64.RawURLEncoding.EncodeToString([]byte("aes-256-gcm:secret"))
	payload := "# exported nodes\n" +
		"ss://" + userinfo + "@a.example.com:8388#Node\n" +
		"\n" +
		"ss://" + userinfo + "@b.example.com:8388#Node\n"

	proxies, err := NewRegistry().Links(payload)
	if err != nil {
		t.Fatalf("Links() error: %v", err)
	}
	if len(proxies) != 2 {
		t.Fatalf("expected 2 proxies, got %d", len(proxies))
	}
	if proxies[0]["name"] != "Node" || proxies[1]["name"] != "Node 2" {
		t.Errorf("expected duplicate names disambiguated, got %v / %v", proxies[0]["name"], proxies[1]["name"])
	}
}

func TestLinksBase64Payload(t *testing.T) {
	userinfo := base64.RawURLEncoding.EncodeToString([]byte("aes-256-gcm:secret"))
	plain := "ss://" + userinfo + "@a.example.com:8388#Node\n"
	encoded := base64.StdEncoding.EncodeToString([]byte(plain))

	proxies, err := NewRegistry().Links(encoded)
	if err != nil {
		t.Fatalf("Links() error: %v", err)
	}
	if len(proxies) != 1 || proxies[0]["server"] != "a.example.com" {
		t.Errorf("unexpected proxies: %v", proxies)
	}
}

func TestLinksAllOrNothing(t *testing.T) {
	userinfo := base64.RawURLEncoding.EncodeToString([]byte("aes-256-gcm:secret"))
	payload := "ss://" + userinfo + "@a.example.com:8388#Node\n" +
		"trojan://@missing-password.example.com:443\n"

	if _, err := NewRegistry().Links(payload); err == nil {
		t.Fatal("expected a bad link to fail the whole conversion")
	}
}

func TestDocument(t *testing.T) {
	doc := Document([]Proxy{{"name": "a", "type": "ss"}})
	proxies, ok := doc["proxies"].([]interface{})
	if !ok || len(proxies) != 1 {
		t.Fatalf("unexpected document: %v", doc)
	}
}
