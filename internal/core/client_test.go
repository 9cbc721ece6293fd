package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

func TestReloadSendsPayload(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "s3cret")
	if err := client.Reload(context.Background(), []byte("proxies: []\n")); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	if gotAuth != "Bearer s3cret" {
		t.Errorf("unexpected authorization header: %q", gotAuth)
	}
	if gotPath != "/configs?force=true" {
		t.Errorf("unexpected request path: %q", gotPath)
	}
	if gotBody["payload"] != "proxies: []\n" {
		t.Errorf("unexpected payload: %q", gotBody["payload"])
	}
}

func TestReloadRejectionSurfacesDiagnostic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": "proxy 0: unsupported type"})
	}))
	defer server.Close()

	err := NewClient(server.URL, "").Reload(context.Background(), []byte("proxies: []\n"))
	var aerr *pkgerrors.ActivationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ActivationError, got %v", err)
	}
	if aerr.Unreachable {
		t.Error("a rejection is not unreachability")
	}
	if aerr.Detail != "proxy 0: unsupported type" {
		t.Errorf("expected core diagnostic verbatim, got %q", aerr.Detail)
	}
}

func TestReloadUnreachableCore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	err := NewClient(server.URL, "").Reload(context.Background(), []byte("proxies: []\n"))
	var aerr *pkgerrors.ActivationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected ActivationError, got %v", err)
	}
	if !aerr.Unreachable {
		t.Error("expected Unreachable for a connection failure")
	}
	if !errors.Is(err, pkgerrors.ErrActivation) {
		t.Error("ActivationError must unwrap to ErrActivation")
	}
}

func TestVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/version" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"version": "v1.18.0"})
	}))
	defer server.Close()

	version, err := NewClient(server.URL, "").Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error: %v", err)
	}
	if version != "v1.18.0" {
		t.Errorf("unexpected version: %q", version)
	}
}
