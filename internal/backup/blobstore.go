package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

// ErrBlobNotFound is returned by Get when the remote has no blob for the key.
var ErrBlobNotFound = errors.New("remote blob not found")

// Blob is a remote payload with its revision token.
type Blob struct {
	Data []byte
	Rev  string
}

// BlobStore is the remote sync transport: a get/put contract keyed by a user
// namespace. Put must fail with ConflictError when the remote revision no
// longer matches baseRev.
type BlobStore interface {
	Get(ctx context.Context, key string) (*Blob, error)
	Put(ctx context.Context, key string, data []byte, baseRev string) (string, error)
}

// HTTPStore implements BlobStore over a WebDAV-style endpoint using ETag
// revision tokens and If-Match preconditions.
type HTTPStore struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// NewHTTPStore creates a blob store rooted at baseURL.
func NewHTTPStore(baseURL, username, password string) *HTTPStore {
	return &HTTPStore{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPStore) Get(ctx context.Context, key string) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+key, nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &pkgerrors.FetchError{URL: s.baseURL + "/" + key, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrBlobNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, &pkgerrors.FetchError{
			URL:   s.baseURL + "/" + key,
			Cause: fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &pkgerrors.FetchError{URL: s.baseURL + "/" + key, Cause: err}
	}
	return &Blob{Data: data, Rev: resp.Header.Get("ETag")}, nil
}

func (s *HTTPStore) Put(ctx context.Context, key string, data []byte, baseRev string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/"+key, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	s.authorize(req)
	if baseRev != "" {
		req.Header.Set("If-Match", baseRev)
	} else {
		// First push: refuse to clobber a blob someone else created.
		req.Header.Set("If-None-Match", "*")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &pkgerrors.FetchError{URL: s.baseURL + "/" + key, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPreconditionFailed {
		return "", &pkgerrors.ConflictError{Key: key, LocalRev: baseRev, RemoteRev: resp.Header.Get("ETag")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &pkgerrors.FetchError{
			URL:   s.baseURL + "/" + key,
			Cause: fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}
	return resp.Header.Get("ETag"), nil
}

func (s *HTTPStore) authorize(req *http.Request) {
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}
}
