package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	tests := []struct {
		base string
		want string
	}{
		{"contract", "contract_signed_20240309_140507.pdf"},
		{"contract.pdf", "contract_signed_20240309_140507.pdf"},
		{"/tmp/in/contract.pdf", "contract_signed_20240309_140507.pdf"},
		{"report.v2", "report_signed_20240309_140507.pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Filename(tt.base, ts), tt.base)
	}
}

func TestStaticToken(t *testing.T) {
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tok, err := StaticToken{Value: "abc", Expiry: now.Add(time.Minute), now: clock}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = StaticToken{Value: "abc", Expiry: now, now: clock}.Token(context.Background())
	assert.ErrorIs(t, err, ErrTokenExpired)

	tok, err = StaticToken{Value: "forever"}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "forever", tok)

	_, err = StaticToken{}.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

type recordedRequest struct {
	Method      string
	Path        string
	Auth        string
	ContentType string
	Body        []byte
}

func graphServer(t *testing.T, putStatus, patchStatus int) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.EscapedPath(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(putStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id":                           "item-42",
				"webUrl":                       "https://tenant.example.com/doc",
				"@microsoft.graph.downloadUrl": "https://tenant.example.com/download",
			})
		case http.MethodPatch:
			w.WriteHeader(patchStatus)
			_, _ = w.Write([]byte(`{"Status":"Signed"}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func newUploader(t *testing.T, baseURL string) *GraphUploader {
	t.Helper()
	u, err := NewGraph(Config{
		BaseURL: baseURL + "/",
		SiteID:  "site-1",
		DriveID: "drive-1",
		Folder:  "/Signed Docs/",
		Tokens:  StaticToken{Value: "token"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return u
}

func TestGraphUpload(t *testing.T) {
	srv, reqs := graphServer(t, http.StatusCreated, http.StatusOK)
	u := newUploader(t, srv.URL)

	res, err := u.Upload(context.Background(), Request{
		Name:     "contract_signed_20240309_140507.pdf",
		Data:     []byte("%PDF-1.7"),
		SignedBy: "signer@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, &Result{
		ItemID:      "item-42",
		WebURL:      "https://tenant.example.com/doc",
		DownloadURL: "https://tenant.example.com/download",
	}, res)

	require.Len(t, *reqs, 2)
	put, patch := (*reqs)[0], (*reqs)[1]

	assert.Equal(t, http.MethodPut, put.Method)
	assert.Equal(t, "/sites/site-1/drives/drive-1/root:/Signed%20Docs/contract_signed_20240309_140507.pdf:/content", put.Path)
	assert.Equal(t, "Bearer token", put.Auth)
	assert.Equal(t, "application/pdf", put.ContentType)
	assert.Equal(t, []byte("%PDF-1.7"), put.Body)

	assert.Equal(t, http.MethodPatch, patch.Method)
	assert.Equal(t, "/sites/site-1/drives/drive-1/items/item-42/listItem/fields", patch.Path)
	assert.Equal(t, "application/json", patch.ContentType)
	assert.JSONEq(t, `{"Status":"Signed","SignedBy":"signer@example.com"}`, string(patch.Body))
}

func TestGraphUploadErrors(t *testing.T) {
	t.Run("upload rejected", func(t *testing.T) {
		srv, reqs := graphServer(t, http.StatusForbidden, http.StatusOK)
		_, err := newUploader(t, srv.URL).Upload(context.Background(), Request{Name: "a.pdf"})

		var se *StatusError
		require.True(t, errors.As(err, &se), "error %v is not a StatusError", err)
		assert.Equal(t, "upload file", se.Op)
		assert.Equal(t, http.StatusForbidden, se.StatusCode)
		assert.Len(t, *reqs, 1, "fields must not be updated after a failed upload")
	})

	t.Run("field update rejected", func(t *testing.T) {
		srv, _ := graphServer(t, http.StatusOK, http.StatusBadRequest)
		_, err := newUploader(t, srv.URL).Upload(context.Background(), Request{Name: "a.pdf"})

		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "update list item", se.Op)
	})

	t.Run("expired token", func(t *testing.T) {
		srv, reqs := graphServer(t, http.StatusCreated, http.StatusOK)
		u, err := NewGraph(Config{
			BaseURL: srv.URL,
			SiteID:  "s",
			DriveID: "d",
			Tokens:  StaticToken{Value: "old", Expiry: time.Now().Add(-time.Hour)},
		})
		require.NoError(t, err)
		_, err = u.Upload(context.Background(), Request{Name: "a.pdf"})
		assert.ErrorIs(t, err, ErrTokenExpired)
		assert.Empty(t, *reqs)
	})

	t.Run("timeout", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-block
		}))
		defer srv.Close()
		defer close(block)

		u, err := NewGraph(Config{BaseURL: srv.URL, SiteID: "s", DriveID: "d", Tokens: StaticToken{Value: "t"}, Timeout: 50 * time.Millisecond})
		require.NoError(t, err)
		_, err = u.Upload(context.Background(), Request{Name: "a.pdf"})
		assert.Error(t, err)
	})
}

func TestNewGraphValidation(t *testing.T) {
	_, err := NewGraph(Config{DriveID: "d", Tokens: StaticToken{Value: "t"}})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewGraph(Config{SiteID: "s", DriveID: "d"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	u, err := NewGraph(Config{SiteID: "s", DriveID: "d", Tokens: StaticToken{Value: "t"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, u.cfg.BaseURL)
	assert.Equal(t, defaultTimeout, u.cfg.Timeout)
}
