package imagehost

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

func writeImage(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("fake image"), 0o600))
	return p
}

func TestHTTPHostUploadsMultipart(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/cloudinary" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "fake image" || header.Filename != "image_1.jpg" || r.FormValue("folder") != "spring_shop" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"secure_url":"https://img.test/spring_shop/abc.jpg"}}`))
	}))
	t.Cleanup(srv.Close)

	host, err := NewHTTPHost(HTTPConfig{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	url, err := host.Upload(context.Background(), writeImage(t, "image_1.jpg"))
	require.NoError(t, err)
	require.Equal(t, "https://img.test/spring_shop/abc.jpg", url)
}

func TestHTTPHostRejections(t *testing.T) {
	t.Parallel()

	responses := map[string]struct {
		status int
		body   string
	}{
		"/unsuccessful/api/cloudinary": {http.StatusOK, `{"success":false,"message":"quota"}`},
		"/server-error/api/cloudinary": {http.StatusBadGateway, `upstream down`},
		"/garbage/api/cloudinary":      {http.StatusOK, `not json`},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := responses[r.URL.Path]
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}))
	t.Cleanup(srv.Close)

	img := writeImage(t, "a.png")
	for prefix, want := range map[string]string{
		"/unsuccessful": "quota",
		"/server-error": "unexpected status 502",
		"/garbage":      "decode upload response",
	} {
		host, err := NewHTTPHost(HTTPConfig{BaseURL: srv.URL + prefix})
		require.NoError(t, err)
		_, err = host.Upload(context.Background(), img)
		require.ErrorContains(t, err, want)
		require.True(t, catalog.IsKind(err, catalog.KindDownstream))
	}

	host, err := NewHTTPHost(HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = host.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	require.ErrorContains(t, err, "open staged image")

	_, err = NewHTTPHost(HTTPConfig{})
	require.Error(t, err)
}

func TestHTTPHostDefaultTimeout(t *testing.T) {
	t.Parallel()

	host, err := NewHTTPHost(HTTPConfig{BaseURL: "http://img.test"})
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, host.client.Timeout)

	host, err = NewHTTPHost(HTTPConfig{BaseURL: "http://img.test", Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, host.client.Timeout)
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return "obj-" + string(rune('0'+s.n)), nil
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestBlobHostStoresUnderFolder(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	host, err := NewBlobHost(store, "/spring_shop/", &seqIDs{})
	require.NoError(t, err)

	url, err := host.Upload(context.Background(), writeImage(t, "image_1.JPG"))
	require.NoError(t, err)
	require.Equal(t, "memory://spring_shop/obj-1.jpg", url)

	data, contentType, ok := store.Object("spring_shop/obj-1.jpg")
	require.True(t, ok)
	require.Equal(t, "fake image", string(data))
	require.Equal(t, "image/jpeg", contentType)

	failing, err := NewBlobHost(failingStore{}, "", &seqIDs{})
	require.NoError(t, err)
	_, err = failing.Upload(context.Background(), writeImage(t, "x.png"))
	require.True(t, catalog.IsKind(err, catalog.KindDownstream))

	_, err = NewBlobHost(nil, "", &seqIDs{})
	require.Error(t, err)
}
