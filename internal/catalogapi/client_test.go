package catalogapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

const base = "http://catalog.test"

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client, err := New(Config{BaseURL: base + "/", Timeout: time.Second, HTTPClient: &http.Client{Transport: transport}})
	require.NoError(t, err)
	return client, transport
}

func TestCreateProductSendsDraft(t *testing.T) {
	t.Parallel()

	client, transport := newMockedClient(t)
	var got catalog.ProductDraft
	transport.RegisterResponder(http.MethodPost, base+"/api/products",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			return httpmock.NewStringResponse(http.StatusCreated, `{"data":{"id":42}}`), nil
		})

	id, err := client.CreateProduct(context.Background(), catalog.ProductDraft{
		Name: "Shirt", Description: "Soft", Price: 199000, Stock: 200,
	})
	require.NoError(t, err)
	require.Equal(t, "42", id)
	require.Equal(t, catalog.ProductDraft{Name: "Shirt", Description: "Soft", Price: 199000, Stock: 200}, got)
	require.Equal(t, 1, transport.GetTotalCallCount())
}

func TestCreateProductStringID(t *testing.T) {
	t.Parallel()

	client, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodPost, base+"/api/products",
		httpmock.NewStringResponder(http.StatusOK, `{"data":{"id":"p-7"}}`))

	id, err := client.CreateProduct(context.Background(), catalog.ProductDraft{Name: "Hat"})
	require.NoError(t, err)
	require.Equal(t, "p-7", id)
}

func TestCreateProductFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		status int
		body   string
		want   string
	}{
		"missing id": {http.StatusOK, `{"data":{}}`, "missing product id"},
		"null id":    {http.StatusOK, `{"data":{"id":null}}`, "missing product id"},
		"bad json":   {http.StatusOK, `oops`, "decode /api/products"},
		"rejected":   {http.StatusUnprocessableEntity, `{"error":"name taken"}`, "unexpected status 422"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			client, transport := newMockedClient(t)
			transport.RegisterResponder(http.MethodPost, base+"/api/products",
				httpmock.NewStringResponder(tc.status, tc.body))
			_, err := client.CreateProduct(context.Background(), catalog.ProductDraft{Name: "x"})
			require.ErrorContains(t, err, tc.want)
			require.True(t, catalog.IsKind(err, catalog.KindDownstream))
		})
	}
}

func TestCreateProductTimesOut(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	client, err := New(Config{BaseURL: base, Timeout: 20 * time.Millisecond, HTTPClient: &http.Client{Transport: transport}})
	require.NoError(t, err)
	transport.RegisterResponder(http.MethodPost, base+"/api/products",
		httpmock.NewStringResponder(http.StatusOK, `{"data":{"id":1}}`).Delay(500*time.Millisecond))

	_, err = client.CreateProduct(context.Background(), catalog.ProductDraft{Name: "slow"})
	require.Error(t, err)
	require.True(t, catalog.IsKind(err, catalog.KindDownstream))
}

func TestCreateAttributeAndImage(t *testing.T) {
	t.Parallel()

	client, transport := newMockedClient(t)
	var attrs []map[string]any
	var images []map[string]any
	record := func(dst *[]map[string]any) httpmock.Responder {
		return func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			*dst = append(*dst, body)
			return httpmock.NewStringResponse(http.StatusCreated, `{}`), nil
		}
	}
	transport.RegisterResponder(http.MethodPost, base+"/api/product-attributes", record(&attrs))
	transport.RegisterResponder(http.MethodPost, base+"/api/product-images", record(&images))

	ctx := context.Background()
	require.NoError(t, client.CreateAttribute(ctx, "42", "Size", "M"))
	require.NoError(t, client.CreateAttribute(ctx, "p-7", "Color", "Navy"))
	require.NoError(t, client.CreateImage(ctx, "42", "https://img.test/a.jpg"))

	require.Equal(t, []map[string]any{
		{"productId": float64(42), "name": "Size", "value": "M"},
		{"productId": "p-7", "name": "Color", "value": "Navy"},
	}, attrs)
	require.Equal(t, []map[string]any{{"productId": float64(42), "url": "https://img.test/a.jpg"}}, images)
}

func TestCreateImageFailure(t *testing.T) {
	t.Parallel()

	client, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodPost, base+"/api/product-images",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))
	err := client.CreateImage(context.Background(), "1", "https://img.test/a.jpg")
	var statusErr *catalog.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, "boom", statusErr.Body)
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
