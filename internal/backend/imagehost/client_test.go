package imagehost

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testAPIBase = "https://images.test"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	return NewClient(Config{
		APIBase:     testAPIBase + "/",
		AccessToken: "secret-token",
		AlbumHash:   "plants-album",
		QRAlbumHash: "qr-album",
	})
}

func TestClient_Upload_Success(t *testing.T) {
	client := newTestClient(t)

	var gotAlbum, gotAuth, gotTitle string
	httpmock.RegisterResponder(http.MethodPost, testAPIBase+"/3/image",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			require.NoError(t, req.ParseMultipartForm(1<<20))
			gotAlbum = req.FormValue("album")
			gotTitle = req.FormValue("title")
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"success": true,
				"status":  200,
				"data":    map[string]any{"id": "abc123", "link": "https://i.images.test/abc123.png"},
			})
		})

	image, err := client.Upload(context.Background(), Upload{
		Kind:     KindPhoto,
		Filename: "tree.jpg",
		Title:    "Ceiba pentandra",
		Data:     []byte("jpeg-bytes"),
	})

	require.NoError(t, err)
	assert.Equal(t, "abc123", image.Hash)
	assert.Equal(t, "https://i.images.test/abc123.png", image.Link)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "plants-album", gotAlbum)
	assert.Equal(t, "Ceiba pentandra", gotTitle)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestClient_Upload_QRAlbum(t *testing.T) {
	client := newTestClient(t)

	var gotAlbum string
	httpmock.RegisterResponder(http.MethodPost, testAPIBase+"/3/image",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			gotAlbum = req.FormValue("album")
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"success": true,
				"data":    map[string]any{"id": "qr1", "link": "https://i.images.test/qr1.png"},
			})
		})

	_, err := client.Upload(context.Background(), Upload{Kind: KindQRCode, Data: []byte("png")})

	require.NoError(t, err)
	assert.Equal(t, "qr-album", gotAlbum)
}

func TestClient_Upload_HostFailure(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testAPIBase+"/3/image",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"success":false,"status":400,"data":{"error":"File type invalid (1)"}}`))

	_, err := client.Upload(context.Background(), Upload{Kind: KindPhoto, Data: []byte("bad")})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpload))
	assert.Contains(t, err.Error(), "File type invalid")
}

func TestClient_Upload_ErrorObject(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testAPIBase+"/3/image",
		httpmock.NewStringResponder(http.StatusTooManyRequests, `{"success":false,"status":429,"data":{"error":{"code":429,"message":"Too Many Requests"}}}`))

	_, err := client.Upload(context.Background(), Upload{Kind: KindPhoto, Data: []byte("x")})

	require.ErrorIs(t, err, ErrUpload)
	assert.Contains(t, err.Error(), "Too Many Requests")
}

func TestClient_Upload_EmptyData(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Upload(context.Background(), Upload{Kind: KindPhoto})

	require.ErrorIs(t, err, ErrUpload)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestClient_Delete(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodDelete, testAPIBase+"/3/image/abc123",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret-token", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK, `{"success":true,"status":200,"data":true}`), nil
		})
	httpmock.RegisterResponder(http.MethodDelete, testAPIBase+"/3/image/gone",
		httpmock.NewStringResponder(http.StatusNotFound, `{"success":false,"status":404,"data":{"error":"Unable to find an image with the id, gone"}}`))

	require.NoError(t, client.Delete(context.Background(), "abc123"))

	err := client.Delete(context.Background(), "gone")
	require.ErrorIs(t, err, ErrDelete)

	require.ErrorIs(t, client.Delete(context.Background(), ""), ErrDelete)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestClient_RateLimiterHonoursContext(t *testing.T) {
	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	client := NewClient(Config{APIBase: testAPIBase, RequestsPerSecond: 0.001, Burst: 1})
	httpmock.RegisterResponder(http.MethodDelete, `=~^`+testAPIBase+`/3/image/`,
		httpmock.NewStringResponder(http.StatusOK, `{"success":true,"data":true}`))

	require.NoError(t, client.Delete(context.Background(), "first"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.Delete(ctx, "second")
	require.ErrorIs(t, err, ErrDelete)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}
