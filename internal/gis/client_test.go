package gis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wildsync/internal/domain"
)

const layerPath = "/arcgis/rest/services/Badgers/FeatureServer/0"

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.PortalURL = srv.URL
	cfg.HTTPClient = srv.Client()
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestQueryFollowsPages(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, layerPath+"/query", r.URL.Path)
		atomic.AddInt32(&calls, 1)
		offset, _ := strconv.Atoi(r.URL.Query().Get("resultOffset"))
		assert.Equal(t, "Bearer tkn", r.Header.Get("X-Esri-Authorization"))
		assert.Equal(t, "4326", r.URL.Query().Get("outSR"))
		switch offset {
		case 0:
			writeJSON(w, map[string]any{
				"exceededTransferLimit": true,
				"features": []any{
					map[string]any{"attributes": map[string]any{"objectid": 1}, "geometry": map[string]any{"x": -120.1, "y": 50.2}},
					map[string]any{"attributes": map[string]any{"objectid": 2}},
				},
			})
		default:
			writeJSON(w, map[string]any{
				"features": []any{map[string]any{"attributes": map[string]any{"objectid": 3}}},
			})
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{TokenSource: &StaticTokenSource{Value: "tkn"}, PageSize: 2, OutSR: 4326})
	records, err := c.Layer(srv.URL + layerPath).Query(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.NotNil(t, records[0].Geometry)
	assert.InDelta(t, -120.1, records[0].Geometry.X, 1e-9)
	assert.Nil(t, records[1].Geometry)
	id, ok := records[2].Int64("objectid")
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)
}

func TestApplyEditsSplitsBatches(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "false", r.PostForm.Get("rollbackOnFailure"))
		switch {
		case r.PostForm.Get("adds") != "":
			var adds []map[string]any
			require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("adds")), &adds))
			requests = append(requests, "adds:"+strconv.Itoa(len(adds)))
			results := make([]map[string]any, 0, len(adds))
			for i := range adds {
				results = append(results, map[string]any{"objectId": 100 + i, "success": true})
			}
			writeJSON(w, map[string]any{"addResults": results})
		case r.PostForm.Get("deletes") != "":
			requests = append(requests, "deletes:"+r.PostForm.Get("deletes"))
			writeJSON(w, map[string]any{"deleteResults": []any{map[string]any{"objectId": 7, "success": false, "error": map[string]any{"code": 1000, "description": "locked"}}}})
		default:
			t.Fatalf("unexpected edit payload %v", r.PostForm)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{BatchSize: 2})
	adds := []domain.Record{
		{Attributes: map[string]any{"a": 1}, Geometry: &domain.Point{X: 1, Y: 2}},
		{Attributes: map[string]any{"a": 2}},
		{Attributes: map[string]any{"a": 3}},
	}
	resp, err := c.Layer(srv.URL+layerPath).ApplyEdits(context.Background(), adds, nil, []int64{7})
	require.NoError(t, err)
	assert.Equal(t, []string{"adds:2", "adds:1", "deletes:7"}, requests)
	require.Len(t, resp.Adds, 3)
	require.Len(t, resp.Deletes, 1)
	assert.False(t, resp.Deletes[0].Success)
	assert.Equal(t, 1000, resp.Deletes[0].Error.Code)
}

func TestServiceErrorEnvelopeIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/attachments/9"):
			writeJSON(w, map[string]any{"error": map[string]any{"code": 404, "message": "Attachment not found"}})
		case strings.HasSuffix(r.URL.Path, "/query"):
			w.WriteHeader(http.StatusServiceUnavailable)
		case strings.HasSuffix(r.URL.Path, "/addAttachment"):
			writeJSON(w, map[string]any{"addAttachmentResult": map[string]any{"success": false, "error": map[string]any{"code": 400, "description": "bad file"}}})
		}
	}))
	defer srv.Close()

	layer := newTestClient(t, srv, Config{}).Layer(srv.URL + layerPath)
	ctx := context.Background()

	_, err := layer.DownloadAttachment(ctx, 5, 9)
	require.Error(t, err)
	assert.Equal(t, domain.ResultNotFound, domain.Classify(err))

	_, err = layer.Query(ctx, "1=1")
	require.Error(t, err)
	assert.Equal(t, domain.ResultTransient, domain.Classify(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)

	_, err = layer.AddAttachment(ctx, 5, "a.jpg", []byte("jpeg"))
	require.Error(t, err)
	assert.Equal(t, domain.ResultPermanent, domain.Classify(err))
}

func TestUpdateAttachmentSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, layerPath+"/12/updateAttachment", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "3", r.FormValue("attachmentId"))
		file, header, err := r.FormFile("attachment")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "12_photo_1.jpg", header.Filename)
		assert.Equal(t, "jpeg-bytes", string(data))
		writeJSON(w, map[string]any{"updateAttachmentResult": map[string]any{"objectId": 3, "success": true}})
	}))
	defer srv.Close()

	layer := newTestClient(t, srv, Config{}).Layer(srv.URL + layerPath)
	require.NoError(t, layer.UpdateAttachment(context.Background(), 12, 3, "12_photo_1.jpg", []byte("jpeg-bytes")))
}

func TestResolveLayerAndTruncate(t *testing.T) {
	var truncated bool
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sharing/rest/content/items/abc123":
			writeJSON(w, map[string]any{"url": srvURL + "/arcgis/rest/services/Badgers/FeatureServer"})
		case "/arcgis/rest/admin/services/Badgers/FeatureServer/1/truncate":
			truncated = true
			writeJSON(w, map[string]any{"success": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := newTestClient(t, srv, Config{})
	layer, err := c.ResolveLayer(context.Background(), "abc123", 1)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/arcgis/rest/services/Badgers/FeatureServer/1", layer.URL())
	require.NoError(t, layer.Truncate(context.Background()))
	assert.True(t, truncated)
}

func TestPasswordTokenSourceCachesToken(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sharing/rest/generateToken", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "field-user", r.PostForm.Get("username"))
		atomic.AddInt32(&calls, 1)
		writeJSON(w, map[string]any{"token": "abc"})
	}))
	defer srv.Close()

	ts, err := NewPasswordTokenSource(PasswordTokenConfig{PortalURL: srv.URL, Username: "field-user", Password: "pw", HTTPClient: srv.Client()})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		tok, err := ts.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc", tok)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPasswordTokenSourceRejectsBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"error": map[string]any{"code": 400, "message": "Invalid username or password."}})
	}))
	defer srv.Close()

	ts, err := NewPasswordTokenSource(PasswordTokenConfig{PortalURL: srv.URL, Username: "u", Password: "p", HTTPClient: srv.Client()})
	require.NoError(t, err)
	_, err = ts.Token(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPermanent))
}
