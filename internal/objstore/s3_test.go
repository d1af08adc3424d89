package objstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wildsync/internal/domain"
)

// fakeS3 模拟 path-style 的 S3 接口：/bucket 与 /bucket/key。
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/survey-backups")
	key := strings.TrimPrefix(path, "/")
	switch {
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		var sb strings.Builder
		sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>survey-backups</Name><IsTruncated>false</IsTruncated>`)
		for k, v := range f.objects {
			if strings.HasPrefix(k, prefix) {
				sb.WriteString("<Contents><Key>" + k + "</Key><Size>" + strconv.Itoa(len(v)) + "</Size></Contents>")
			}
		}
		sb.WriteString("</ListBucketResult>")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, sb.String())
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = string(body)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		v, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		_, _ = io.WriteString(w, v)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newTestS3(t *testing.T) (*S3, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	store, err := New(context.Background(), Config{
		Endpoint:     srv.URL,
		Region:       "ca-central-1",
		AccessKey:    "test",
		SecretKey:    "test",
		Bucket:       "survey-backups",
		UsePathStyle: true,
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)
	return store, fake
}

func TestS3PutListGetDelete(t *testing.T) {
	store, fake := newTestS3(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "badger_sightings_photos/12_2024-05-01_1.jpg", []byte("jpeg"), "image/jpeg"))
	require.NoError(t, store.Put(ctx, "backup_data/survey_2024-05-01.geojson", []byte("{}"), "application/geo+json"))
	assert.Equal(t, "jpeg", fake.objects["badger_sightings_photos/12_2024-05-01_1.jpg"])

	names, err := store.List(ctx, "badger_sightings_photos/")
	require.NoError(t, err)
	assert.Equal(t, []string{"badger_sightings_photos/12_2024-05-01_1.jpg"}, names)

	data, err := store.Get(ctx, "backup_data/survey_2024-05-01.geojson")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	require.NoError(t, store.Delete(ctx, "backup_data/survey_2024-05-01.geojson"))
	_, err = store.Get(ctx, "backup_data/survey_2024-05-01.geojson")
	require.Error(t, err)
	assert.Equal(t, domain.ResultNotFound, domain.Classify(err))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "ca-central-1"})
	require.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "a/1", []byte("x"), "text/plain"))
	require.NoError(t, m.Put(ctx, "b/1", []byte("y"), ""))

	names, err := m.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1"}, names)
	assert.Equal(t, "text/plain", m.ContentType("a/1"))

	require.NoError(t, m.Delete(ctx, "a/1"))
	_, err = m.Get(ctx, "a/1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
