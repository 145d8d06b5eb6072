package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGet(t *testing.T) {
	base := t.TempDir()
	store, err := NewFSStore(base)
	require.NoError(t, err)
	ctx := context.Background()

	body := "<html></html>"
	require.NoError(t, store.Put(ctx, "__outputs/p1/index.html", strings.NewReader(body), int64(len(body)), "text/html; charset=utf-8"))

	obj, err := store.Get(ctx, "__outputs/p1/index.html")
	require.NoError(t, err)
	assert.Equal(t, body, string(obj.Data))
	assert.Equal(t, "text/html; charset=utf-8", obj.ContentType)

	_, err = os.Stat(filepath.Join(base, "__outputs", "p1", "index.html"+metaSuffix))
	require.NoError(t, err)

	_, err = store.Get(ctx, "__outputs/p1/missing.html")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_Overwrite(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k/a.txt", strings.NewReader("one"), 3, "text/plain"))
	require.NoError(t, store.Put(ctx, "k/a.txt", strings.NewReader("two!"), 4, "text/plain"))
	obj, err := store.Get(ctx, "k/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "two!", string(obj.Data))
}

func TestFSStore_SizeMismatch(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	err = store.Put(context.Background(), "k/a.txt", strings.NewReader("abc"), 10, "text/plain")
	require.Error(t, err)
	_, err = store.Get(context.Background(), "k/a.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_KeysStayInsideBase(t *testing.T) {
	base := t.TempDir()
	store, err := NewFSStore(filepath.Join(base, "store"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "../../escape.txt", strings.NewReader("x"), 1, "text/plain"))
	_, err = os.Stat(filepath.Join(base, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(base, "store", "escape.txt"))
	require.NoError(t, err)

	require.ErrorIs(t, store.Put(ctx, "", strings.NewReader(""), 0, ""), ErrInvalidKey)
	require.ErrorIs(t, store.Put(ctx, "a.meta.json", strings.NewReader(""), 0, ""), ErrInvalidKey)
}

func TestFSStore_ServeHTTP(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "__outputs/p1/app.css", strings.NewReader("body{}"), 6, "text/css"))

	srv := httptest.NewServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/__outputs/p1/app.css")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/css", resp.Header.Get("Content-Type"))
	assert.Equal(t, "body{}", string(data))

	resp, err = http.Get(srv.URL + "/__outputs/p1/missing.css")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/__outputs/p1")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "directories are not listed")

	resp, err = http.Post(srv.URL+"/__outputs/p1/app.css", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	store.FailOn = func(key string) bool { return key == "bad" }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "b", strings.NewReader("2"), 1, "text/plain"))
	require.NoError(t, store.Put(ctx, "a", strings.NewReader("1"), 1, "text/plain"))
	require.Error(t, store.Put(ctx, "bad", strings.NewReader("x"), 1, "text/plain"))

	assert.Equal(t, []string{"a", "b"}, store.Keys())
	assert.Equal(t, []string{"b", "a"}, store.PutOrder())
	obj, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(obj.Data))
}

type fakePutter struct {
	inputs []*s3.PutObjectInput
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_PutBuildsRequest(t *testing.T) {
	fake := &fakePutter{}
	store := NewS3StoreWithClient(fake, "sites")

	require.NoError(t, store.Put(context.Background(), "__outputs/p1/assets/app.js", strings.NewReader("x"), 1, "text/javascript"))
	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "sites", *in.Bucket)
	assert.Equal(t, "__outputs/p1/assets/app.js", *in.Key)
	assert.Equal(t, "text/javascript", *in.ContentType)
	assert.EqualValues(t, 1, *in.ContentLength)
}

func TestS3Store_PutError(t *testing.T) {
	store := NewS3StoreWithClient(&fakePutter{err: errors.New("access denied")}, "sites")
	err := store.Put(context.Background(), "k", strings.NewReader("x"), 1, "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://sites/k")
}

func TestS3Store_AgainstCompatibleEndpoint(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotType, gotBody = r.URL.Path, r.Header.Get("Content-Type"), string(body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "sites",
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "__outputs/p1/index.html", strings.NewReader("<p>hi</p>"), 9, "text/html"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/sites/__outputs/p1/index.html", gotPath)
	assert.Equal(t, "text/html", gotType)
	assert.Contains(t, gotBody, "<p>hi</p>")
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{Region: "us-east-1"})
	require.Error(t, err)
}
