package s3store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	header http.Header
	method string
	path   string
	body   string
}

func newTestStore(t *testing.T) (*Store, func() []recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{method: r.Method, path: r.URL.Path, header: r.Header.Clone(), body: string(body)})
		mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "eu-west-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
		}),
	})
	return NewWithClient(client, "exports"), func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestStore_UploadAndDelete(t *testing.T) {
	store, requests := newTestStore(t)
	ctx := context.Background()

	err := store.Upload(ctx, "exports/conv-a/job/comments.csv", []byte("a,b\n"), "text/csv; charset=utf-8", "conv-a-comments-20240305-140709.csv")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "exports/conv-a/job/missing.csv"))

	got := requests()
	require.Len(t, got, 2)
	assert.Equal(t, http.MethodPut, got[0].method)
	assert.Equal(t, "/exports/exports/conv-a/job/comments.csv", got[0].path)
	assert.Equal(t, "a,b\n", got[0].body)
	assert.Equal(t, "text/csv; charset=utf-8", got[0].header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=conv-a-comments-20240305-140709.csv", got[0].header.Get("Content-Disposition"))

	assert.Equal(t, http.MethodDelete, got[1].method)
	assert.Equal(t, "/exports/exports/conv-a/job/missing.csv", got[1].path)
}

func TestStore_Presign(t *testing.T) {
	store, requests := newTestStore(t)

	before := time.Now()
	raw, expiresAt, err := store.Presign(context.Background(), "exports/conv-a/job/votes.csv", 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/exports/exports/conv-a/job/votes.csv", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.WithinDuration(t, before.Add(15*time.Minute), expiresAt, 5*time.Second)
	assert.Empty(t, requests(), "presigning is local")
}

func TestConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, Config{}.Validate(), ErrMissingBucket)
	assert.NoError(t, Config{Bucket: "exports"}.Validate())
}
