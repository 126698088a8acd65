package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/querybridge/querybridge/internal/storage"
)

func TestPutJoinsPrefixAndCarriesMetadata(t *testing.T) {
	fake := &fakeAPI{}
	store, err := newStore(fake, "bucket-a", "/querybridge/prod/")
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}

	info, err := store.Put(context.Background(), "/exports/jdoe/q1.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
		Metadata:    map[string]string{"query-id": "q1"},
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.putBucket != "bucket-a" || fake.putKey != "querybridge/prod/exports/jdoe/q1.parquet" {
		t.Fatalf("put target = %s/%s", fake.putBucket, fake.putKey)
	}
	if fake.putOpts.UserMetadata["query-id"] != "q1" || fake.putOpts.ContentType != "application/vnd.apache.parquet" {
		t.Fatalf("put options = %#v", fake.putOpts)
	}
	if info.Key != "/exports/jdoe/q1.parquet" || info.Size != 3 {
		t.Fatalf("info = %#v", info)
	}
}

func TestObjectKeyRejectsTraversal(t *testing.T) {
	store, _ := newStore(&fakeAPI{}, "bucket-a", "")
	for _, key := range []string{"../secrets.txt", "", "  ", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), 1, storage.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestGetMapsMissingObject(t *testing.T) {
	store, _ := newStore(&fakeAPI{}, "bucket-a", "schemas")
	var openedKey string
	store.open = func(_ context.Context, _, key string) (io.ReadCloser, error) {
		openedKey = key
		return nil, minio.ErrorResponse{Code: "NoSuchKey"}
	}

	_, err := store.Get(context.Background(), "schema.sql")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
	if openedKey != "schemas/schema.sql" {
		t.Fatalf("opened key = %q", openedKey)
	}
}

func TestGetReturnsObjectBody(t *testing.T) {
	store, _ := newStore(&fakeAPI{}, "bucket-a", "")
	store.open = func(context.Context, string, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("CREATE TABLE t (id int);")), nil
	}

	reader, err := store.Get(context.Background(), "schema.sql")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	body, _ := io.ReadAll(reader)
	if string(body) != "CREATE TABLE t (id int);" {
		t.Fatalf("body = %q", body)
	}
}

func TestStatMapsMissingObject(t *testing.T) {
	store, _ := newStore(&fakeAPI{statErr: minio.ErrorResponse{Code: "NotFound"}}, "bucket-a", "")
	if _, err := store.Stat(context.Background(), "missing.sql"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v", err)
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeAPI{}
	store, _ := newStore(fake, "bucket-a", "")
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if fake.madeBucketRegion != "us-east-1" {
		t.Fatalf("MakeBucket region = %q", fake.madeBucketRegion)
	}

	existing := &fakeAPI{bucketExists: true}
	store, _ = newStore(existing, "bucket-a", "")
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if existing.madeBucketRegion != "" {
		t.Fatal("MakeBucket should not be called for an existing bucket")
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		useSSL   bool
		endpoint string
		secure   bool
	}{
		{raw: "https://minio.example.com", endpoint: "minio.example.com", secure: true},
		{raw: "http://localhost:9000", endpoint: "localhost:9000", secure: false},
		{raw: "localhost:9000", useSSL: true, endpoint: "localhost:9000", secure: true},
	}
	for _, tc := range cases {
		endpoint, secure, err := parseEndpoint(tc.raw, tc.useSSL)
		if err != nil {
			t.Fatalf("parseEndpoint(%q) error = %v", tc.raw, err)
		}
		if endpoint != tc.endpoint || secure != tc.secure {
			t.Fatalf("parseEndpoint(%q) = %q/%v", tc.raw, endpoint, secure)
		}
	}
	if _, _, err := parseEndpoint("", false); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

type fakeAPI struct {
	putBucket        string
	putKey           string
	putOpts          minio.PutObjectOptions
	statErr          error
	bucketExists     bool
	madeBucketRegion string
}

func (f *fakeAPI) PutObject(_ context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.putBucket, f.putKey, f.putOpts = bucket, key, opts
	_, _ = io.Copy(io.Discard, reader)
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeAPI) GetObject(context.Context, string, string, minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not used")
}

func (f *fakeAPI) StatObject(_ context.Context, _, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}
	return minio.ObjectInfo{Key: key, Size: 10}, nil
}

func (f *fakeAPI) BucketExists(context.Context, string) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeAPI) MakeBucket(_ context.Context, _ string, opts minio.MakeBucketOptions) error {
	f.madeBucketRegion = opts.Region
	return nil
}
