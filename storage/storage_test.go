package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"news-summariser/config"
	"news-summariser/pkg/digest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestLocalBucket(t *testing.T) {
	dir := t.TempDir()
	b := NewLocal(dir, testLogger())
	ctx := context.Background()

	if _, err := b.Get(ctx, "absent.json"); !IsNotFound(err) {
		t.Fatalf("Get(absent) error = %v, want not found", err)
	}

	if err := b.Put(ctx, "summaries/a.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "summaries", "a.json")); err != nil {
		t.Errorf("object file not written: %v", err)
	}

	obj, err := b.Get(ctx, "summaries/a.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(obj.Data) != `{"a":1}` || obj.ETag == "" || obj.LastModified.IsZero() {
		t.Errorf("Get() = %+v", obj)
	}

	if err := b.Put(ctx, "../escape.json", []byte("x")); err == nil {
		t.Error("Put() should reject keys outside the directory")
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failGet error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	modified := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	return &s3.GetObjectOutput{
		Body:         io.NopCloser(bytes.NewReader(data)),
		ETag:         aws.String(`"abc123"`),
		LastModified: &modified,
	}, nil
}

func TestS3Bucket(t *testing.T) {
	fake := &fakeS3{}
	b := NewS3(fake, "drafts", testLogger())
	ctx := context.Background()

	if _, err := b.Get(ctx, "draft-summary.json"); !IsNotFound(err) {
		t.Fatalf("Get(absent) error = %v, want not found", err)
	}
	if err := b.Put(ctx, "draft-summary.json", []byte("{}")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := fake.objects["drafts/draft-summary.json"]; !ok {
		t.Errorf("object not stored under bucket/key: %v", fake.objects)
	}

	obj, err := b.Get(ctx, "draft-summary.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if obj.ETag != "abc123" {
		t.Errorf("ETag = %q, want quotes trimmed", obj.ETag)
	}
}

func TestS3BucketFaultIsNotNotFound(t *testing.T) {
	fake := &fakeS3{failGet: errors.New("access denied")}
	b := NewS3(fake, "drafts", testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Get(ctx, "draft-summary.json")
	if err == nil || IsNotFound(err) {
		t.Errorf("Get() error = %v, want a fault distinct from not found", err)
	}
}

func TestUnconfigured(t *testing.T) {
	b := Unconfigured{Var: config.DraftBucket}
	if err := b.Put(context.Background(), "k", nil); !config.IsMissing(err) {
		t.Errorf("Put() error = %v, want configuration error", err)
	}
	a := NewArchive(b, DraftLayout, testLogger())
	if _, _, err := a.Latest(context.Background()); !config.IsMissing(err) {
		t.Errorf("Latest() error = %v, want configuration error", err)
	}
}

func TestArchiveSaveAndLatest(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(NewLocal(dir, testLogger()), DraftLayout, testLogger())
	ctx := context.Background()

	if d, found, err := a.Latest(ctx); err != nil || found || d != nil {
		t.Fatalf("Latest() before save = %v, %v, %v; want not found", d, found, err)
	}

	now := time.Date(2025, 3, 1, 6, 30, 0, 0, time.UTC)
	summary := digest.Summary{
		SummaryText:    "Things happened.",
		SourceArticles: []digest.SourceArticle{{Title: "A", URL: "https://example.com/a"}},
	}
	key, err := a.Save(ctx, summary, now)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if key != "summaries/draft-summary-2025-03-01T06:30:00.000Z.json" {
		t.Errorf("Save() key = %q", key)
	}
	for _, k := range []string{key, "draft-summary.json"} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(k))); err != nil {
			t.Errorf("expected %s to exist: %v", k, err)
		}
	}

	d, found, err := a.Latest(ctx)
	if err != nil || !found {
		t.Fatalf("Latest() = %v, %v", found, err)
	}
	if d.SummaryText != summary.SummaryText || len(d.SourceArticles) != 1 || d.Status != digest.DraftPending || d.ID == "" {
		t.Errorf("Latest() = %+v", d)
	}
}

func TestArchiveLatestCorrupt(t *testing.T) {
	b := NewLocal(t.TempDir(), testLogger())
	if err := b.Put(context.Background(), DraftLayout.LatestKey, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	_, found, err := NewArchive(b, DraftLayout, testLogger()).Latest(context.Background())
	if err == nil || found {
		t.Errorf("Latest() = %v, %v; want decode fault", found, err)
	}
}

func TestArchiveUpdateText(t *testing.T) {
	a := NewArchive(NewLocal(t.TempDir(), testLogger()), DraftLayout, testLogger())
	ctx := context.Background()
	now := time.Now()

	if _, err := a.UpdateText(ctx, "text", now); !IsNotFound(err) {
		t.Fatalf("UpdateText() without draft error = %v, want not found", err)
	}

	if _, err := a.Save(ctx, digest.Summary{SummaryText: "old", SourceArticles: []digest.SourceArticle{{Title: "A", URL: "u"}}}, now); err != nil {
		t.Fatal(err)
	}

	d, err := a.UpdateText(ctx, `<script>alert(1)</script><b>New</b> text & more`, now.Add(time.Second))
	if err != nil {
		t.Fatalf("UpdateText() error = %v", err)
	}
	if d.SummaryText != "New text & more" {
		t.Errorf("SummaryText = %q", d.SummaryText)
	}
	if len(d.SourceArticles) != 1 {
		t.Errorf("sources should be kept, got %+v", d.SourceArticles)
	}

	if _, err := a.UpdateText(ctx, "<p>  </p>", now); !errors.Is(err, ErrEmptySummary) {
		t.Errorf("UpdateText(blank) error = %v, want ErrEmptySummary", err)
	}
}

func TestPublishedLayoutKeys(t *testing.T) {
	a := NewArchive(NewLocal(t.TempDir(), testLogger()), PublishedLayout, testLogger())
	key := a.HistoryKey(time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.FixedZone("X", 3600)))
	if key != "published-summary-2025-01-02T02:04:05.006Z.json" {
		t.Errorf("HistoryKey() = %q", key)
	}
	if !strings.HasSuffix(PublishedLayout.LatestKey, ".json") {
		t.Error("latest key should be a json document")
	}
}
