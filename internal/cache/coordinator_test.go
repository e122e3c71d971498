package cache

import (
	"context"
	"testing"

	"github.com/vidsum/vidsum-api/internal/bundle"
	"github.com/vidsum/vidsum-api/internal/store"
)

type fakeQueue struct {
	enqueued  []string
	cancelled []string
}

func (f *fakeQueue) Enqueue(jobID string)             { f.enqueued = append(f.enqueued, jobID) }
func (f *fakeQueue) CancelForCacheKey(cacheKey string) { f.cancelled = append(f.cancelled, cacheKey) }

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeQueue) {
	t.Helper()
	meta, err := store.Open(context.Background(), "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	b := bundle.New(t.TempDir())
	c := New(meta, b, 1)
	q := &fakeQueue{}
	c.SetQueue(q)
	return c, q
}

func TestGetOrCreate_MissCreatesPendingEntryAndJob(t *testing.T) {
	c, q := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.GetOrCreate(ctx, "key1", "https://example.com/v/abc", store.SourceTypeURL, false)
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	if res.IsHit || res.Job == nil {
		t.Fatalf("expected a fresh job on miss, got %+v", res)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != res.Job.JobID {
		t.Errorf("expected job enqueued exactly once, got %v", q.enqueued)
	}
}

func TestGetOrCreate_RepeatedCallsAdoptSingleJob(t *testing.T) {
	c, q := newTestCoordinator(t)
	ctx := context.Background()

	res1, err := c.GetOrCreate(ctx, "key2", "u", store.SourceTypeURL, false)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	res2, err := c.GetOrCreate(ctx, "key2", "u", store.SourceTypeURL, false)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if res1.Job == nil || res2.Job == nil {
		t.Fatalf("expected both calls to report a job id: %+v / %+v", res1, res2)
	}
	if res1.Job.JobID != res2.Job.JobID {
		t.Errorf("expected adopted job id to match, got %s vs %s", res1.Job.JobID, res2.Job.JobID)
	}
	if len(q.enqueued) != 1 {
		t.Errorf("expected exactly one enqueue across repeated misses, got %d", len(q.enqueued))
	}
}

func TestGetOrCreate_CompletedEntryIsHit(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.GetOrCreate(ctx, "key3", "u", store.SourceTypeURL, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bundlePath, err := c.bundles.Promote(ctx, res.Job.JobID, "key3", "url", &bundle.Manifest{
		ProfileVersion: 1,
		SummaryText:    "done",
		Artifacts:      map[string]bundle.Artifact{},
	})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := c.CompletePipeline(ctx, res.Job.JobID, "key3", bundlePath, "done", "Example"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	res2, err := c.GetOrCreate(ctx, "key3", "u", store.SourceTypeURL, false)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !res2.IsHit {
		t.Errorf("expected cache hit for completed+valid entry, got %+v", res2)
	}
	if res2.Entry.SummaryText != "done" {
		t.Errorf("expected summary text preserved, got %q", res2.Entry.SummaryText)
	}
}

func TestGetOrCreate_RefreshCreatesNewJob(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.GetOrCreate(ctx, "key4", "u", store.SourceTypeURL, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bundlePath, err := c.bundles.Promote(ctx, res.Job.JobID, "key4", "url", &bundle.Manifest{
		ProfileVersion: 1, SummaryText: "v1", Artifacts: map[string]bundle.Artifact{},
	})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := c.CompletePipeline(ctx, res.Job.JobID, "key4", bundlePath, "v1", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	res2, err := c.GetOrCreate(ctx, "key4", "u", store.SourceTypeURL, true)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res2.Job == nil || res2.Job.JobID == res.Job.JobID {
		t.Fatalf("expected a distinct new job id on refresh, got %+v", res2.Job)
	}
}

func TestGetOrCreate_FailedWithoutRefreshSurfacesError(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.GetOrCreate(ctx, "key5", "u", store.SourceTypeURL, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.FailPipeline(ctx, res.Job.JobID, "key5", "upstream: boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	res2, err := c.GetOrCreate(ctx, "key5", "u", store.SourceTypeURL, false)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if res2.IsHit || res2.Job != nil {
		t.Fatalf("expected failed entry with no new job, got %+v", res2)
	}
	if res2.Entry.Error == "" {
		t.Error("expected recorded error to be surfaced")
	}
}

func TestKeyForURL_PrefersExtractorIdentity(t *testing.T) {
	k1 := KeyForURL("youtube", "abc123", "https://ignored", 1)
	k2 := KeyForURL("youtube", "abc123", "https://different", 1)
	if k1 != k2 {
		t.Error("expected key to depend only on extractor+video_id when available, not the URL text")
	}
}

func TestKeyForLocal_DependsOnHashAndProfileOnly(t *testing.T) {
	k1 := KeyForLocal("deadbeef", 1)
	k2 := KeyForLocal("deadbeef", 1)
	k3 := KeyForLocal("deadbeef", 2)
	if k1 != k2 {
		t.Error("expected identical inputs to produce identical keys")
	}
	if k1 == k3 {
		t.Error("expected profile_version bump to change the key")
	}
}

func TestDelete_RemovesEntryAndBundle(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.GetOrCreate(ctx, "key6", "u", store.SourceTypeURL, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bundlePath, err := c.bundles.Promote(ctx, res.Job.JobID, "key6", "url", &bundle.Manifest{
		ProfileVersion: 1, SummaryText: "x", Artifacts: map[string]bundle.Artifact{},
	})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := c.CompletePipeline(ctx, res.Job.JobID, "key6", bundlePath, "x", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := c.Delete(ctx, "key6"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, err := c.Lookup(ctx, "key6"); err != nil || found {
		t.Errorf("expected entry gone after delete, found=%v err=%v", found, err)
	}
}
