package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"OmniIngest/internal/modules/ingest/domain/document"
	"OmniIngest/internal/modules/ingest/domain/repository"
	"OmniIngest/internal/modules/ingest/infrastructure/extraction"
	"OmniIngest/pkg/compensate"
	"OmniIngest/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- in-memory fakes ----

type memRepo struct {
	nextID    int64
	byID      map[int64]*document.DocumentRecord
	createErr error
	updateErr error
	deleteErr error
	missFinds int // FindByHash pretends not to see anything this many times
	deletes   []int64
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, byID: map[int64]*document.DocumentRecord{}}
}

func (r *memRepo) FindByHash(ctx context.Context, hashHex string, includeSoftDeleted bool) (*document.DocumentRecord, error) {
	if r.missFinds > 0 {
		r.missFinds--
		return nil, nil
	}
	for _, rec := range r.byID {
		if rec.HashHex == hashHex {
			c := *rec
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRepo) Create(ctx context.Context, rec *document.DocumentRecord) error {
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.byID {
		if existing.HashHex == rec.HashHex {
			return repository.ErrDuplicateHash
		}
	}
	rec.Id = r.nextID
	r.nextID++
	c := *rec
	r.byID[rec.Id] = &c
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id int64) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.byID, id)
	r.deletes = append(r.deletes, id)
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id int64) (*document.DocumentRecord, error) {
	rec, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id int64, status int8, errorMsg string) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	rec, ok := r.byID[id]
	if !ok || document.IsTerminalStatus(rec.Status) {
		return nil
	}
	rec.Status = status
	rec.ErrorMsg = errorMsg
	return nil
}

type memStore struct {
	nextKey   int
	objects   map[string][]byte
	uploadErr error
	deleteErr error
	deletes   []string
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (s *memStore) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.nextKey++
	key := fmt.Sprintf("obj-%d", s.nextKey)
	s.objects[key] = data
	return key, nil
}

func (s *memStore) Delete(ctx context.Context, objectKey string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, objectKey)
	s.deletes = append(s.deletes, objectKey)
	return nil
}

type scriptedExtractor struct {
	errs    []error
	calls   int
	payload string
}

func (s *scriptedExtractor) Extract(ctx context.Context, objectKey, schemaJSON string) (string, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	return s.payload, nil
}

type memIndex struct {
	entries   map[string]string
	upsertErr error
	removeErr error
	removes   []string
}

func newMemIndex() *memIndex { return &memIndex{entries: map[string]string{}} }

func (i *memIndex) Upsert(ctx context.Context, recordID, payload string, attrs map[string]string) error {
	if i.upsertErr != nil {
		return i.upsertErr
	}
	i.entries[recordID] = payload
	return nil
}

func (i *memIndex) Remove(ctx context.Context, recordID string) error {
	if i.removeErr != nil {
		return i.removeErr
	}
	delete(i.entries, recordID)
	i.removes = append(i.removes, recordID)
	return nil
}

type memCache struct {
	entries map[string]int64
	hits    int
}

func newMemCache() *memCache { return &memCache{entries: map[string]int64{}} }

func (c *memCache) Get(ctx context.Context, hashHex string) (int64, bool) {
	id, ok := c.entries[hashHex]
	if ok {
		c.hits++
	}
	return id, ok
}

func (c *memCache) Set(ctx context.Context, hashHex string, recordID int64) {
	c.entries[hashHex] = recordID
}

func (c *memCache) Invalidate(ctx context.Context, hashHex string) {
	delete(c.entries, hashHex)
}

type fixture struct {
	repo      *memRepo
	store     *memStore
	extractor *scriptedExtractor
	index     *memIndex
	cache     *memCache
	svc       IngestService
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMemRepo(),
		store:     newMemStore(),
		extractor: &scriptedExtractor{payload: `{"title":"report"}`},
		index:     newMemIndex(),
		cache:     newMemCache(),
	}
	f.svc = NewIngestService(f.repo, f.store, f.extractor, f.index, f.cache, `{"type":"object"}`, nil)
	return f
}

func submit(t *testing.T, f *fixture, content string) (*SubmitResult, error) {
	t.Helper()
	return f.svc.Submit(context.Background(), SubmitRequest{FileName: "report.txt", Content: []byte(content)})
}

// ---- tests ----

func TestSubmit_Success(t *testing.T) {
	f := newFixture()

	res, err := submit(t, f, "hello world")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.False(t, res.Degraded)
	require.NotZero(t, res.RecordID)

	rec, err := f.repo.GetByID(context.Background(), res.RecordID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, document.StatusCompleted, rec.Status)
	assert.Equal(t, `{"title":"report"}`, rec.ExtractedJson)
	assert.True(t, rec.ExtractedAt.Valid)

	assert.Len(t, f.store.objects, 1, "uploaded object retained on success")
	assert.Contains(t, f.index.entries, "1")
	assert.Contains(t, f.cache.entries, rec.HashHex)

	assert.Equal(t, "success", res.Trail.Status)
	assert.Equal(t, compensate.CompensationNotNeeded, res.Trail.CompensationStatus)
}

func TestSubmit_DuplicateShortCircuits(t *testing.T) {
	f := newFixture()

	first, err := submit(t, f, "same bytes")
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, first.Outcome)
	callsAfterFirst := f.extractor.calls
	objectsAfterFirst := len(f.store.objects)

	second, err := submit(t, f, "same bytes")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.RecordID, second.ExistingID)

	assert.Equal(t, callsAfterFirst, f.extractor.calls, "duplicate must not touch the extraction service")
	assert.Equal(t, objectsAfterFirst, len(f.store.objects), "duplicate must not upload anything")
}

func TestSubmit_DuplicateLookupUsesCacheThenVerifies(t *testing.T) {
	f := newFixture()

	first, err := submit(t, f, "cached content")
	require.NoError(t, err)

	_, err = submit(t, f, "cached content")
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits, "second submit served from the hash cache")

	// stale cache entry pointing at a removed record falls through to a fresh submit
	require.NoError(t, f.repo.Delete(context.Background(), first.RecordID))
	res, err := submit(t, f, "cached content")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
}

func TestSubmit_EmptyContent(t *testing.T) {
	f := newFixture()

	res, err := f.svc.Submit(context.Background(), SubmitRequest{FileName: "empty.txt"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Zero(t, f.extractor.calls)
	assert.Empty(t, f.store.objects)
}

func TestSubmit_ExtractionRejectedRollsBackUpload(t *testing.T) {
	f := newFixture()
	f.extractor.errs = []error{&extraction.RejectedError{Err: &extraction.ClientError{Status: 422, Message: "bad schema"}}}

	res, err := submit(t, f, "unparseable")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, res.Retryable)
	assert.Contains(t, res.Reason, "ExtractionRejected")

	assert.Empty(t, f.store.objects, "uploaded object cleaned up")
	assert.Empty(t, f.repo.byID, "no record persisted")
	assert.Equal(t, compensate.CompensationSuccess, res.Trail.CompensationStatus)
}

func TestSubmit_ExtractionFailedIsRetryable(t *testing.T) {
	f := newFixture()
	f.extractor.errs = []error{&extraction.FailedError{
		LastErr:  &extraction.ServerError{Status: 503},
		Attempts: 5,
		Elapsed:  30 * time.Second,
	}}

	res, err := submit(t, f, "flaky upstream")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, res.Retryable)
	assert.Empty(t, f.store.objects)
}

func TestSubmit_PersistenceFailureRollsBackUpload(t *testing.T) {
	f := newFixture()
	f.repo.createErr = errors.New("db unavailable")

	res, err := submit(t, f, "orphan candidate")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "PersistenceError", res.Reason)
	assert.True(t, res.Retryable)
	assert.Empty(t, f.store.objects, "upload deleted when persistence fails")
}

func TestSubmit_ConcurrentDuplicateResolvesViaUniqueConstraint(t *testing.T) {
	f := newFixture()

	first, err := submit(t, f, "raced content")
	require.NoError(t, err)

	// both the cache and the pre-check miss once, simulating a concurrent
	// submit that won the insert between our lookup and our Create
	f.cache.entries = map[string]int64{}
	f.repo.missFinds = 1
	res, err := submit(t, f, "raced content")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, first.RecordID, res.ExistingID)
	assert.Len(t, f.store.objects, 1, "losing submit cleans up its own upload")
}

func TestSubmit_IndexFailureCompletesDegraded(t *testing.T) {
	f := newFixture()
	f.index.upsertErr = errors.New("milvus down")

	res, err := submit(t, f, "index later")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, res.Degraded)

	rec, err := f.repo.GetByID(context.Background(), res.RecordID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, document.StatusCompletedDegraded, rec.Status)
	assert.Contains(t, rec.ErrorMsg, "milvus down")
	assert.Len(t, f.store.objects, 1, "degraded completion keeps the object and the record")
}

func TestSubmit_FinalStatusUpdateFailureRollsBackEverything(t *testing.T) {
	f := newFixture()
	f.repo.updateErr = errors.New("db went away")

	res, err := submit(t, f, "late failure")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "PersistenceError", res.Reason)

	assert.Empty(t, f.store.objects)
	assert.Empty(t, f.index.entries, "index entry removed by non-critical rollback")
}

func TestSubmit_CriticalRollbackFailureEscalates(t *testing.T) {
	f := newFixture()
	f.extractor.errs = []error{&extraction.RejectedError{Err: &extraction.AuthError{Message: "expired key"}}}
	f.store.deleteErr = errors.New("store refuses delete")

	res, err := submit(t, f, "stuck object")

	var rf *compensate.RollbackFailureError
	require.ErrorAs(t, err, &rf)
	require.Len(t, rf.Failed, 1)
	assert.Equal(t, compensate.ResourceObjectStore, rf.Failed[0].ResourceType)

	require.NotNil(t, res)
	assert.Equal(t, compensate.CompensationFailed, res.Trail.CompensationStatus)
	assert.Len(t, f.store.objects, 1, "orphaned object remains for manual cleanup")
}

func TestSubmit_CanceledContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.svc.Submit(ctx, SubmitRequest{FileName: "late.txt", Content: []byte("never processed")})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, f.store.objects)
	assert.Zero(t, f.extractor.calls)
}

func TestGetDocument(t *testing.T) {
	f := newFixture()
	created, err := submit(t, f, "lookup me")
	require.NoError(t, err)

	rec, err := f.svc.GetDocument(context.Background(), created.RecordID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "report.txt", rec.FileName)

	missing, err := f.svc.GetDocument(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// ---- end to end with the real resilient client ----

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

func TestSubmit_TransientOutageRecoversEndToEnd(t *testing.T) {
	repo := newMemRepo()
	store := newMemStore()
	index := newMemIndex()
	inner := &scriptedExtractor{
		payload: `{"title":"survived"}`,
		errs: []error{
			&extraction.ServerError{Status: 503},
			&extraction.ServerError{Status: 503},
			&extraction.ServerError{Status: 503},
		},
	}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{FailureThreshold: 10, OpenTimeout: time.Minute}, clock)
	client := extraction.NewClient(inner, breaker, resilience.RetryConfig{
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    time.Minute,
		MaxAttempts: 5,
	}, clock, nil)

	svc := NewIngestService(repo, store, client, index, nil, `{}`, nil)

	res, err := svc.Submit(context.Background(), SubmitRequest{FileName: "flaky.txt", Content: []byte("important bytes")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 4, inner.calls, "three 503s then success inside one submit")
	assert.Len(t, store.objects, 1, "object never deleted across retries")

	rec, err := repo.GetByID(context.Background(), res.RecordID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, document.StatusCompleted, rec.Status)
}
