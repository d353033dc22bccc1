package erp

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "erp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.SeedDemo(context.Background()))
	return store
}

func TestProjectContext(t *testing.T) {
	store := newTestStore(t)

	pc, err := store.ProjectContext(context.Background(), DemoProjectID)
	require.NoError(t, err)

	assert.Equal(t, "Brake line refresh", pc.Header.Project.Name)
	assert.Equal(t, "Demo Motors", pc.Header.Organization.Name)
	assert.Len(t, pc.Providers, 2)
	assert.Len(t, pc.ProviderProducts, 2)
	assert.Len(t, pc.Inventory, 2)
	assert.Len(t, pc.Sales, 4)

	require.NotEmpty(t, pc.SalesMonthly)
	assert.Equal(t, "2024-06", pc.SalesMonthly[0].YearMonth)
	assert.Equal(t, 52, pc.SalesMonthly[0].TotalQuantity)
}

func TestProjectContextNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ProjectContext(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestOrganizationContext(t *testing.T) {
	store := newTestStore(t)

	oc, err := store.OrganizationContext(context.Background(), OrganizationQuery{
		OrganizationID: DemoOrganizationID,
		FromDate:       "2024-05-01",
	})
	require.NoError(t, err)

	require.Len(t, oc.TopProducts, 2)
	assert.Equal(t, "Brake pad", oc.TopProducts[0].ProductName)
	assert.Equal(t, 97, oc.TopProducts[0].Qty)
	assert.Equal(t, "Acme Parts", oc.TopProducts[0].PreferredProviderName)
	assert.Empty(t, oc.TopProducts[1].PreferredProviderID)
}

func TestSaveAndListTranscripts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTranscript(ctx, Transcript{
		ProjectID: DemoProjectID,
		UserID:    "u-1",
		Question:  "which supplier?",
		Answer:    `{"summary":"Acme"}`,
		CreatedAt: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, store.SaveTranscript(ctx, Transcript{
		ProjectID: DemoProjectID,
		UserID:    "u-1",
		Question:  "stock alerts?",
		Answer:    `{"summary":"Brake pads"}`,
		CreatedAt: time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC),
	}))

	got, err := store.Transcripts(ctx, DemoProjectID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "stock alerts?", got[0].Question)
	assert.NotEmpty(t, got[0].ID)
}

type countingSource struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (s *countingSource) ProjectContext(_ context.Context, projectID string) (*ProjectContext, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	return &ProjectContext{Header: Header{Project: ProjectInfo{ID: projectID}}}, nil
}

func TestCachedSourceCollapsesAndCaches(t *testing.T) {
	source := &countingSource{delay: 20 * time.Millisecond}
	cached := NewCachedSource(source, 4, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc, err := cached.ProjectContext(context.Background(), "p1")
			assert.NoError(t, err)
			assert.Equal(t, "p1", pc.Header.Project.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), source.calls.Load())

	cached.Invalidate("p1")
	_, err := cached.ProjectContext(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestCachedSourceDoesNotCacheErrors(t *testing.T) {
	source := &countingSource{err: errors.New("db down")}
	cached := NewCachedSource(source, 0, 0)

	_, err := cached.ProjectContext(context.Background(), "p1")
	require.Error(t, err)
	_, err = cached.ProjectContext(context.Background(), "p1")
	require.Error(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}

type gatedSource struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (s *gatedSource) ProjectContext(ctx context.Context, projectID string) (*ProjectContext, error) {
	if s.calls.Add(1) == 1 {
		close(s.started)
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &ProjectContext{Header: Header{Project: ProjectInfo{ID: projectID}}}, nil
}

func TestCachedSourceSharedLoadOutlivesFirstCaller(t *testing.T) {
	source := &gatedSource{started: make(chan struct{}), release: make(chan struct{})}
	cached := NewCachedSource(source, 4, time.Minute)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached.ProjectContext(firstCtx, "p1")
		firstErr <- err
	}()
	<-source.started

	type outcome struct {
		pc  *ProjectContext
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		pc, err := cached.ProjectContext(context.Background(), "p1")
		second <- outcome{pc, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(source.release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, "p1", got.pc.Header.Project.ID)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), source.calls.Load())

	pc, err := cached.ProjectContext(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", pc.Header.Project.ID)
	assert.Equal(t, int32(1), source.calls.Load())
}
