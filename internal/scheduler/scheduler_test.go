package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/industry-data-aggregation/internal/industry"
)

type fakeAdapter struct {
	id     string
	err    error
	panics bool
	calls  int32
}

func (f *fakeAdapter) ID() string { return f.id }
func (f *fakeAdapter) Capabilities() industry.Capabilities { return industry.Capabilities{} }
func (f *fakeAdapter) IsAvailable() bool { return true }
func (f *fakeAdapter) DataFreshness() *time.Time { return nil }

func (f *fakeAdapter) FetchDataset(context.Context, industry.DatasetQuery) ([]industry.ObservationRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.panics {
		panic("decoder blew up")
	}
	return nil, f.err
}

func (f *fakeAdapter) FetchLatestValue(context.Context, industry.DatasetQuery) (industry.ObservationRecord, error) {
	return industry.ObservationRecord{}, f.err
}

func (f *fakeAdapter) SearchIndustries(context.Context, industry.SearchQuery) ([]industry.ObservationRecord, error) {
	return nil, f.err
}

type registry map[string]industry.Adapter

func (r registry) Adapter(id string) (industry.Adapter, bool) {
	a, ok := r[id]
	return a, ok
}

type countingSweeper struct{ runs int }

func (c *countingSweeper) Sweep() int {
	c.runs++
	return 2
}

func TestRunOnceWarmsEveryJob(t *testing.T) {
	ok := &fakeAdapter{id: "census"}
	broken := &fakeAdapter{id: "oecd", err: industry.NewSourceError("oecd", industry.CodeServerError, "down")}
	sweeper := &countingSweeper{}
	jobs := []industry.DatasetQuery{
		{SourceID: "census", Dataflow: "cbp", Key: "5415.US"},
		{SourceID: "census", Dataflow: "cbp", Key: "3254.US"},
		{SourceID: "oecd", Dataflow: "STANI4", Key: "USA.VALU.D21"},
		{SourceID: "nope", Dataflow: "x"},
	}
	s := New(registry{"census": ok, "oecd": broken}, sweeper, jobs, time.Hour, nil)

	report := s.RunOnce(context.Background())

	assert.Equal(t, 2, report.Warmed)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 2, report.Swept)
	assert.Equal(t, 1, sweeper.runs)
	assert.EqualValues(t, 2, atomic.LoadInt32(&ok.calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&broken.calls))
}

func TestRunOnceSurvivesPanickingSource(t *testing.T) {
	ok := &fakeAdapter{id: "census"}
	bad := &fakeAdapter{id: "eurostat", panics: true}
	jobs := []industry.DatasetQuery{
		{SourceID: "census", Dataflow: "cbp", Key: "5415.US"},
		{SourceID: "eurostat", Dataflow: "nama_10_a64"},
	}
	s := New(registry{"census": ok, "eurostat": bad}, nil, jobs, time.Hour, nil)

	var report Report
	require.NotPanics(t, func() { report = s.RunOnce(context.Background()) })
	assert.Equal(t, 1, report.Warmed)
	assert.Equal(t, 1, report.Failed)
}

func TestStartAndStop(t *testing.T) {
	sweeper := &countingSweeper{}
	s := New(registry{}, sweeper, nil, time.Hour, nil)

	require.NoError(t, s.Start())
	s.Stop()
}
