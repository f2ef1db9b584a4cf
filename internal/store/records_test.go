package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun(id, suite string, passed bool) Run {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Run{
		ID:         id,
		Suite:      suite,
		Passed:     passed,
		Phase:      "done",
		LogPath:    "/tmp/out/" + suite + "/" + id + "/correlator.log",
		Signature:  `" ERROR "`,
		Trace:      []string{"idle", "session_starting", "injecting(0)", "shutting_down", "validating", "done"},
		Failures:   []string{},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}
}

func TestWriteAndReadRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := testRun("run-1", "complex_unit", true)
	require.NoError(t, s.WriteRun(ctx, want))

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	want.Seq = got.Seq
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}
	assert.Positive(t, got.Seq)
}

func TestWriteRunIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", "a", true)
	require.NoError(t, s.WriteRun(ctx, run))
	run.Passed = false
	require.NoError(t, s.WriteRun(ctx, run))

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Passed, "first write wins")
}

func TestWriteRunRequiresID(t *testing.T) {
	s := createTestStore(t)
	assert.Error(t, s.WriteRun(context.Background(), Run{Suite: "a"}))
}

func TestReadRunNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFailuresRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := testRun("run-f", "a", false)
	run.Phase = "failed"
	run.Reason = "validation failed: 2 evidence lines"
	run.Failures = []string{"evidence_count: want 1, got 2"}
	run.Trace = nil
	require.NoError(t, s.WriteRun(ctx, run))

	got, err := s.ReadRun(ctx, "run-f")
	require.NoError(t, err)
	assert.False(t, got.Passed)
	assert.Equal(t, run.Failures, got.Failures)
	assert.Equal(t, []string{}, got.Trace)
	assert.Equal(t, run.Reason, got.Reason)
}

func TestListRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRun(ctx, testRun("r1", "alpha", true)))
	require.NoError(t, s.WriteRun(ctx, testRun("r2", "beta", false)))
	require.NoError(t, s.WriteRun(ctx, testRun("r3", "alpha", true)))

	all, err := s.ListRuns(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"r3", "r2", "r1"}, runIDs(all))

	alpha, err := s.ListRuns(ctx, ListOptions{Suite: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, []string{"r3", "r1"}, runIDs(alpha))

	limited, err := s.ListRuns(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"r3"}, runIDs(limited))
}

func TestListRunsEmpty(t *testing.T) {
	s := createTestStore(t)
	runs, err := s.ListRuns(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestInjectionsOrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRun(ctx, testRun("r1", "a", true)))

	// Insert out of order; reads come back by seq.
	for _, seq := range []int64{2, 0, 1} {
		require.NoError(t, s.WriteInjection(ctx, Injection{
			RunID:    "r1",
			Seq:      seq,
			Artifact: []string{"Complex.mon", "a.mon", "b.mon"}[seq],
			Outcome:  "injected",
		}))
	}

	got, err := s.ReadInjections(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Complex.mon", got[0].Artifact)
	assert.Equal(t, "a.mon", got[1].Artifact)
	assert.Equal(t, "b.mon", got[2].Artifact)
}

func TestInjectionRequiresRun(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteInjection(context.Background(), Injection{RunID: "ghost", Seq: 0, Artifact: "a.mon", Outcome: "injected"})
	assert.Error(t, err, "foreign key enforced")
}

func TestEvidenceRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRun(ctx, testRun("r1", "a", false)))

	want := Evidence{RunID: "r1", Seq: 0, Line: 7, Text: "7 ERROR [correlator] boom", Source: "b.mon", Fingerprint: "abc"}
	require.NoError(t, s.WriteEvidence(ctx, want))
	require.NoError(t, s.WriteEvidence(ctx, want), "duplicate ignored")

	got, err := s.ReadEvidence(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []Evidence{want}, got)

	none, err := s.ReadEvidence(ctx, "other")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRecordResult(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := testRun("r1", "complex_unit", false)
	injections := []Injection{
		{Seq: 0, Artifact: "Complex.mon", Outcome: "injected", AfterOffset: 120, AfterLine: 3},
		{Seq: 1, Artifact: "bad.mon", Outcome: "rejected", Error: "syntax", BeforeOffset: 120, BeforeLine: 3, AfterOffset: 180, AfterLine: 4},
	}
	evidence := []Evidence{{Seq: 0, Line: 4, Text: "4 ERROR [correlator] x", Source: "bad.mon", Fingerprint: "f"}}
	require.NoError(t, s.RecordResult(ctx, run, injections, evidence))

	gotInj, err := s.ReadInjections(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, gotInj, 2)
	assert.Equal(t, "r1", gotInj[1].RunID, "run id filled in")
	assert.Equal(t, "syntax", gotInj[1].Error)

	gotEv, err := s.ReadEvidence(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, gotEv, 1)
	assert.Equal(t, "bad.mon", gotEv[0].Source)
}

func TestRecordResultIsAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := testRun("r1", "a", true)
	injections := []Injection{
		{Seq: 0, Artifact: "a.mon", Outcome: "injected"},
		{RunID: "ghost", Seq: 1, Artifact: "b.mon", Outcome: "injected"},
	}
	require.Error(t, s.RecordResult(ctx, run, injections, nil))

	_, err := s.ReadRun(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound, "run rolled back with its injections")
}

func runIDs(runs []Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
