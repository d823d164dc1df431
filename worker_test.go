package pace_test

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loadtrace/pace"
	"github.com/loadtrace/pace/internal/mock"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestNextDelayShared(t *testing.T) {
	mc := gomock.NewController(t)
	tm := mock.NewMockTimeProvider(mc)

	start := time.Date(2021, 6, 20, 10, 0, 0, 0, time.UTC)
	gomock.InOrder(
		tm.EXPECT().Now().Return(start),                           // StartRun
		tm.EXPECT().Now().Return(start),                           // 1st cycle
		tm.EXPECT().Now().Return(start.Add(1200*time.Millisecond)), // 2nd cycle
	)

	s := newMemScheduler(t, pace.ModeShared, "0.5;\n1;\n",
		pace.WithTimeProvider(tm))
	s.StartRun()

	vars := pace.Vars{}
	w := s.NewWorker(0, pace.WithVars(vars))

	require.Equal(t, 500*pace.Millisecond, w.NextDelay())
	require.Equal(t, "1", vars[pace.VarSequenceID])

	// The second offset is already in the past: clamp to zero.
	require.Equal(t, pace.Duration(0), w.NextDelay())
	require.Equal(t, "2", vars[pace.VarSequenceID])
}

func TestNextDelayPerWorkerFull(t *testing.T) {
	mc := gomock.NewController(t)
	tm := mock.NewMockTimeProvider(mc)

	start := time.Date(2021, 6, 20, 10, 0, 0, 0, time.UTC)
	tm.EXPECT().Now().Return(start).AnyTimes()

	s := newMemScheduler(t, pace.ModePerWorkerFull, "0.5;\n1;\n2;\n",
		pace.WithTimeProvider(tm))
	s.StartRun()

	varsA, varsB := pace.Vars{}, pace.Vars{}
	wa := s.NewWorker(0, pace.WithVars(varsA))
	wb := s.NewWorker(1, pace.WithVars(varsB))

	// Worker A rushes ahead, worker B hasn't moved yet.
	require.Equal(t, 500*pace.Millisecond, wa.NextDelay())
	require.Equal(t, pace.Second, wa.NextDelay())

	// Worker B still starts from the first timestamp, at its own pace.
	require.Equal(t, 500*pace.Millisecond, wb.NextDelay())
	require.Equal(t, "1", varsB[pace.VarSequenceID])

	require.Equal(t, 2*pace.Second, wa.NextDelay())
	require.Equal(t, "3", varsA[pace.VarSequenceID])
}

func TestExhaustionParksWorker(t *testing.T) {
	mc := gomock.NewController(t)
	tm := mock.NewMockTimeProvider(mc)

	start := time.Date(2021, 6, 20, 10, 0, 0, 0, time.UTC)
	gomock.InOrder(
		tm.EXPECT().Now().Return(start), // StartRun
		tm.EXPECT().Now().Return(start), // 1st cycle
		tm.EXPECT().Now().Return(start), // 2nd cycle: exhausted
		tm.EXPECT().Now().Return(start.Add(1400*time.Millisecond)),
		tm.EXPECT().Now().Return(start.Add(2*time.Second)),
	)

	var stops int
	vars := pace.Vars{}
	s := newMemScheduler(t, pace.ModeShared, "0.5;\n",
		pace.WithTimeProvider(tm),
		pace.WithPollTimeout(time.Millisecond),
		pace.WithSafetyMargin(pace.Second))
	s.StartRun()
	w := s.NewWorker(0,
		pace.WithVars(vars),
		pace.WithStopFunc(func() { stops++ }))

	require.Equal(t, 500*pace.Millisecond, w.NextDelay())
	require.False(t, w.Exhausted())

	// Exhausted: park just past lastOffset+margin and signal stop.
	require.Equal(t, 1500*pace.Millisecond, w.NextDelay())
	require.True(t, w.Exhausted())
	require.Equal(t, "0", vars[pace.VarSequenceID])
	require.Equal(t, 1, stops)

	// Further cycles keep targeting the same park instant.
	require.Equal(t, 100*pace.Millisecond, w.NextDelay())
	require.Equal(t, pace.Duration(0), w.NextDelay())
	require.Equal(t, 1, stops, "stop must be signaled exactly once")
}

func TestNextDelayNeverNegative(t *testing.T) {
	mc := gomock.NewController(t)
	tm := mock.NewMockTimeProvider(mc)

	start := time.Date(2021, 6, 20, 10, 0, 0, 0, time.UTC)
	tm.EXPECT().Now().Return(start).Times(1)
	tm.EXPECT().Now().Return(start.Add(time.Hour)).AnyTimes()

	s := newMemScheduler(t, pace.ModeShared, "0;\n1;\n2;\n",
		pace.WithTimeProvider(tm),
		pace.WithPollTimeout(time.Millisecond))
	s.StartRun()
	w := s.NewWorker(0)

	for i := 0; i < 5; i++ {
		require.GreaterOrEqual(t, w.NextDelay(), pace.Duration(0))
	}
}

// TestSharedPartition lets several workers race over one shared sequence:
// every sequence id must be delivered to exactly one worker and each
// worker's receipt order must be strictly increasing.
func TestSharedPartition(t *testing.T) {
	const entries, workers = 100, 5

	var b strings.Builder
	for i := 0; i < entries; i++ {
		b.WriteString("0;\n")
	}
	s := newMemScheduler(t, pace.ModeShared, b.String(),
		pace.WithPollTimeout(time.Millisecond))
	s.StartRun()

	received := make([][]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		vars := pace.Vars{}
		w := s.NewWorker(i, pace.WithVars(vars))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				w.NextDelay()
				if w.Exhausted() {
					return
				}
				received[i] = append(received[i], vars[pace.VarSequenceID])
			}
		}(i)
	}
	wg.Wait()

	var all []uint64
	for _, raw := range received {
		var got []uint64
		for _, v := range raw {
			seq, err := strconv.ParseUint(v, 10, 64)
			require.NoError(t, err)
			got = append(got, seq)
		}
		require.True(t, sort.SliceIsSorted(got, func(a, b int) bool {
			return got[a] < got[b]
		}), "per-worker receipt order must be increasing")
		all = append(all, got...)
	}
	require.Len(t, all, entries,
		"no timestamp may be duplicated or lost")
	sort.Slice(all, func(a, b int) bool { return all[a] < all[b] })
	for i, seq := range all {
		require.Equal(t, uint64(i+1), seq)
	}
}

// TestPerWorkerFullUnaffectedByOthers drains one worker completely before
// the other even starts.
func TestPerWorkerFullUnaffectedByOthers(t *testing.T) {
	s := newMemScheduler(t, pace.ModePerWorkerFull, "0;\n0;\n0;\n")
	s.StartRun()

	fast := s.NewWorker(0)
	for !fast.Exhausted() {
		fast.NextDelay()
	}

	vars := pace.Vars{}
	slow := s.NewWorker(1, pace.WithVars(vars))
	var got []string
	for i := 0; i < 3; i++ {
		slow.NextDelay()
		got = append(got, vars[pace.VarSequenceID])
	}
	require.Equal(t, []string{"1", "2", "3"}, got)
}

func TestWorkerNum(t *testing.T) {
	s := newMemScheduler(t, pace.ModeShared, "1;\n")
	require.Equal(t, 3, s.NewWorker(3).Num())
}

func TestVars(t *testing.T) {
	v := pace.Vars{}
	v.Set("k", "1")
	require.Equal(t, "1", v["k"])
}
