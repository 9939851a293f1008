package playback

import (
	"math/rand/v2"
	"slices"
	"testing"
)

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

func TestNextPreviousLinear(t *testing.T) {
	tc := []struct {
		name     string
		n, cur   int
		wantNext int
		wantPrev int
	}{
		{name: "middle", n: 3, cur: 1, wantNext: 2, wantPrev: 0},
		{name: "wraps at end", n: 3, cur: 2, wantNext: 0, wantPrev: 1},
		{name: "wraps at start", n: 3, cur: 0, wantNext: 1, wantPrev: 2},
		{name: "nothing selected", n: 4, cur: -1, wantNext: 0, wantPrev: 3},
		{name: "empty", n: 0, cur: -1, wantNext: -1, wantPrev: -1},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			s := Selection{N: tt.n, Current: tt.cur}
			if got, _ := Next(s, fixedRand(0)); got != tt.wantNext {
				t.Errorf("Next() = %d, want %d", got, tt.wantNext)
			}
			if got, _ := Previous(s, fixedRand(0)); got != tt.wantPrev {
				t.Errorf("Previous() = %d, want %d", got, tt.wantPrev)
			}
		})
	}
}

func TestSingleTrackAlwaysZero(t *testing.T) {
	for _, shuffle := range []bool{false, true} {
		s := Selection{N: 1, Current: 0, Shuffle: shuffle, History: NewHistory(0)}
		for i := 0; i < 5; i++ {
			if got, _ := Next(s, fixedRand(i)); got != 0 {
				t.Errorf("Next(shuffle=%v) = %d, want 0", shuffle, got)
			}
			if got, _ := Previous(s, fixedRand(i)); got != 0 {
				t.Errorf("Previous(shuffle=%v) = %d, want 0", shuffle, got)
			}
		}
	}
}

func TestShuffleVisitsEveryIndexPerCycle(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))

	for n := 2; n <= 9; n++ {
		cur, h := 0, History{}
		for cycle := 0; cycle < 4; cycle++ {
			start := cur
			var picks []int
			for k := 0; k < n-1; k++ {
				cur, h = Next(Selection{N: n, Current: cur, Shuffle: true, History: h}, r)
				picks = append(picks, cur)
			}

			slices.Sort(picks)
			var want []int
			for i := 0; i < n; i++ {
				if i != start {
					want = append(want, i)
				}
			}
			if !slices.Equal(picks, want) {
				t.Fatalf("n=%d cycle=%d: picks %v, want every index but %d once", n, cycle, picks, start)
			}
		}
	}
}

func TestShuffleTwoTrackScenario(t *testing.T) {
	s := Selection{N: 2, Current: 0, Shuffle: true, History: History{}}

	first, h := Next(s, rand.New(rand.NewPCG(1, 2)))
	if first != 1 {
		t.Fatalf("first Next() = %d, want 1", first)
	}
	if !h.Has(0) || !h.Has(1) {
		t.Fatalf("history after first pick = %v, want {0,1}", h)
	}

	second, h := Next(Selection{N: 2, Current: first, Shuffle: true, History: h}, rand.New(rand.NewPCG(3, 4)))
	if second != 0 {
		t.Fatalf("second Next() = %d, want 0", second)
	}
	if len(h) != 2 {
		t.Errorf("history after reset and pick = %v, want {1,0}", h)
	}
}

func TestShuffleDoesNotMutateInput(t *testing.T) {
	in := NewHistory(2)
	_, out := Next(Selection{N: 4, Current: 0, Shuffle: true, History: in}, fixedRand(0))
	if len(in) != 1 {
		t.Errorf("input history mutated: %v", in)
	}
	if len(out) != 3 {
		t.Errorf("output history = %v, want current, previous history and pick", out)
	}
}

func TestNewShuffleOrder(t *testing.T) {
	order := NewShuffleOrder(10, rand.New(rand.NewPCG(5, 5)))
	sorted := slices.Clone(order)
	slices.Sort(sorted)
	for i, v := range sorted {
		if v != i {
			t.Fatalf("NewShuffleOrder() = %v is not a permutation", order)
		}
	}
	if got := NewShuffleOrder(0, fixedRand(0)); len(got) != 0 {
		t.Errorf("NewShuffleOrder(0) = %v", got)
	}
}

func TestRepeatMode(t *testing.T) {
	m := RepeatOff
	for _, want := range []RepeatMode{RepeatPlaylist, RepeatTrack, RepeatOff} {
		m = m.Next()
		if m != want {
			t.Fatalf("Next() = %s, want %s", m, want)
		}
	}

	if got, err := ParseRepeatMode(""); err != nil || got != RepeatOff {
		t.Errorf("ParseRepeatMode(\"\") = %s, %v", got, err)
	}
	if got, err := ParseRepeatMode("Track"); err != nil || got != RepeatTrack {
		t.Errorf("ParseRepeatMode(Track) = %s, %v", got, err)
	}
	if _, err := ParseRepeatMode("shuffle"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
