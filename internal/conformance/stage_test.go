package conformance

import (
	"testing"
	"time"
)

func TestEffectiveTimeout(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		spec    StageSpec
		scale   float64
		hardCap time.Duration
		want    time.Duration
	}{
		{
			name:  "unscaled",
			spec:  StageSpec{Budget: 2 * time.Second},
			scale: 1,
			want:  2 * time.Second,
		},
		{
			name:  "scaled up",
			spec:  StageSpec{Budget: 2 * time.Second},
			scale: 1.5,
			want:  3 * time.Second,
		},
		{
			name:  "zero scale falls back to base",
			spec:  StageSpec{Budget: 2 * time.Second},
			scale: 0,
			want:  2 * time.Second,
		},
		{
			name:    "hard cap binds move-bound stages",
			spec:    StageSpec{Budget: 2 * time.Second, MoveBound: true},
			scale:   3,
			hardCap: 1500 * time.Millisecond,
			want:    1500 * time.Millisecond,
		},
		{
			name:    "hard cap ignored when not move-bound",
			spec:    StageSpec{Budget: 2 * time.Second},
			scale:   3,
			hardCap: 1500 * time.Millisecond,
			want:    6 * time.Second,
		},
		{
			name:    "hard cap above budget leaves it alone",
			spec:    StageSpec{Budget: time.Second, MoveBound: true},
			scale:   1,
			hardCap: 5 * time.Second,
			want:    time.Second,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := tc.spec.EffectiveTimeout(tc.scale, tc.hardCap)
			if got != tc.want {
				t.Fatalf("EffectiveTimeout(%v, %v) = %v, want %v", tc.scale, tc.hardCap, got, tc.want)
			}
		})
	}
}

func TestDefaultStagesOrderingAndFlags(t *testing.T) {
	t.Parallel()

	stages := DefaultStages()
	if len(stages) != 8 {
		t.Fatalf("len(stages) = %d, want 8", len(stages))
	}
	for i, s := range stages {
		if s.Ordinal != i+1 {
			t.Fatalf("stage %s ordinal = %d, want %d", s.Kind, s.Ordinal, i+1)
		}
		if s.Budget <= 0 {
			t.Fatalf("stage %s has no budget", s.Kind)
		}
	}

	critical := map[StageKind]bool{}
	moveBound := map[StageKind]bool{}
	for _, s := range stages {
		critical[s.Kind] = s.Critical
		moveBound[s.Kind] = s.MoveBound
	}

	wantCritical := []StageKind{StageLaunch, StageUCIHandshake, StageIsReady, StageFirstMoveMovetime}
	for _, k := range wantCritical {
		if !critical[k] {
			t.Errorf("stage %s should be critical", k)
		}
	}
	for _, k := range []StageKind{StageNewGame, StageFirstMoveTimeControl, StageMultiSequence, StageGracefulQuit} {
		if critical[k] {
			t.Errorf("stage %s should not be critical", k)
		}
	}
	for _, k := range []StageKind{StageFirstMoveMovetime, StageFirstMoveTimeControl, StageMultiSequence} {
		if !moveBound[k] {
			t.Errorf("stage %s should be move-bound", k)
		}
	}
}

func TestDefaultStagesReturnsFreshSlice(t *testing.T) {
	t.Parallel()

	first := DefaultStages()
	first[0].Budget = time.Hour
	first[0].Critical = false

	second := DefaultStages()
	if second[0].Budget != BudgetLaunch || !second[0].Critical {
		t.Fatalf("mutation leaked into later call: %+v", second[0])
	}
}
