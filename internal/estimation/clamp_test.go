package estimation

import (
	"testing"

	"github.com/smukkama/flow-imputer/internal/window"
)

func points(insides, outsides []int) []window.Point {
	out := make([]window.Point, len(insides))
	for i := range insides {
		out[i] = window.Point{Inside: insides[i], Outside: outsides[i]}
	}
	return out
}

func TestSlotLimits(t *testing.T) {
	limits := SlotLimits(points([]int{40, 45, 50, 55, 60}, []int{30, 35, 40, 45, 50}))

	if !limits.Active {
		t.Fatal("Expected active limits with five points")
	}
	if limits.Inside != (Bounds{Lower: 30, Upper: 70}) {
		t.Errorf("Unexpected inside bounds %+v", limits.Inside)
	}
	if limits.Outside != (Bounds{Lower: 20, Upper: 60}) {
		t.Errorf("Unexpected outside bounds %+v", limits.Outside)
	}

	if SlotLimits(points([]int{1, 2}, []int{1, 2})).Active {
		t.Error("Expected inactive limits with two points")
	}

	low := SlotLimits(points([]int{0, 0, 10, 10}, []int{0, 0, 0, 0}))
	if low.Inside.Lower != 0 {
		t.Errorf("Expected lower fence floored at 0, got %v", low.Inside.Lower)
	}
}

func TestClamp(t *testing.T) {
	slot := SlotLimits(points([]int{40, 45, 50, 55, 60}, []int{30, 35, 40, 45, 50}))
	reversed := SlotLimits(points([]int{10, 10, 10}, []int{30, 30, 30}))
	fractional := SlotLimits(points([]int{10, 10, 11, 12}, []int{0, 0, 0, 0}))

	tests := []struct {
		name    string
		counts  Counts
		limits  Limits
		inside  int
		outside int
	}{
		{"inside fences", Counts{Inside: 50, Outside: 40}, slot, 50, 40},
		{"clamped to fences", Counts{Inside: 200, Outside: 10}, slot, 70, 20},
		{"balance redistribution", Counts{Inside: 8, Outside: 12}, Limits{}, 11, 9},
		{"negative floored", Counts{Inside: -5, Outside: -3}, Limits{}, 0, 0},
		{"rounding", Counts{Inside: 14.6, Outside: 12.4}, Limits{}, 15, 12},
		{"rounds up into fence", Counts{Inside: 0, Outside: 0}, fractional, 9, 0},
		{"balance wins over fences", Counts{Inside: 10, Outside: 30}, reversed, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inside, outside := Clamp(tt.counts, tt.limits)
			if inside != tt.inside || outside != tt.outside {
				t.Errorf("Clamp(%+v) = %d/%d, want %d/%d", tt.counts, inside, outside, tt.inside, tt.outside)
			}
		})
	}
}

func TestClamp_BalanceOverridesOutsideFence(t *testing.T) {
	// inside history sits entirely below outside history
	limits := SlotLimits(points([]int{10, 10, 10}, []int{30, 30, 30}))

	inside, outside := Clamp(Counts{Inside: 12, Outside: 28}, limits)

	if outside > inside {
		t.Fatalf("Expected inside >= outside, got %d/%d", inside, outside)
	}
	if inside != 10 {
		t.Errorf("Expected inside held at its fence 10, got %d", inside)
	}
	if float64(outside) >= limits.Outside.Lower {
		t.Errorf("Expected outside pulled below its lower fence %v, got %d", limits.Outside.Lower, outside)
	}
}
