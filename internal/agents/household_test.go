package agents

import (
	"math"
	"testing"

	"github.com/talgya/gentrify/internal/world"
)

func newHousehold(class Class, income float64) *Household {
	return &Household{
		ID:                 1,
		Class:              class,
		Income:             income,
		HappinessThreshold: 0.5,
		ThresholdMin:       0,
		ThresholdMax:       1,
	}
}

func TestUpdateHappinessRaisesTowardOne(t *testing.T) {
	h := newHousehold(ClassResident, 100)
	h.UpdateHappiness(1, DefaultAlpha)

	want := 0.5 + 0.15*0.5
	if math.Abs(h.HappinessThreshold-want) > 1e-12 {
		t.Errorf("threshold = %v, want %v", h.HappinessThreshold, want)
	}
	if h.LastUtility != 1 {
		t.Errorf("last utility = %v, want 1", h.LastUtility)
	}
	if h.Unhappy {
		t.Error("household unhappy with utility above threshold")
	}
}

func TestUpdateHappinessLowersOnDecline(t *testing.T) {
	h := newHousehold(ClassResident, 100)
	h.LastUtility = 0.8
	h.UpdateHappiness(0.2, DefaultAlpha)

	want := 0.5 - 0.15*0.5
	if math.Abs(h.HappinessThreshold-want) > 1e-12 {
		t.Errorf("threshold = %v, want %v", h.HappinessThreshold, want)
	}
	if !h.Unhappy {
		t.Error("household should be unhappy")
	}
}

func TestUpdateHappinessUnchangedUtility(t *testing.T) {
	h := newHousehold(ClassResident, 100)
	h.LastUtility = 0.3
	h.UpdateHappiness(0.3, DefaultAlpha)
	if h.HappinessThreshold != 0.5 {
		t.Errorf("threshold = %v, want 0.5", h.HappinessThreshold)
	}
}

func TestThresholdStaysInBounds(t *testing.T) {
	h := newHousehold(ClassImmigrant, 100)
	h.ThresholdMin = 0.1
	h.ThresholdMax = 0.9

	// Alternate long runs of gains and losses.
	u := 0.0
	for i := 0; i < 500; i++ {
		if (i/50)%2 == 0 {
			u += 0.01
		} else {
			u -= 0.01
		}
		h.UpdateHappiness(u, DefaultAlpha)
		if h.HappinessThreshold < 0.1 || h.HappinessThreshold > 0.9 {
			t.Fatalf("step %d: threshold = %v out of [0.1, 0.9]", i, h.HappinessThreshold)
		}
	}
}

func TestThresholdNeverNegativeUnderRepeatedLoss(t *testing.T) {
	h := newHousehold(ClassResident, 100)
	u := 1.0
	for i := 0; i < 100; i++ {
		u -= 0.01
		h.UpdateHappiness(u, DefaultAlpha)
	}
	if h.HappinessThreshold < 0 {
		t.Errorf("threshold = %v, want >= 0", h.HappinessThreshold)
	}
}

func TestComputeUtilityResidentQualityOnly(t *testing.T) {
	h := newHousehold(ClassResident, 100)
	ctx := TickContext{Preference: 0.2, MaxQuality: 200}
	neighbors := []*Household{newHousehold(ClassImmigrant, 1)}

	if got := h.ComputeUtility(ctx, 50, neighbors); got != 0.25 {
		t.Errorf("utility = %v, want 0.25", got)
	}
}

func TestComputeUtilityImmigrantBlend(t *testing.T) {
	h := newHousehold(ClassImmigrant, 100)
	ctx := TickContext{Preference: 0.5, MaxQuality: 100}
	neighbors := []*Household{
		newHousehold(ClassImmigrant, 1),
		newHousehold(ClassResident, 1),
		newHousehold(ClassResident, 1),
		newHousehold(ClassImmigrant, 1),
	}

	// 0.5*0.5 + 0.5*0.5
	if got := h.ComputeUtility(ctx, 50, neighbors); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("utility = %v, want 0.5", got)
	}
}

func TestComputeUtilityZeroMaxQuality(t *testing.T) {
	ctx := TickContext{Preference: 1, MaxQuality: 0}
	for _, class := range []Class{ClassResident, ClassImmigrant} {
		h := newHousehold(class, 100)
		got := h.ComputeUtility(ctx, 0, nil)
		if math.IsNaN(got) || got != 0 {
			t.Errorf("%s utility = %v, want 0", class, got)
		}
	}
}

func TestInGroupFractionNoNeighbors(t *testing.T) {
	h := newHousehold(ClassImmigrant, 1)
	if got := h.InGroupFraction(nil); got != 0 {
		t.Errorf("fraction = %v, want 0", got)
	}
}

func TestWantsToMove(t *testing.T) {
	h := newHousehold(ClassResident, 50000)
	if !h.WantsToMove(10) {
		t.Error("quality 10 < income 50000 should trigger a move")
	}
	if h.WantsToMove(50000) {
		t.Error("quality equal to income should not trigger a move")
	}
}

func TestRecordFailureSlumOnlyForImmigrants(t *testing.T) {
	res := newHousehold(ClassResident, 1)
	imm := newHousehold(ClassImmigrant, 1)
	for i := 1; i <= MaxFailedAttempts; i++ {
		if res.RecordFailure(MaxFailedAttempts) {
			t.Fatalf("resident slummed after %d failures", i)
		}
		slum := imm.RecordFailure(MaxFailedAttempts)
		if slum != (i == MaxFailedAttempts) {
			t.Errorf("immigrant failure %d: slum = %v", i, slum)
		}
	}
	if res.FailedAttempts != MaxFailedAttempts {
		t.Errorf("resident failures = %d, want %d", res.FailedAttempts, MaxFailedAttempts)
	}
}

func TestRecordMoveResetsFailures(t *testing.T) {
	h := newHousehold(ClassImmigrant, 1)
	h.FailedAttempts = 3
	h.RecordMove()
	if h.FailedAttempts != 0 || !h.MovedThisStep {
		t.Errorf("after move: failures = %d, moved = %v", h.FailedAttempts, h.MovedThisStep)
	}
}

func TestHouseUpdateQuality(t *testing.T) {
	h := &House{Position: world.Pos{Row: 1, Col: 1}, Quality: 10}
	h.UpdateQuality([]*Household{newHousehold(ClassResident, 100), newHousehold(ClassImmigrant, 300)})
	if h.Quality != 200 {
		t.Errorf("quality = %v, want 200", h.Quality)
	}
}

func TestHouseUpdateQualityNoNeighbors(t *testing.T) {
	h := &House{Quality: 10}
	h.UpdateQuality(nil)
	if h.Quality != 10 {
		t.Errorf("quality = %v, want unchanged 10", h.Quality)
	}
}

func TestCellVacant(t *testing.T) {
	var nilCell *Cell
	if nilCell.Vacant() {
		t.Error("nil cell reported vacant")
	}
	c := &Cell{House: &House{}}
	if !c.Vacant() {
		t.Error("empty house not vacant")
	}
	c.Household = newHousehold(ClassResident, 1)
	if c.Vacant() {
		t.Error("occupied house reported vacant")
	}
	if (&Cell{Slum: &Slum{}}).Vacant() {
		t.Error("slum reported vacant")
	}
}
