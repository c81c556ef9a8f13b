package tiers

import "testing"

func TestOrdering(t *testing.T) {
	if !(L0 < L1 && L1 < L2 && L2 < L3) {
		t.Fatal("tiers must be totally ordered L0 < L1 < L2 < L3")
	}
}

func TestAtLeast(t *testing.T) {
	cases := []struct {
		tier, min Tier
		want      bool
	}{
		{L0, L1, false},
		{L1, L1, true},
		{L2, L1, true},
		{L3, L2, true},
		{L1, L2, false},
	}
	for _, c := range cases {
		if got := c.tier.AtLeast(c.min); got != c.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", c.tier, c.min, got, c.want)
		}
	}
}

func TestParse(t *testing.T) {
	for _, tier := range AllTiers {
		got, err := Parse(tier.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", tier.String(), err)
		}
		if got != tier {
			t.Errorf("Parse(%q) = %s", tier.String(), got)
		}
	}

	// Case-insensitive with whitespace.
	got, err := Parse("  L2 ")
	if err != nil || got != L2 {
		t.Errorf("Parse(\"  L2 \") = %s, %v", got, err)
	}

	if _, err := Parse("l4"); err == nil {
		t.Error("expected error for unknown tier l4")
	}
	if _, err := Parse(""); err == nil {
		t.Error("expected error for empty tier")
	}
}

func TestValid(t *testing.T) {
	for _, tier := range AllTiers {
		if !tier.Valid() {
			t.Errorf("%s should be valid", tier)
		}
	}
	if Tier(4).Valid() || Tier(-1).Valid() {
		t.Error("out-of-range tiers must be invalid")
	}
}
