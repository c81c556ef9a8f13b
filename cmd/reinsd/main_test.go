package main

import (
	"context"
	"testing"

	"github.com/adithya0597/reins/pkg/tiers"
)

func TestTierEnvKey(t *testing.T) {
	cases := map[string]string{
		"u1":        "USER_TIER_U1",
		"demo-user": "USER_TIER_DEMO_USER",
		"a.b@c":     "USER_TIER_A_B_C",
	}
	for userID, want := range cases {
		if got := tierEnvKey(userID); got != want {
			t.Errorf("tierEnvKey(%q) = %q, want %q", userID, got, want)
		}
	}
}

func TestEnvTierResolver(t *testing.T) {
	t.Setenv("USER_TIER_DEMO_USER", "l2")

	tier, err := envTierResolver{}.ResolveTier(context.Background(), "demo-user")
	if err != nil {
		t.Fatal(err)
	}
	if tier != tiers.L2 {
		t.Errorf("tier = %s, want l2", tier)
	}

	tier, err = envTierResolver{}.ResolveTier(context.Background(), "unset-user")
	if err != nil {
		t.Fatal(err)
	}
	if tier != tiers.L0 {
		t.Errorf("unset user tier = %s, want l0", tier)
	}
}
