package mesh

import "testing"

func TestAccessCheckerDefaultsToAllow(t *testing.T) {
	reg, _ := newTestRegistry(t)
	checker := AccessChecker{Registry: reg}
	if !checker.Allow("teamA", "teamB.events.ping") {
		t.Fatal("expected default allow with no rules configured")
	}
}

func TestAccessCheckerHonorsDenyRule(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if err := reg.AddAccessRule(AccessRule{From: "teamA", To: "teamB", Action: "deny"}); err != nil {
		t.Fatalf("AddAccessRule: %v", err)
	}
	checker := AccessChecker{Registry: reg}
	if checker.Allow("teamA", "teamB.events.ping") {
		t.Fatal("expected deny rule to block the publish")
	}
	if !checker.Allow("teamC", "teamB.events.ping") {
		t.Fatal("expected unrelated namespace to still be allowed")
	}
}

func TestAccessCheckerWildcardMatches(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if err := reg.AddAccessRule(AccessRule{From: "*", To: "secure", Action: "deny"}); err != nil {
		t.Fatalf("AddAccessRule: %v", err)
	}
	checker := AccessChecker{Registry: reg}
	if checker.Allow("anyone", "secure.vault.open") {
		t.Fatal("expected wildcard-from deny rule to apply")
	}
}
