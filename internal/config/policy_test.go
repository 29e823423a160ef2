package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yungbote/counselbridge-backend/internal/domain"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}

func TestLoadWithoutPathUsesDefaults(t *testing.T) {
	t.Setenv("COUNSEL_POLICY_PATH", "")
	p, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.TurnCap != 20 || p.ConfidenceThreshold != 0.6 {
		t.Fatalf("unexpected defaults %+v", p)
	}
}

func TestLoadAppliesYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := []byte("turn_cap: 8\nsimilarity_threshold: 0.8\nsession_ttl: 10m\nexclusive_subtypes:\n  - time\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("COUNSEL_POLICY_PATH", path)

	p, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.TurnCap != 8 {
		t.Fatalf("turn_cap overlay lost: %d", p.TurnCap)
	}
	if p.SimilarityThreshold != 0.8 {
		t.Fatalf("similarity overlay lost: %v", p.SimilarityThreshold)
	}
	if p.SessionTTL.Std() != 10*time.Minute {
		t.Fatalf("session_ttl overlay lost: %v", p.SessionTTL.Std())
	}
	if p.IsExclusiveSubtype("economic") {
		t.Fatalf("overlay should replace exclusive subtypes")
	}
	if !p.IsExclusiveSubtype("time") {
		t.Fatalf("time should remain exclusive")
	}
	// Untouched keys keep their defaults.
	if p.ConfidenceThreshold != 0.6 {
		t.Fatalf("unrelated default changed: %v", p.ConfidenceThreshold)
	}
}

func TestLoadRejectsBadOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("turn_cap: -3\n"), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("COUNSEL_POLICY_PATH", path)
	if _, err := Load(); err == nil {
		t.Fatalf("negative turn_cap must be rejected")
	}
}

func TestLoadMissingExplicitPathErrors(t *testing.T) {
	t.Setenv("COUNSEL_POLICY_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("missing explicit policy file must error")
	}
}

func TestPolicyValidateRejectsUnknownCategory(t *testing.T) {
	p := Default()
	p.RequiredCategories = []domain.BoundaryCategory{"vibes"}
	if err := p.Validate(); err == nil {
		t.Fatalf("unknown category must be rejected")
	}
}
