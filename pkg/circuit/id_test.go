package circuit

import (
	"errors"
	"strings"
	"testing"
)

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if !id.Valid() {
			t.Fatal("generated identity must carry a secret")
		}
		if seen[id.ID()] {
			t.Fatalf("duplicate circuit id %s", id.ID())
		}
		seen[id.ID()] = true
	}
}

func TestNewIDWithSecret(t *testing.T) {
	id, err := NewIDWithSecret("c1", "s3cret")
	if err != nil {
		t.Fatalf("NewIDWithSecret error: %v", err)
	}
	if id.ID() != "c1" || id.Secret() != "s3cret" {
		t.Errorf("id = %s secret = %s", id.ID(), id.Secret())
	}

	if _, err := NewIDWithSecret("c2", ""); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("empty secret = %v, want ErrMissingSecret", err)
	}
}

func TestIDMatchesSecret(t *testing.T) {
	id := NewID()
	if !id.MatchesSecret(id.Secret()) {
		t.Error("identity must match its own secret")
	}
	if id.MatchesSecret("") {
		t.Error("empty secret must not match")
	}
	if id.MatchesSecret(id.Secret() + "x") {
		t.Error("longer secret must not match")
	}
	if id.MatchesSecret(NewID().Secret()) {
		t.Error("another circuit's secret must not match")
	}
}

func TestIDStringHidesSecret(t *testing.T) {
	id := NewID()
	if strings.Contains(id.String(), id.Secret()) {
		t.Error("String must not expose the secret")
	}
	if id.String() != id.ID() {
		t.Errorf("String = %q, want public id %q", id.String(), id.ID())
	}
}
