package script_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/rolecall/pkg/script"
)

const cafeYAML = `
id: cafe-order
title: "Ordering at a café"
level: A2
voices:
  A: en-GB-female-1
turns:
  - speaker: A
    text: "Good morning! What can I get you?"
  - speaker: B
    text: "A flat white, please."
  - speaker: A
    text: "Anything else?"
  - speaker: C
    text: "And a croissant for me."
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	s, err := script.LoadFromReader(strings.NewReader(cafeYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if s.ID != "cafe-order" {
		t.Errorf("ID = %q, want %q", s.ID, "cafe-order")
	}
	if s.Len() != 4 {
		t.Errorf("Len = %d, want 4", s.Len())
	}
	if got := s.VoiceFor("A"); got != "en-GB-female-1" {
		t.Errorf("VoiceFor(A) = %q, want en-GB-female-1", got)
	}
	if got := s.VoiceFor("B"); got != "" {
		t.Errorf("VoiceFor(B) = %q, want empty", got)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := script.LoadFromReader(strings.NewReader("id: x\nturns:\n  - speaker: A\n    txt: hi\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		s       script.Script
		wantErr []string
	}{
		{
			name: "valid",
			s:    script.Script{ID: "x", Turns: []script.Turn{{Speaker: "A", Text: "hi"}}},
		},
		{
			name:    "missing id and turns",
			s:       script.Script{},
			wantErr: []string{"id must not be empty", "turns must not be empty"},
		},
		{
			name: "blank speaker and text",
			s: script.Script{ID: "x", Turns: []script.Turn{
				{Speaker: "A", Text: "ok"},
				{Speaker: " ", Text: ""},
			}},
			wantErr: []string{"turns[1]: speaker must not be empty", "turns[1]: text must not be empty"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.s.Validate()
			if len(tc.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate: unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate: expected error, got nil")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestSpeakersAndFirstTurn(t *testing.T) {
	t.Parallel()

	s, err := script.LoadFromReader(strings.NewReader(cafeYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got, want := s.Speakers(), []string{"A", "B", "C"}; !slices.Equal(got, want) {
		t.Errorf("Speakers = %v, want %v", got, want)
	}
	if got := s.FirstTurnOf("C"); got != 3 {
		t.Errorf("FirstTurnOf(C) = %d, want 3", got)
	}
	if got := s.FirstTurnOf("Z"); got != -1 {
		t.Errorf("FirstTurnOf(Z) = %d, want -1", got)
	}
}

func TestColorOf(t *testing.T) {
	t.Parallel()

	if script.ColorOf("A") == script.ColorOf("B") {
		t.Error("speakers A and B share a colour")
	}
	for _, speaker := range []string{"", "Waiter", "a"} {
		if got := script.ColorOf(speaker); got != script.DefaultColor {
			t.Errorf("ColorOf(%q) = %q, want default %q", speaker, got, script.DefaultColor)
		}
	}
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLibrary_Load(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScript(t, dir, "cafe.yaml", cafeYAML)
	writeScript(t, dir, "greet.yml", "id: greet\nturns:\n  - speaker: A\n    text: Hi\n")
	writeScript(t, dir, "notes.txt", "ignored")

	var reloaded int
	lib := script.NewLibrary(dir, script.WithReloadHook(func(n int) { reloaded = n }))
	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded != 2 {
		t.Errorf("reload hook saw %d scripts, want 2", reloaded)
	}

	list := lib.List()
	if len(list) != 2 || list[0].ID != "cafe-order" || list[1].ID != "greet" {
		t.Fatalf("List = %v, want [cafe-order greet]", list)
	}

	if _, err := lib.Get("missing"); !errors.Is(err, script.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLibrary_LoadFailureKeepsPrevious(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScript(t, dir, "greet.yaml", "id: greet\nturns:\n  - speaker: A\n    text: Hi\n")
	lib := script.NewLibrary(dir)
	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	writeScript(t, dir, "broken.yaml", "id: broken\nturns: []\n")
	if err := lib.Load(); err == nil {
		t.Fatal("Load: expected error for invalid script")
	}
	if lib.Len() != 1 {
		t.Errorf("Len = %d after failed reload, want 1", lib.Len())
	}
}

func TestLibrary_DuplicateID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScript(t, dir, "a.yaml", "id: same\nturns:\n  - speaker: A\n    text: Hi\n")
	writeScript(t, dir, "b.yaml", "id: same\nturns:\n  - speaker: B\n    text: Yo\n")
	if err := script.NewLibrary(dir).Load(); err == nil {
		t.Fatal("Load: expected duplicate id error")
	}
}

func TestLibrary_Add(t *testing.T) {
	t.Parallel()

	lib := script.NewLibrary("")
	if err := lib.Add(&script.Script{ID: "x"}); err == nil {
		t.Error("Add: expected validation error")
	}
	if err := lib.Add(&script.Script{ID: "x", Turns: []script.Turn{{Speaker: "A", Text: "hi"}}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := lib.Get("x"); err != nil {
		t.Errorf("Get: %v", err)
	}
}

func TestLibrary_WatchReloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScript(t, dir, "greet.yaml", "id: greet\nturns:\n  - speaker: A\n    text: Hi\n")
	lib := script.NewLibrary(dir)
	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lib.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeScript(t, dir, "cafe.yaml", cafeYAML)

	deadline := time.Now().Add(5 * time.Second)
	for lib.Len() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("library did not reload: Len = %d, want 2", lib.Len())
		}
		time.Sleep(20 * time.Millisecond)
	}
}
