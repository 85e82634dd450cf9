package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dbehnke/mercurygs/internal/config"
	"github.com/dbehnke/mercurygs/internal/database"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mercurygs.ini")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

func TestGroundStation_SimulatedLinkIsJournalled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	path := writeConfig(t, `[General]
Timeout=500

[Link]
Medium=sim

[Database]
Enabled=1
Path=`+dbPath+`
`)

	gs, err := NewGroundStation(path)
	if err != nil {
		t.Fatalf("NewGroundStation() error = %v", err)
	}
	if gs.device == nil || gs.repo == nil {
		t.Fatal("simulator or journal not configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.Run(ctx, path) }()

	if !eventually(gs.engine.Running) {
		cancel()
		t.Fatal("engine did not start")
	}
	if err := gs.engine.SendTelemetryRequest(85, false); err != nil {
		t.Fatalf("SendTelemetryRequest() error = %v", err)
	}

	journalled := eventually(func() bool {
		samples, err := gs.repo.SamplesForChannel(85, 1)
		return err == nil && len(samples) == 1
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if !journalled {
		t.Fatal("telemetry sample was not journalled")
	}
	samples, _ := gs.repo.SamplesForChannel(85, 1)
	if samples[0].Reading() != 0x555500FE || !samples[0].Matched {
		t.Errorf("sample = %+v", samples[0])
	}
	counts, err := gs.repo.CountByKind()
	if err != nil {
		t.Fatalf("CountByKind() error = %v", err)
	}
	if counts[database.EVENT_REQUEST] != 1 {
		t.Errorf("request events = %d, want 1", counts[database.EVENT_REQUEST])
	}
	gs.Close()
}

func TestGroundStation_ApplyConfig(t *testing.T) {
	path := writeConfig(t, "[Link]\nMedium=sim\n")
	gs, err := NewGroundStation(path)
	if err != nil {
		t.Fatalf("NewGroundStation() error = %v", err)
	}
	defer gs.Close()

	reloaded := config.NewConfig(path)
	if err := reloaded.LoadFromString("[General]\nTimeout=250\nRate=4\n"); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	gs.applyConfig(reloaded)

	if gs.engine.Timeout() != 250*time.Millisecond {
		t.Errorf("Timeout() = %v, want 250ms", gs.engine.Timeout())
	}
	if gs.engine.Rate() != 4 {
		t.Errorf("Rate() = %v, want 4", gs.engine.Rate())
	}
}

func TestNewGroundStation_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown medium", "[Link]\nMedium=smoke-signal\n"},
		{"zero rate", "[General]\nRate=0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGroundStation(writeConfig(t, tt.body)); err == nil {
				t.Error("NewGroundStation() expected error")
			}
		})
	}

	if _, err := NewGroundStation(filepath.Join(t.TempDir(), "missing.ini")); err == nil {
		t.Error("NewGroundStation() with missing file expected error")
	}
}
