package workerreg

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "workers.reg"), nil)
}

// deadPID spawns a short-lived child and waits for it, yielding a pid that
// is certainly not signalable anymore.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run true: %v", err)
	}
	return cmd.Process.Pid
}

func TestRegisterAndList(t *testing.T) {
	r := testRegistry(t)

	if err := r.Register(1234, "fanout unit 3"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Register(5678, ""); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	got, err := r.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected entry count: %d", len(got))
	}
	if got[0].PID != 1234 || got[0].Label != "fanout unit 3" {
		t.Fatalf("entry mismatch: %+v", got[0])
	}
	if got[1].PID != 5678 || got[1].Label != "" {
		t.Fatalf("entry mismatch: %+v", got[1])
	}
}

func TestList_ParsesLeadingTokenOnly(t *testing.T) {
	r := testRegistry(t)
	content := "100 upload batch 7 extra words\nnot-a-pid garbage\n\n200\n"
	if err := os.WriteFile(r.Path(), []byte(content), 0644); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	got, err := r.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected malformed lines skipped, got %d entries", len(got))
	}
	if got[0].PID != 100 || got[0].Label != "upload batch 7 extra words" {
		t.Fatalf("entry mismatch: %+v", got[0])
	}
	if got[1].PID != 200 {
		t.Fatalf("entry mismatch: %+v", got[1])
	}
}

func TestList_AbsentFileIsEmpty(t *testing.T) {
	r := testRegistry(t)

	got, err := r.List()
	if err != nil {
		t.Fatalf("List() on absent file: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty registry, got %d entries", len(got))
	}
}

func TestRegister_RejectsInvalidPID(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(0, ""); err == nil {
		t.Fatal("expected error for pid 0")
	}
	if err := r.Register(-7, ""); err == nil {
		t.Fatal("expected error for negative pid")
	}
}

func TestTerminateAll_LiveAndDeadMix(t *testing.T) {
	r := testRegistry(t)

	live := exec.Command("sleep", "60")
	if err := live.Start(); err != nil {
		t.Fatalf("start sleeper: %v", err)
	}
	defer func() { _ = live.Process.Kill() }()

	// Reap concurrently so the liveness probe sees the exit instead of a
	// zombie, which would still be signalable.
	reaped := make(chan struct{})
	go func() {
		_ = live.Wait()
		close(reaped)
	}()

	if err := r.Register(live.Process.Pid, "live"); err != nil {
		t.Fatalf("register live: %v", err)
	}
	if err := r.Register(deadPID(t), "dead"); err != nil {
		t.Fatalf("register dead: %v", err)
	}

	if err := r.TerminateAll(5 * time.Second); err != nil {
		t.Fatalf("TerminateAll() error: %v", err)
	}

	select {
	case <-reaped:
	case <-time.After(5 * time.Second):
		t.Fatal("live worker did not exit after TerminateAll")
	}
	if NewHandle(live.Process.Pid).IsAlive() {
		t.Fatal("live worker still signalable after TerminateAll")
	}
}

func TestTerminateAll_EmptyRegistryIsNoop(t *testing.T) {
	r := testRegistry(t)
	if err := r.TerminateAll(time.Second); err != nil {
		t.Fatalf("TerminateAll() on empty registry: %v", err)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(42, ""); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Remove(); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := r.Remove(); err != nil {
		t.Fatalf("Remove() on absent file: %v", err)
	}
}

func TestHandle_DeadProcessNotAlive(t *testing.T) {
	if NewHandle(deadPID(t)).IsAlive() {
		t.Fatal("exited child reported alive")
	}
	if NewHandle(0).IsAlive() {
		t.Fatal("pid 0 must never be considered alive")
	}
}
