package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	spacebot "github.com/nevindra/spacebot"
)

func TestStatusRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, spacebot.NopLogger())
	d.AgentIDs = func() []string { return []string{"main", "aux"} }
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	reply, err := Send(dir, Command{Op: "status"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !reply.OK || reply.PID != os.Getpid() {
		t.Errorf("unexpected reply: %+v", reply)
	}
	if len(reply.Agents) != 2 {
		t.Errorf("expected 2 agents, got %v", reply.Agents)
	}
}

func TestShutdownCommandInvokesCallback(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, spacebot.NopLogger())
	called := make(chan struct{}, 1)
	d.OnShutdown = func() { called <- struct{}{} }
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	reply, err := Send(dir, Command{Op: "shutdown"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !reply.Shutdown {
		t.Errorf("expected shutdown ack, got %+v", reply)
	}
	<-called
}

func TestStaleFilesCleanedUp(t *testing.T) {
	dir := t.TempDir()
	// A pid that cannot be alive.
	os.WriteFile(filepath.Join(dir, "spacebot.pid"), []byte(strconv.Itoa(99999999)), 0o644)
	os.WriteFile(filepath.Join(dir, "spacebot.sock"), []byte(""), 0o644)

	d := New(dir, spacebot.NopLogger())
	if err := d.Start(); err != nil {
		t.Fatalf("start should clean stale files: %v", err)
	}
	defer d.Stop()

	data, err := os.ReadFile(filepath.Join(dir, "spacebot.pid"))
	if err != nil {
		t.Fatalf("pid file: %v", err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("pid file should hold our pid, got %s", data)
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, spacebot.NopLogger())
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	d2 := New(dir, spacebot.NopLogger())
	if err := d2.Start(); err == nil {
		d2.Stop()
		t.Fatal("second daemon in the same instance should be refused")
	}
}

func TestUnknownOp(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, spacebot.NopLogger())
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	reply, err := Send(dir, Command{Op: "dance"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Error == "" {
		t.Error("expected error for unknown op")
	}
}
