package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/agent"
	"github.com/nevindra/spacebot/internal/config"
	"github.com/nevindra/spacebot/llm"
	"github.com/nevindra/spacebot/memory"
	"github.com/nevindra/spacebot/messaging"
	"github.com/nevindra/spacebot/store/sqlite"
)

func TestChunkTextNeverSplitsLines(t *testing.T) {
	lines := []string{
		strings.Repeat("a", 30),
		strings.Repeat("b", 30),
		strings.Repeat("c", 30),
		strings.Repeat("d", 30),
	}
	text := strings.Join(lines, "\n")
	chunks := ChunkText(text, 70)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		for _, line := range strings.Split(chunk, "\n") {
			found := false
			for _, orig := range lines {
				if line == orig {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("chunk %d contains a split line: %q", i, line)
			}
		}
	}
}

func TestChunkTextOversizedLineGetsOwnChunk(t *testing.T) {
	long := strings.Repeat("x", 500)
	text := "short\n" + long + "\nalso short"
	chunks := ChunkText(text, 100)

	found := false
	for _, chunk := range chunks {
		if chunk == long {
			found = true
		}
	}
	if !found {
		t.Errorf("oversized line should become its own chunk; got %d chunks", len(chunks))
	}
}

func TestChunkTextSmallInputSingleChunk(t *testing.T) {
	chunks := ChunkText("tiny", 100)
	if len(chunks) != 1 || chunks[0] != "tiny" {
		t.Errorf("expected one chunk, got %v", chunks)
	}
}

func TestChunkTextReassembles(t *testing.T) {
	text := "one\ntwo\nthree\nfour\nfive"
	chunks := ChunkText(text, 10)
	if got := strings.Join(chunks, "\n"); got != text {
		t.Errorf("chunks lost content: %q", got)
	}
}

func TestSupportedFile(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"notes.md", true},
		{"data.jsonl", true},
		{"paper.PDF", true},
		{"noextension", true},
		{"binary.exe", false},
		{"image.png", false},
	}
	for _, c := range cases {
		if got := SupportedFile(c.path); got != c.want {
			t.Errorf("SupportedFile(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}

func TestContentHashStable(t *testing.T) {
	a := ContentHash("same content")
	b := ContentHash("same content")
	if a != b {
		t.Error("hash must be stable")
	}
	if len(a) != 64 {
		t.Errorf("expected sha256 hex, got %d chars", len(a))
	}
	if a == ContentHash("different") {
		t.Error("different content must hash differently")
	}
}

func TestScanDirOrdersByModTime(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.txt")
	newer := filepath.Join(dir, "newer.txt")
	os.WriteFile(old, []byte("old"), 0o644)
	os.WriteFile(newer, []byte("newer"), 0o644)

	// Nudge mtimes apart deterministically.
	oldInfo, _ := os.Stat(old)
	os.Chtimes(newer, oldInfo.ModTime().Add(2e9), oldInfo.ModTime().Add(2e9))

	os.WriteFile(filepath.Join(dir, ".hidden"), []byte("skip"), 0o644)
	os.WriteFile(filepath.Join(dir, "skip.exe"), []byte("skip"), 0o644)

	files, err := ScanDir(dir)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
	if filepath.Base(files[0]) != "old.txt" || filepath.Base(files[1]) != "newer.txt" {
		t.Errorf("wrong order: %v", files)
	}
}

// --- resumability (scenario 4) ---

// chunkTransport fails chunks whose content contains the failure marker on
// the first pass, succeeds afterwards.
type chunkTransport struct {
	mu        sync.Mutex
	failFirst string
	failed    bool
	processed []string
}

func (c *chunkTransport) Complete(_ context.Context, _ string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	user := req.Messages[len(req.Messages)-1].Content
	if c.failFirst != "" && strings.Contains(user, c.failFirst) && !c.failed {
		c.failed = true
		return spacebot.CompletionResponse{}, &spacebot.ErrHTTP{Status: 400, Body: "provider rejected"}
	}
	c.processed = append(c.processed, user)
	return spacebot.CompletionResponse{Choice: []spacebot.AssistantContent{{Text: "saved"}}}, nil
}

func testLoop(t *testing.T, transport llm.Transport, ingestDir string) (*Loop, *sqlite.Store) {
	t.Helper()
	store := sqlite.New(filepath.Join(t.TempDir(), "ingest.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manager := llm.NewManager(config.LLMConfig{}, nil)
	manager.RegisterProvider(llm.ProviderConfig{Name: "fake"}, transport)

	d := config.DefaultConfig().Defaults
	d.Routing.Branch = "fake/model"
	d.Ingestion.ChunkSize = 40

	deps := agent.Deps{
		AgentID:   "test",
		Store:     store,
		LLM:       manager,
		Runtime:   config.NewRuntimeConfig(d),
		Events:    spacebot.NewEventBus(nil),
		Memory:    memory.NewStoreSearch(store, nil),
		Messaging: messaging.NewManager(nil),
		IngestDir: ingestDir,
	}
	return NewLoop(deps), store
}

func TestProcessFileResumesAfterChunkFailure(t *testing.T) {
	dir := t.TempDir()
	// 10 lines of ~30 chars with chunk_size 40 → one line per chunk.
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, strings.Repeat(string(rune('a'+i)), 30))
	}
	content := strings.Join(lines, "\n")
	path := filepath.Join(dir, "doc.txt")
	os.WriteFile(path, []byte(content), 0o644)

	transport := &chunkTransport{failFirst: lines[4]}
	loop, store := testLoop(t, transport, dir)
	ctx := context.Background()

	// First pass: chunk 4 fails; the file and progress rows survive.
	if err := loop.ProcessFile(ctx, path); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("source file must be retained after a chunk failure")
	}
	hash := ContentHash(content)
	done, err := store.CompletedChunks(ctx, hash)
	if err != nil {
		t.Fatalf("completed chunks: %v", err)
	}
	if len(done) != 9 {
		t.Errorf("expected 9 completed chunks after failure, got %d", len(done))
	}
	if done[4] {
		t.Error("failed chunk must not be marked complete")
	}

	// Second pass: only chunk 4 is retried; then full cleanup.
	before := len(transport.processed)
	if err := loop.ProcessFile(ctx, path); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	retried := len(transport.processed) - before
	if retried != 1 {
		t.Errorf("expected exactly 1 chunk retried, got %d", retried)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("source file must be deleted after full success")
	}
	done, _ = store.CompletedChunks(ctx, hash)
	if len(done) != 0 {
		t.Errorf("progress rows must be deleted after full success, got %d", len(done))
	}
}

func TestProcessFileDeletesEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	os.WriteFile(path, []byte("   \n  "), 0o644)

	loop, _ := testLoop(t, &chunkTransport{}, dir)
	if err := loop.ProcessFile(context.Background(), path); err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("empty file should be deleted")
	}
}

// ensure the ingestion agent is wired with memory tools
func TestProcessChunkExposesMemoryTools(t *testing.T) {
	var sawTools bool
	transport := &scripted{fn: func(req spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
		for _, d := range req.Tools {
			if d.Name == "memory_save" {
				sawTools = true
			}
		}
		return spacebot.CompletionResponse{Choice: []spacebot.AssistantContent{{Text: "ok"}}}, nil
	}}
	dir := t.TempDir()
	loop, _ := testLoop(t, transport, dir)
	if err := loop.processChunk(context.Background(), "facts", "f.txt", 1, 1); err != nil {
		t.Fatalf("process chunk: %v", err)
	}
	if !sawTools {
		t.Error("ingestion agent should carry memory_save")
	}
}

type scripted struct {
	fn func(req spacebot.CompletionRequest) (spacebot.CompletionResponse, error)
}

func (s *scripted) Complete(_ context.Context, _ string, req spacebot.CompletionRequest) (spacebot.CompletionResponse, error) {
	return s.fn(req)
}
