// Package ingest implements the memory ingestion pipeline: a watched
// directory per agent is scanned on an interval; supported files are read,
// chunked at line boundaries, and each chunk is processed by a short
// memory-ingestion LLM agent. Per-chunk progress is keyed by the SHA-256 of
// the file content, so ingestion resumes exactly where it left off across
// restarts, and a failed chunk leaves the source file and completed-chunk
// rows in place for the next scan.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	spacebot "github.com/nevindra/spacebot"
	"github.com/nevindra/spacebot/agent"
	"github.com/nevindra/spacebot/llm"
	"github.com/nevindra/spacebot/tools/memorytools"
)

// maxChunkTurns bounds the per-chunk ingestion agent.
const maxChunkTurns = 10

// supportedExtensions lists ingestible file types. Files with no extension
// are assumed to be text.
var supportedExtensions = map[string]bool{
	"txt": true, "md": true, "markdown": true,
	"json": true, "jsonl": true,
	"csv": true, "tsv": true,
	"log": true, "xml": true,
	"yaml": true, "yml": true, "toml": true,
	"rst": true, "org": true,
	"html": true, "htm": true,
	"pdf": true,
}

// Loop polls one agent's ingest directory.
type Loop struct {
	deps agent.Deps
}

// NewLoop creates the ingestion loop for an agent.
func NewLoop(deps agent.Deps) *Loop {
	if deps.Logger == nil {
		deps.Logger = spacebot.NopLogger()
	}
	return &Loop{deps: deps}
}

// Run polls until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.deps.Logger.Info("ingestion loop started", "path", l.deps.IngestDir)
	for {
		cfg := l.deps.Runtime.Ingestion()
		interval := time.Duration(cfg.PollIntervalSecs) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}

		if cfg.Enabled {
			files, err := ScanDir(l.deps.IngestDir)
			if err != nil {
				// Directory might not exist yet.
				l.deps.Logger.Debug("failed to scan ingest directory", "error", err)
			}
			for _, path := range files {
				if ctx.Err() != nil {
					return
				}
				if err := l.ProcessFile(ctx, path); err != nil {
					l.deps.Logger.Error("failed to ingest file", "path", path, "error", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// ScanDir lists supported files in the ingest directory, oldest
// modification first, skipping hidden files and subdirectories.
func ScanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read ingest directory %s: %w", dir, err)
	}

	type fileWithTime struct {
		path string
		mod  time.Time
	}
	var files []fileWithTime
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !SupportedFile(path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileWithTime{path: path, mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// SupportedFile reports whether a path looks ingestible.
func SupportedFile(path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return true // no extension: assume text
	}
	return supportedExtensions[strings.ToLower(ext)]
}

// ContentHash is the SHA-256 hex digest of file content — the stable
// identity for progress tracking across restarts.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", sum)
}

// ReadContent reads a file's text. PDFs are extracted on a separate
// goroutine; the call waits for the extract but returns ctx.Err() as soon
// as ctx is cancelled.
func ReadContent(ctx context.Context, path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		type result struct {
			text string
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			text, err := extractPDF(path)
			ch <- result{text: text, err: err}
		}()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r := <-ch:
			if r.err != nil {
				return "", fmt.Errorf("extract pdf %s: %w", path, r.err)
			}
			return r.text, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ChunkText splits text at line boundaries into chunks of at most
// chunkSize characters. A single line longer than chunkSize becomes its
// own chunk — lines are never split.
func ChunkText(text string, chunkSize int) []string {
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if current.Len() > 0 && current.Len()+len(line)+1 > chunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// ProcessFile ingests one file: read, hash, chunk, process the chunks not
// yet recorded as complete, then clean up (full success) or keep
// everything for resume (any failure).
func (l *Loop) ProcessFile(ctx context.Context, path string) error {
	filename := filepath.Base(path)
	logger := l.deps.Logger

	content, err := ReadContent(ctx, path)
	if err != nil {
		return err
	}

	if strings.TrimSpace(content) == "" {
		logger.Info("skipping empty file", "file", filename)
		return os.Remove(path)
	}

	cfg := l.deps.Runtime.Ingestion()
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 4000
	}

	hash := ContentHash(content)
	chunks := ChunkText(content, chunkSize)
	total := len(chunks)

	completed, err := l.deps.Store.CompletedChunks(ctx, hash)
	if err != nil {
		return fmt.Errorf("load ingestion progress: %w", err)
	}
	if err := l.deps.Store.UpsertIngestionFile(ctx, hash, filename, int64(len(content)), total); err != nil {
		return fmt.Errorf("record ingestion file: %w", err)
	}

	if len(completed) > 0 {
		logger.Info("resuming partially ingested file",
			"file", filename, "chunks", total, "already_completed", len(completed))
	} else {
		logger.Info("chunked file for ingestion",
			"file", filename, "chunks", total, "total_chars", len(content))
	}

	hadFailure := false
	for index, chunk := range chunks {
		if completed[index] {
			continue
		}
		logger.Info("processing chunk",
			"file", filename, "chunk", fmt.Sprintf("%d/%d", index+1, total), "chars", len(chunk))

		if err := l.processChunk(ctx, chunk, filename, index+1, total); err != nil {
			logger.Error("failed to process chunk",
				"file", filename, "chunk", fmt.Sprintf("%d/%d", index+1, total), "error", err)
			hadFailure = true
			continue
		}
		if err := l.deps.Store.RecordChunkCompleted(ctx, hash, index, total, filename); err != nil {
			return fmt.Errorf("record chunk completion: %w", err)
		}
	}

	if hadFailure {
		// Keep the source file and progress rows so the next poll cycle
		// resumes where it left off.
		if err := l.deps.Store.CompleteIngestionFile(ctx, hash, "failed"); err != nil {
			return err
		}
		logger.Warn("file ingestion had failures, keeping file and progress for retry",
			"file", filename, "chunks", total)
		return nil
	}

	if err := l.deps.Store.CompleteIngestionFile(ctx, hash, "completed"); err != nil {
		return err
	}
	if err := l.deps.Store.DeleteProgress(ctx, hash); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete ingested file %s: %w", path, err)
	}
	logger.Info("file ingestion complete, file deleted", "file", filename, "chunks", total)
	return nil
}

const ingestionSystemPrompt = `You are a memory-ingestion agent. You receive one chunk of a document. Recall related memories first to avoid duplicates, then save the durable facts from this chunk as short, self-contained memories. Skip boilerplate. When done, reply with a one-line summary of what you saved.`

// processChunk runs a fresh short-lived LLM agent over one chunk with the
// memory tool surface. No history carries over between chunks.
func (l *Loop) processChunk(ctx context.Context, chunk, filename string, number, total int) error {
	routing := l.deps.Runtime.Routing()
	model := llm.ModelForTier(l.deps.LLM, routing, llm.TierBranch)

	tools := spacebot.NewToolServer()
	tools.Add("ingest", memorytools.New(l.deps.Memory, l.deps.Store, ""))

	messages := []spacebot.ChatMessage{
		spacebot.SystemMessage(ingestionSystemPrompt),
		spacebot.UserMessage(fmt.Sprintf(
			"File: %s (chunk %d of %d)\n\n%s", filename, number, total, chunk)),
	}

	for turn := 0; turn < maxChunkTurns; turn++ {
		resp, err := model.Completion(ctx, spacebot.CompletionRequest{
			Messages: messages,
			Tools:    tools.Definitions(),
		})
		if err != nil {
			return err
		}

		calls := resp.ToolCalls()
		messages = append(messages, spacebot.ChatMessage{
			Role: "assistant", Content: resp.Text(), ToolCalls: calls,
		})
		if len(calls) == 0 {
			return nil
		}
		for _, tc := range calls {
			result, err := tools.Execute(ctx, tc.Name, tc.Args)
			content := result.Content
			if err != nil {
				content = "error: " + err.Error()
			} else if result.Error != "" {
				content = "error: " + result.Error
			}
			messages = append(messages, spacebot.ToolResultMessage(tc.ID, content))
		}
	}

	l.deps.Logger.Warn("chunk processing hit max turns",
		"file", filename, "chunk", fmt.Sprintf("%d/%d", number, total))
	return nil
}
