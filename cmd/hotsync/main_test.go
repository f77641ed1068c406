package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hotsync/internal/debounce"
	"hotsync/internal/issues"
	"hotsync/internal/manifest"
	"hotsync/internal/protocol"
	"hotsync/internal/reconciler"
	"hotsync/internal/resource"
	"hotsync/internal/transport"
	"hotsync/internal/update"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunMerge(t *testing.T) {
	logger = zap.NewNop()
	a := writeFile(t, "a.json", `{"type": "ChunkListUpdate", "chunks": {
		"a.js": {"type": "added", "modules": ["m1"]},
		"b.js": {"type": "partial", "added": ["x"]}
	}}`)
	b := writeFile(t, "b.json", `{"type": "ChunkListUpdate", "chunks": {
		"a.js": {"type": "deleted", "modules": ["m1"]},
		"b.js": {"type": "partial", "added": ["y"]}
	}}`)

	output := captureOutput(t, func() {
		require.NoError(t, runMerge(&cobra.Command{}, []string{a, b}))
	})

	var got update.ChunkListUpdate
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.NotContains(t, got.Chunks, update.ChunkPath("a.js"))
	p, ok := got.Chunks["b.js"].(update.Partial)
	require.True(t, ok, "b.js should stay a partial update")
	assert.Equal(t, []update.ModuleID{"x", "y"}, p.Added)
	assert.Empty(t, p.Deleted)
}

func TestRunMerge_InvariantViolation(t *testing.T) {
	logger = zap.NewNop()
	a := writeFile(t, "a.json", `{"chunks": {"a.js": {"type": "added"}}}`)

	err := runMerge(&cobra.Command{}, []string{a, a})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invariant violation")
}

func TestRunMerge_MissingFile(t *testing.T) {
	logger = zap.NewNop()
	err := runMerge(&cobra.Command{}, []string{"/does/not/exist.json", "/nor/this.json"})
	assert.Error(t, err)
}

func TestRunKey(t *testing.T) {
	keyPath, keyHeaders, keyEmptyHeaders = "/a.js", nil, false
	output := captureOutput(t, func() {
		require.NoError(t, runKey(&cobra.Command{}, nil))
	})
	assert.Equal(t, `{"path":"/a.js","headers":null}`, strings.TrimSpace(output))

	keyEmptyHeaders = true
	output = captureOutput(t, func() {
		require.NoError(t, runKey(&cobra.Command{}, nil))
	})
	assert.Equal(t, `{"path":"/a.js","headers":{}}`, strings.TrimSpace(output))

	keyHeaders, keyEmptyHeaders = []string{"b=2", "a=1"}, false
	output = captureOutput(t, func() {
		require.NoError(t, runKey(&cobra.Command{}, nil))
	})
	assert.Equal(t, `{"path":"/a.js","headers":{"a":"1","b":"2"}}`, strings.TrimSpace(output))
}

func TestResourceFromFlags_InvalidHeader(t *testing.T) {
	_, err := resourceFromFlags("/a", []string{"novalue"}, false)
	assert.Error(t, err)

	res, err := resourceFromFlags("/a", []string{"k=v=w"}, false)
	require.NoError(t, err)
	assert.Equal(t, "v=w", res.Headers["k"])
}

func TestRunIssues(t *testing.T) {
	path := writeFile(t, "issues.json", `[
		{"severity": "warning", "category": "other", "filePath": "a.ts", "title": "1"},
		{"severity": "error", "category": "parse", "filePath": "b.ts", "title": "2"},
		{"severity": "warning", "category": "other", "filePath": "c.ts", "title": "3"}
	]`)

	issuesJSON = true
	defer func() { issuesJSON = false }()
	output := captureOutput(t, func() {
		require.NoError(t, runIssues(&cobra.Command{}, []string{path}))
	})

	var got []struct {
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	require.Len(t, got, 3)
	assert.Equal(t, []string{"2", "1", "3"}, []string{got[0].Title, got[1].Title, got[2].Title})
}

func TestRunIssues_Rendered(t *testing.T) {
	path := writeFile(t, "issues.json", `[{"severity": "fatal", "category": "parse", "filePath": "b.ts", "title": "Broken"}]`)

	output := captureOutput(t, func() {
		require.NoError(t, runIssues(&cobra.Command{}, []string{path}))
	})
	assert.Contains(t, output, "Broken")
	assert.Contains(t, output, "FATAL")

	empty := writeFile(t, "empty.json", `[]`)
	output = captureOutput(t, func() {
		require.NoError(t, runIssues(&cobra.Command{}, []string{empty}))
	})
	assert.Contains(t, output, "No issues.")
}

func TestLoadWatchConfig(t *testing.T) {
	t.Setenv("HOTSYNC_URL", "")
	t.Setenv("HOTSYNC_MANIFEST", "")
	t.Setenv("HOTSYNC_LOG_LEVEL", "")

	path := writeFile(t, "hotsync.yaml", "server:\n  url: http://localhost:3000\n")
	_, err := loadWatchConfig(path, false)
	assert.ErrorContains(t, err, "scheme")

	path = writeFile(t, "hotsync.yaml", "server:\n  url: ws://localhost:4000/_hmr\n")
	cfg, err := loadWatchConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:4000/_hmr", cfg.Server.URL)
	assert.True(t, cfg.Logging.DebugMode)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func partialFor(res resource.Resource, module string) protocol.ServerMessage {
	return protocol.ServerMessage{
		Type:     protocol.TypePartial,
		Resource: res,
		Instruction: &update.ChunkListUpdate{Chunks: update.Chunks{
			"a.js": update.Partial{Added: []update.ModuleID{update.ModuleID(module)}},
		}},
	}
}

func nopSender() reconciler.Sender {
	return reconciler.SenderFunc(func(protocol.ClientMessage) error { return nil })
}

type replaySource []protocol.ServerMessage

func (r replaySource) Run(ctx context.Context, handler transport.Handler) error {
	for _, msg := range r {
		if err := handler(msg); err != nil {
			return err
		}
	}
	return nil
}

type blockingSource struct{}

func (blockingSource) Run(ctx context.Context, handler transport.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWatchLoop_RespectsCriticalIssues(t *testing.T) {
	logger = zap.NewNop()
	rec, err := reconciler.New(nopSender(), reconciler.Hooks{})
	require.NoError(t, err)

	res := resource.Resource{Path: "/page.js"}
	applied := make(chan struct{}, 1)
	rec.Subscribe(res, func(protocol.ServerMessage) { applied <- struct{}{} })

	messages := make(chan protocol.ServerMessage)
	loop := &watchLoop{rec: rec, messages: messages, flushEvery: 5 * time.Millisecond, quiet: debounce.New(time.Millisecond)}
	done := make(chan error, 1)
	go func() { done <- loop.run(context.Background()) }()

	messages <- partialFor(res, "m")
	messages <- protocol.ServerMessage{
		Type:     protocol.TypeIssues,
		Resource: res,
		Issues:   []issues.Issue{{Severity: issues.SeverityError, Category: issues.CategoryParse, Title: "boom"}},
	}
	time.Sleep(50 * time.Millisecond)
	close(messages)

	require.NoError(t, <-done)
	assert.Equal(t, 1, rec.Pending(), "blocked by the critical issue")
	assert.Empty(t, applied)
}

// Messages, flush ticks, quiet-period signals and manifest reloads all arrive
// concurrently; run under -race this fails if any of them reaches the
// reconciler or the output writer off the loop goroutine.
func TestWatchLoop_SerializesReconcilerCalls(t *testing.T) {
	logger = zap.NewNop()
	var out bytes.Buffer
	rec, err := reconciler.New(nopSender(), watchHooks(&out))
	require.NoError(t, err)

	a := resource.Resource{Path: "/a.js"}
	b := resource.Resource{Path: "/b.js"}
	set := manifest.NewSet(rec, func(msg protocol.ServerMessage) { printApplied(&out, msg) })
	set.Apply([]resource.Resource{a, b})

	var src replaySource
	for i := 0; i < 200; i++ {
		src = append(src, partialFor(a, fmt.Sprintf("a%d", i)), partialFor(b, fmt.Sprintf("b%d", i)))
		if i%25 == 0 {
			src = append(src, protocol.ServerMessage{Type: protocol.TypeIssues, Resource: a, Issues: []issues.Issue{}})
		}
	}
	src = append(src, protocol.ServerMessage{Type: protocol.TypeIssues, Resource: a, Issues: []issues.Issue{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages := make(chan protocol.ServerMessage)
	manifests := make(chan []resource.Resource)
	loop := &watchLoop{
		rec:        rec,
		set:        set,
		messages:   messages,
		manifests:  manifests,
		flushEvery: time.Millisecond,
		quiet:      debounce.New(time.Millisecond),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			next := []resource.Resource{a, b}
			if i%2 == 1 {
				next = next[:1]
			}
			select {
			case manifests <- next:
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return forwardMessages(gctx, src, messages) })
	g.Go(func() error { return loop.run(gctx) })
	require.NoError(t, g.Wait())

	cancel()
	wg.Wait()

	assert.Equal(t, 0, rec.Pending(), "the final clean issue report flushes")
	assert.Equal(t, 1, rec.Subscribers(a))
	assert.Contains(t, out.String(), "/a.js: applied update")
	assert.Contains(t, out.String(), "/a.js: no issues")
}

func TestForwardMessages_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan protocol.ServerMessage)
	done := make(chan error, 1)
	go func() { done <- forwardMessages(ctx, blockingSource{}, out) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	_, ok := <-out
	assert.False(t, ok, "channel closed when the source stops")
}

func TestForwardMessages_StopsWhenNobodyReads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan protocol.ServerMessage)
	done := make(chan error, 1)
	go func() {
		done <- forwardMessages(ctx, replaySource{{Type: protocol.TypeRestart}}, out)
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("forwardMessages blocked after cancel")
	}
}

func TestPrintApplied(t *testing.T) {
	var buf bytes.Buffer
	res := resource.Resource{Path: "/a.js"}

	printApplied(&buf, protocol.ServerMessage{Type: protocol.TypePartial, Resource: res, Instruction: &update.ChunkListUpdate{
		Chunks: update.Chunks{"x.js": update.Added{}},
	}})
	printApplied(&buf, protocol.ServerMessage{Type: protocol.TypeNotFound, Resource: res})
	printApplied(&buf, protocol.ServerMessage{Type: protocol.TypeRestart, Resource: res})

	assert.Equal(t, "/a.js: applied update (1 chunk(s))\n/a.js: not found on server\n/a.js: restart\n", buf.String())
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
