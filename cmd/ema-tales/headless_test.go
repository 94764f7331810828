package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-tales/core/llms/openai"
	"github.com/koscakluka/ema-tales/core/persistence"
	"github.com/koscakluka/ema-tales/core/session"
	"github.com/koscakluka/ema-tales/internal/config"
	"github.com/koscakluka/ema-tales/internal/paths"
	"github.com/spf13/pflag"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newKeeperServer streams a fixed reply and answers status prompts with a
// status sheet.
func newKeeperServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var body struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		if body.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"门开"}}]}`+"\n\n")
			fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"了。"}}]}`+"\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		sheet := `{\"生理状态\":\"良好\",\"恐惧程度\":\"中\",\"NPC队友\":\"暂无\",\"背包物品\":\"火把\",\"对怪物的认知\":\"暂无\"}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"`+sheet+`"}}]}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestApp(t *testing.T, baseURL string) *app {
	t.Helper()
	root := t.TempDir()
	project := paths.Project{Root: root}
	for _, dir := range []string{project.LogDir(), project.SaveDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	cfg := config.Default()
	return &app{
		cfg:     cfg,
		project: project,
		story:   session.Story{ID: "test", Rule: "COC", Name: "manor", RulePrompt: "rules", Background: "a manor"},
		client:  openai.NewClient("sk-test", openai.WithBaseURL(baseURL)),
		store:   persistence.NewStore(project.SaveDir()),
		journal: persistence.NewJournal(project.LogDir()),
	}
}

func TestRunHeadless_PlaysTurnAndWritesSaveAndReplay(t *testing.T) {
	var requests atomic.Int32
	server := newKeeperServer(t, &requests)
	a := newTestApp(t, server.URL)

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- a.runHeadless(context.Background(), strings.NewReader("推门\nexit\n"), out)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the headless session, output so far:\n%s", out.String())
	}

	if !strings.Contains(out.String(), "门开了。") {
		t.Fatalf("expected the streamed reply in the output, got:\n%s", out.String())
	}
	if got := requests.Load(); got != 2 {
		t.Fatalf("expected a stream and a status request, got %d requests", got)
	}

	saves, err := a.store.List()
	if err != nil {
		t.Fatalf("unexpected error listing saves: %v", err)
	}
	if len(saves) != 1 || saves[0].Kind != persistence.KindAuto {
		t.Fatalf("expected one auto save, got %+v", saves)
	}
	record, err := a.store.Load(saves[0].Path)
	if err != nil {
		t.Fatalf("unexpected error loading the save: %v", err)
	}
	if len(record.History) != 4 || record.History[3].Content != "门开了。" {
		t.Fatalf("unexpected saved history: %+v", record.History)
	}
	if v, _ := record.Status.Get("背包物品"); v != "火把" {
		t.Fatalf("expected the refreshed status to be saved, got %q", v)
	}

	replays, _ := filepath.Glob(filepath.Join(a.project.LogDir(), "REPLAY_*.txt"))
	if len(replays) != 1 {
		t.Fatalf("expected a replay export on exit, got %v", replays)
	}
}

func TestApplyFlags_FlagsWinAndDefaultsFillIn(t *testing.T) {
	cfg := config.Default()
	cfg.Narration.Enabled = true
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var f flags
	flagSet.BoolVar(&f.narration, "narration", false, "")
	if err := flagSet.Parse([]string{"--narration=false"}); err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	f.model = "flag-model"
	f.noAutoSave = true

	applyFlags(cfg, f, flagSet)

	if cfg.LLM.Model != "flag-model" || cfg.Session.AutoSave || cfg.Narration.Enabled {
		t.Fatalf("expected flags to override config, got %+v", cfg)
	}
	if cfg.Session.Rule != defaultRule || cfg.Session.Story != defaultStory {
		t.Fatalf("expected default rule and story, got %q %q", cfg.Session.Rule, cfg.Session.Story)
	}
}
