package pipeline_test

import (
	"strings"
	"testing"

	"github.com/alexey-kott/youdo-watcher/internal/model"
	"github.com/alexey-kott/youdo-watcher/internal/notify"
	"github.com/alexey-kott/youdo-watcher/internal/pipeline"
)

// ── BuildMessage ───────────────────────────────────────────────────────────

func TestBuildMessage_AllFields(t *testing.T) {
	task := model.Task{
		ID:          42,
		Name:        "Fix the sink",
		PriceAmount: "1000 rub",
		Description: "Kitchen sink leaks.",
	}

	got := pipeline.BuildMessage(task)

	for _, want := range []string{
		"Fix the sink",
		"Budget: 1000 rub",
		"Kitchen sink leaks.",
		"https://youdo.com/t42",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("message missing %q:\n%s", want, got)
		}
	}
}

func TestBuildMessage_AbsentFieldsFallBack(t *testing.T) {
	got := pipeline.BuildMessage(model.Task{ID: 1, Name: "Bare task"})

	if want := "Budget: not specified"; !strings.Contains(got, want) {
		t.Errorf("message missing %q:\n%s", want, got)
	}
	if strings.Count(got, "not specified") != 2 {
		t.Errorf("expected budget and description fallbacks:\n%s", got)
	}
}

func TestBuildMessage_EscapesHTML(t *testing.T) {
	got := pipeline.BuildMessage(model.Task{ID: 1, Name: "Assemble <table> & chairs"})

	if strings.Contains(got, "<table>") {
		t.Errorf("title not escaped:\n%s", got)
	}
	if !strings.Contains(got, "&lt;table&gt; &amp; chairs") {
		t.Errorf("expected escaped title:\n%s", got)
	}
}

// ── SplitBatch ─────────────────────────────────────────────────────────────

func TestSplitBatch_SmallBatchStaysWhole(t *testing.T) {
	got := pipeline.SplitBatch([]string{"first", "second", "third"})

	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0] != "first\n\nsecond\n\nthird" {
		t.Errorf("message = %q", got[0])
	}
}

func TestSplitBatch_SplitsOnItemBoundariesOnly(t *testing.T) {
	// Five 1000-char blocks: 5000+ chars total, so at least two messages.
	blocks := make([]string, 5)
	for i := range blocks {
		blocks[i] = strings.Repeat(string(rune('a'+i)), 1000)
	}

	messages := pipeline.SplitBatch(blocks)

	if len(messages) < 2 {
		t.Fatalf("got %d messages, want at least 2", len(messages))
	}

	var reassembled []string
	for _, msg := range messages {
		if len(msg) > notify.MaxMessageLen {
			t.Errorf("message length %d exceeds ceiling %d", len(msg), notify.MaxMessageLen)
		}
		// Every message must decompose into whole input blocks.
		for _, part := range strings.Split(msg, "\n\n") {
			reassembled = append(reassembled, part)
		}
	}

	if len(reassembled) != len(blocks) {
		t.Fatalf("reassembled %d blocks, want %d", len(reassembled), len(blocks))
	}
	for i, part := range reassembled {
		if part != blocks[i] {
			t.Errorf("block %d was split mid-item", i)
		}
	}
}

func TestSplitBatch_OversizedSingleBlockTruncated(t *testing.T) {
	blocks := []string{strings.Repeat("x", notify.MaxMessageLen+500)}

	messages := pipeline.SplitBatch(blocks)

	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if len(messages[0]) > notify.MaxMessageLen {
		t.Errorf("message length %d exceeds ceiling", len(messages[0]))
	}
	if !strings.HasSuffix(messages[0], "…") {
		t.Error("truncated message should end with an ellipsis")
	}
}

func TestSplitBatch_Empty(t *testing.T) {
	if got := pipeline.SplitBatch(nil); len(got) != 0 {
		t.Errorf("SplitBatch(nil) = %v, want empty", got)
	}
}
