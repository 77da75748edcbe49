package toolbridge

import (
	"encoding/json"
	"strings"
	"testing"
)

var readFileOnly = []string{"read_file"}

func argsOf(t *testing.T, raw string) map[string]any {
	t.Helper()
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	return args
}

func TestExtractAttributeTagForm(t *testing.T) {
	calls, remainder := Extract("Sure, let me look.\n<read_file><path>/tmp/a.txt</path></read_file>", readFileOnly)

	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].ID != "call_read_file_1" {
		t.Errorf("got id %q", calls[0].ID)
	}
	if calls[0].Type != "function" || calls[0].Function.Name != "read_file" {
		t.Errorf("got %+v", calls[0])
	}
	if args := argsOf(t, calls[0].Function.Arguments); args["uri"] != "/tmp/a.txt" {
		t.Errorf("path should normalize to uri, got %v", args)
	}
	if remainder != "Sure, let me look." {
		t.Errorf("got remainder %q", remainder)
	}
}

func TestExtractUriSpellingAccepted(t *testing.T) {
	calls, _ := Extract("<read_file><uri>/etc/hosts</uri></read_file>", readFileOnly)
	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
	if args := argsOf(t, calls[0].Function.Arguments); args["uri"] != "/etc/hosts" {
		t.Errorf("got %v", args)
	}
}

func TestExtractOrdinalIDs(t *testing.T) {
	text := "<read_file><path>/a</path></read_file><read_file><path>/b</path></read_file>"
	calls, remainder := Extract(text, readFileOnly)

	if len(calls) != 2 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].ID != "call_read_file_1" || calls[1].ID != "call_read_file_2" {
		t.Errorf("got ids %q, %q", calls[0].ID, calls[1].ID)
	}
	if remainder != "" {
		t.Errorf("got remainder %q", remainder)
	}
}

func TestExtractCrossToolTextOrder(t *testing.T) {
	text := "<write_file><path>/b</path></write_file><read_file><path>/a</path></read_file>"
	calls, remainder := Extract(text, []string{"read_file", "write_file"})

	if len(calls) != 2 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].Function.Name != "write_file" || calls[1].Function.Name != "read_file" {
		t.Errorf("calls should follow textual order, got %q, %q",
			calls[0].Function.Name, calls[1].Function.Name)
	}
	if calls[0].ID != "call_write_file_1" || calls[1].ID != "call_read_file_2" {
		t.Errorf("got ids %q, %q", calls[0].ID, calls[1].ID)
	}
	if remainder != "" {
		t.Errorf("got remainder %q", remainder)
	}
}

func TestExtractStripsStrayTags(t *testing.T) {
	_, remainder := Extract("before </read_file> after", readFileOnly)
	if strings.Contains(remainder, "read_file") {
		t.Errorf("stray tag not stripped: %q", remainder)
	}
	if remainder != "before  after" {
		t.Errorf("got %q", remainder)
	}
}

func TestExtractUndeclaredToolIgnored(t *testing.T) {
	text := "<read_file><path>/a</path></read_file>"
	calls, remainder := Extract(text, []string{"other_tool"})
	if len(calls) != 0 {
		t.Fatalf("undeclared tool should not match, got %d calls", len(calls))
	}
	if remainder != text {
		t.Errorf("got %q", remainder)
	}
}

func TestExtractCallBlockForm(t *testing.T) {
	text := `thinking... <tool_call>{"name": "search", "arguments": {"query": "go testing"}}</tool_call> done`
	calls, remainder := Extract(text, []string{"search"})

	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].Function.Name != "search" || calls[0].ID != "call_search_1" {
		t.Errorf("got %+v", calls[0])
	}
	if args := argsOf(t, calls[0].Function.Arguments); args["query"] != "go testing" {
		t.Errorf("got %v", args)
	}
	if remainder != "thinking...  done" {
		t.Errorf("got %q", remainder)
	}
}

func TestExtractCallBlockMalformedJSONSkipped(t *testing.T) {
	text := `<tool_call>{broken json</tool_call> tail`
	calls, remainder := Extract(text, []string{"search"})
	if len(calls) != 0 {
		t.Fatalf("got %d calls", len(calls))
	}
	// The block is still stripped even though its body was unusable.
	if strings.Contains(remainder, "tool_call") {
		t.Errorf("block not stripped: %q", remainder)
	}
}

func TestExtractToolUseListFallback(t *testing.T) {
	text := `[{"type": "tool_use", "id": "x", "name": "read_file", "input": {"uri": "/tmp/a"}}]`
	calls, remainder := Extract(text, readFileOnly)

	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
	if args := argsOf(t, calls[0].Function.Arguments); args["uri"] != "/tmp/a" {
		t.Errorf("got %v", args)
	}
	if remainder != "" {
		t.Errorf("list fallback should consume the whole text, got %q", remainder)
	}
}

func TestExtractToolUseListSingleQuotes(t *testing.T) {
	text := `[{'type': 'tool_use', 'id': 'x', 'name': 'read_file', 'input': {'uri': '/tmp/a'}}]`
	calls, _ := Extract(text, readFileOnly)
	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
}

func TestExtractToolUseListNotAttemptedAfterOtherMatch(t *testing.T) {
	text := `<read_file><path>/a</path></read_file>[{"type": "tool_use", "name": "read_file", "input": {"uri": "/b"}}]`
	calls, _ := Extract(text, readFileOnly)
	if len(calls) != 1 {
		t.Errorf("list fallback should be skipped once a call was found, got %d", len(calls))
	}
}

func TestExtractToolUseListUnparseableAbandoned(t *testing.T) {
	text := `[{'type': 'tool_use', 'name': 'read_file' broken`
	calls, remainder := Extract(text, readFileOnly)
	if len(calls) != 0 {
		t.Fatalf("got %d calls", len(calls))
	}
	if remainder != text {
		t.Errorf("got %q", remainder)
	}
}

func TestExtractPlainTextIdempotent(t *testing.T) {
	text := "  Just a normal answer with <b>html</b> but no tools.  "
	calls, remainder := Extract(text, readFileOnly)
	if len(calls) != 0 {
		t.Fatalf("got %d calls", len(calls))
	}
	if remainder != strings.TrimSpace(text) {
		t.Errorf("got %q", remainder)
	}

	again, remainder2 := Extract(remainder, readFileOnly)
	if len(again) != 0 || remainder2 != remainder {
		t.Error("extract should be idempotent on its own remainder")
	}
}

func TestExtractNoToolsDeclared(t *testing.T) {
	calls, remainder := Extract("<read_file><path>/a</path></read_file>", nil)
	if len(calls) != 0 {
		t.Fatalf("got %d calls", len(calls))
	}
	if remainder == "" {
		t.Error("text should survive untouched when no tools are declared")
	}
}
