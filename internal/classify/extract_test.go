package classify

import (
	"strings"
	"testing"
	"time"
)

func classifyComplete(t *testing.T, buffer string) *Content {
	t.Helper()
	res := New(DefaultRules()).Classify([]byte(buffer), 10*time.Second)
	if !res.IsComplete {
		t.Fatalf("expected completion for buffer %q", buffer)
	}
	if res.Content == nil {
		t.Fatal("expected parsed content")
	}
	return res.Content
}

func TestResponseTypePriority(t *testing.T) {
	tests := []struct {
		name   string
		buffer string
		want   ResponseType
	}{
		{
			name:   "error beats code",
			buffer: "Error: compilation failed.\n```go\nfunc main() {}\n```",
			want:   TypeError,
		},
		{
			name:   "warning without error",
			buffer: "warning: deprecated API usage.",
			want:   TypeWarning,
		},
		{
			name:   "progress percentage",
			buffer: "Downloading dependencies 45% complete.",
			want:   TypeProgress,
		},
		{
			name:   "thinking",
			buffer: "Let me think about the schema design first.",
			want:   TypeThinking,
		},
		{
			name:   "mixed code and action",
			buffer: "Running the migration now.\n```sql\nALTER TABLE users;\n```",
			want:   TypeMixed,
		},
		{
			name:   "plain code",
			buffer: "Here is the helper.\n```go\nfunc add(a, b int) int { return a + b }\n```",
			want:   TypeCode,
		},
		{
			name:   "file operation",
			buffer: "Created src/app.tsx with the dashboard layout.",
			want:   TypeFileOperation,
		},
		{
			name:   "action only",
			buffer: "Installing dependencies from the lockfile.",
			want:   TypeAction,
		},
		{
			name:   "plain text",
			buffer: "The dashboard is structured around three panels.",
			want:   TypeText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := classifyComplete(t, tt.buffer)
			if content.Type != tt.want {
				t.Errorf("expected type %s, got %s", tt.want, content.Type)
			}
		})
	}
}

func TestExtractFileOps(t *testing.T) {
	content := classifyComplete(t,
		"Created src/index.ts for the entry point.\nModified package.json to add the script.")

	if len(content.FileOps) != 2 {
		t.Fatalf("expected 2 file operations, got %d: %v", len(content.FileOps), content.FileOps)
	}
	if content.FileOps[0].Action != "created" || content.FileOps[0].Path != "src/index.ts" {
		t.Errorf("unexpected first op: %+v", content.FileOps[0])
	}
	if content.FileOps[1].Action != "modified" || content.FileOps[1].Path != "package.json" {
		t.Errorf("unexpected second op: %+v", content.FileOps[1])
	}
}

func TestExtractProgressMarkers(t *testing.T) {
	content := classifyComplete(t, "Build at 80%. Step 3 of 5 finished.")

	if len(content.Progress) != 2 {
		t.Fatalf("expected 2 progress markers, got %d", len(content.Progress))
	}
	if content.Progress[0].Percent != 80 {
		t.Errorf("expected 80 percent, got %d", content.Progress[0].Percent)
	}
	if content.Progress[1].Step != 3 || content.Progress[1].Total != 5 {
		t.Errorf("expected step 3/5, got %d/%d", content.Progress[1].Step, content.Progress[1].Total)
	}
}

func TestExtractURLs(t *testing.T) {
	content := classifyComplete(t, "Preview running at http://localhost:4001 and docs at https://example.com/guide.")

	if len(content.URLs) != 2 {
		t.Fatalf("expected 2 URLs, got %d: %v", len(content.URLs), content.URLs)
	}
	if content.URLs[0] != "http://localhost:4001" {
		t.Errorf("unexpected first URL: %q", content.URLs[0])
	}
}

func TestExtractMultipleCodeBlocks(t *testing.T) {
	content := classifyComplete(t,
		"Two files:\n```go\npackage main\n```\nand\n```\nplain block\n```")

	if len(content.CodeBlocks) != 2 {
		t.Fatalf("expected 2 code blocks, got %d", len(content.CodeBlocks))
	}
	if content.CodeBlocks[0].Language != "go" {
		t.Errorf("expected go language tag, got %q", content.CodeBlocks[0].Language)
	}
	if content.CodeBlocks[1].Language != "" {
		t.Errorf("expected empty language tag, got %q", content.CodeBlocks[1].Language)
	}
}

func TestMainTextStripsCode(t *testing.T) {
	content := classifyComplete(t,
		"The `add` helper is below.\n```go\nfunc add(a, b int) int { return a + b }\n```")

	if strings.Contains(content.Text, "func add") {
		t.Errorf("expected code stripped from main text, got %q", content.Text)
	}
	if !strings.Contains(content.Text, "helper is below") {
		t.Errorf("expected prose preserved, got %q", content.Text)
	}
	if strings.Contains(content.Text, "`add`") {
		t.Errorf("expected inline code stripped, got %q", content.Text)
	}
}

func TestSummaryMetadata(t *testing.T) {
	content := classifyComplete(t, "one two three four five.")

	if content.WordCount != 5 {
		t.Errorf("expected 5 words, got %d", content.WordCount)
	}
	if content.LineCount != 1 {
		t.Errorf("expected 1 line, got %d", content.LineCount)
	}
	if content.ReadTime <= 0 {
		t.Error("expected positive read time")
	}
}
