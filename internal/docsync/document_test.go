package docsync

import (
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRender_SortsRelationsAndRoundTrips(t *testing.T) {
	d := Document{
		UID:    "TASK-A",
		Type:   "Task",
		Title:  "A",
		Status: "Open",
		Props:  map[string]any{"priority": "high", "estimate": 3},
		Relations: map[string][]string{
			"DEPENDS_ON": {"TASK-C", "TASK-B"},
			"DECOMPOSES": {"TASK-D"},
		},
		Body: "Line one.\n\nLine two.",
	}
	out, err := d.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	text := string(out)

	if !strings.HasPrefix(text, "---\n") {
		t.Errorf("missing frontmatter opener:\n%s", text)
	}
	if strings.Index(text, "decomposes:") > strings.Index(text, "depends-on:") {
		t.Errorf("relations not sorted by key:\n%s", text)
	}
	if strings.Index(text, `"[[TASK-B]]"`) > strings.Index(text, `"[[TASK-C]]"`) {
		t.Errorf("targets not sorted:\n%s", text)
	}
	if !strings.Contains(text, "# A\n\nLine one.\n\nLine two.\n") {
		t.Errorf("body not rendered under the heading:\n%s", text)
	}

	again, err := d.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(again) != text {
		t.Error("rendering twice produced different bytes")
	}

	parsed, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := d
	want.Relations = map[string][]string{
		"DEPENDS_ON": {"TASK-B", "TASK-C"},
		"DECOMPOSES": {"TASK-D"},
	}
	if !reflect.DeepEqual(parsed, want) {
		t.Errorf("round trip mismatch\n got %#v\nwant %#v", parsed, want)
	}
}

func TestParse_LegacyLayoutIsStableUnderRerender(t *testing.T) {
	legacy := strings.Join([]string{
		"---",
		"uid: TASK-Legacy",
		"type: Task",
		"title: Legacy",
		"tags: [x]",
		"cssclasses: [y]",
		`depends_on: "[[TASK-Other]]"`,
		"---",
		"",
		"# Legacy",
		"",
		"> [!abstract] Task Context",
		"> **ID:** `TASK-Legacy` | **Status:** `Open`",
		"",
		"## Description",
		"",
		"Body text.",
		"",
		"## 🔄 SYNC CONFLICT: Database Version",
		"",
		"Old text",
		"",
	}, "\r\n")

	first, err := Parse([]byte(legacy))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if first.UID != "TASK-Legacy" || first.Type != "Task" || first.Title != "Legacy" {
		t.Errorf("header = %q/%q/%q", first.UID, first.Type, first.Title)
	}
	if first.Body != "Body text." {
		t.Errorf("Body = %q, want %q", first.Body, "Body text.")
	}
	if first.Conflict != "Old text" {
		t.Errorf("Conflict = %q, want %q", first.Conflict, "Old text")
	}
	if got := first.Relations["DEPENDS_ON"]; !reflect.DeepEqual(got, []string{"TASK-Other"}) {
		t.Errorf("DEPENDS_ON = %v", got)
	}
	if first.Props != nil {
		t.Errorf("presentation keys leaked into props: %v", first.Props)
	}

	rendered, err := first.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := Parse(rendered)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("parse(render(parse(x))) != parse(x)\n got %#v\nwant %#v", second, first)
	}
}

func TestRender_MultilineTitleRoundTrips(t *testing.T) {
	d := Document{UID: "TASK-X", Type: "Task", Title: "Line one\nLine two", Body: "Body text"}
	rendered, err := d.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(rendered), "\n# Line one Line two\n") {
		t.Errorf("heading not collapsed to one line:\n%s", rendered)
	}
	parsed, err := Parse(rendered)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Title != d.Title {
		t.Errorf("Title = %q, want %q", parsed.Title, d.Title)
	}
	if parsed.Body != "Body text" {
		t.Errorf("Body = %q, want %q", parsed.Body, "Body text")
	}
}

func TestParse_KeepsContentCallout(t *testing.T) {
	body := "> [!abstract] Summary\n> quoted\n\nRest"
	d := Document{UID: "TASK-Y", Type: "Task", Title: "Y", Body: body}
	rendered, err := d.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	parsed, err := Parse(rendered)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Body != body {
		t.Errorf("Body = %q, want %q", parsed.Body, body)
	}
}

func TestParse_LegacyCalloutNeedsBothLines(t *testing.T) {
	for _, body := range []string{
		"> [!abstract] Task Context\nplain line",
		"> [!abstract] Task Context",
		"> [!abstract] Overview\n> **ID:** `TASK-Z`",
	} {
		d := Document{UID: "TASK-Z", Type: "Task", Title: "Z", Body: body}
		rendered, err := d.Render()
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		parsed, err := Parse(rendered)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if parsed.Body != body {
			t.Errorf("Body = %q, want %q", parsed.Body, body)
		}
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	d, err := Parse([]byte("# Notes\n\nfree text\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d.UID != "" || d.Title != "Notes" || d.Body != "free text" {
		t.Errorf("got %#v", d)
	}
}

func TestParse_InvalidFrontmatter(t *testing.T) {
	if _, err := Parse([]byte("---\nuid: [unclosed\n---\n\nbody\n")); err == nil {
		t.Fatal("expected an error for malformed frontmatter")
	}
}

func TestNormalize(t *testing.T) {
	a := "Hello   world\n\n\n  second line  \n"
	b := "Hello world\nsecond line"
	if Normalize(a) != Normalize(b) {
		t.Errorf("Normalize(%q) = %q, Normalize(%q) = %q", a, Normalize(a), b, Normalize(b))
	}
	if Normalize("a b") == Normalize("ab") {
		t.Error("Normalize must keep word boundaries")
	}
}

func TestMerge_Rules(t *testing.T) {
	stale := "old text"
	tests := []struct {
		name       string
		in         MergeInput
		wantBody   string
		wantStatus Status
		wantConfl  string
	}{
		{"disk empty", MergeInput{DB: "db", Disk: "  "}, "db", StatusClean, ""},
		{"db empty", MergeInput{DB: "", Disk: "disk"}, "disk", StatusDiskAuthoritative, ""},
		{"disk priority", MergeInput{DB: "X", Disk: "Y", DiskPriority: true}, "Y", StatusDiskAuthoritative, ""},
		{"whitespace only difference", MergeInput{DB: "a  b\n\nc", Disk: "a b\nc"}, "a  b\n\nc", StatusClean, ""},
		{"divergent", MergeInput{DB: "Привет мир", Disk: "Hello world"}, "Hello world", StatusConflict, "Привет мир"},
		{"stale disk after write", MergeInput{DB: "new text", Disk: "old text", Base: &stale}, "new text", StatusClean, ""},
		{"edited disk after write", MergeInput{DB: "new text", Disk: "edited", Base: &stale}, "edited", StatusConflict, "new text"},
		{"stale disk-priority document", MergeInput{DB: "new text", Disk: "old text", Base: &stale, DiskPriority: true}, "new text", StatusClean, ""},
		{"edited disk-priority document", MergeInput{DB: "new text", Disk: "edited", Base: &stale, DiskPriority: true}, "edited", StatusDiskAuthoritative, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.in)
			if got.Body != tt.wantBody || got.Status != tt.wantStatus || got.Conflict != tt.wantConfl {
				t.Errorf("Merge = %+v, want body=%q status=%s conflict=%q", got, tt.wantBody, tt.wantStatus, tt.wantConfl)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	l := NewLayout("/ws")
	if got := FileName(`a/b\c`); got != "a_b_c.md" {
		t.Errorf("FileName = %q", got)
	}
	tests := []struct {
		typ  string
		want string
	}{
		{"Spec", filepath.Join("/ws", ExportDir, "2_Specs", "SPEC-X.md")},
		{"Function", filepath.Join("/ws", ExportDir, "6_Code", "Functions", "SPEC-X.md")},
		{"Mystery", filepath.Join("/ws", ExportDir, "9_Unclassified", "SPEC-X.md")},
	}
	for _, tt := range tests {
		if got := l.Path("SPEC-X", tt.typ); got != tt.want {
			t.Errorf("Path(%s) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if n := k.size(); n != 0 {
		t.Errorf("size = %d after release, want 0", n)
	}
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		k.Lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}
