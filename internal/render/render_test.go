package render

import (
	"strings"
	"sync"
	"testing"
)

func TestRendererMmark(t *testing.T) {
	r := NewRenderer(EngineMmark, "github")

	t.Run("Title block", func(t *testing.T) {
		md := []byte("%%%\ntitle = \"Loops\"\n%%%\n\n# For\n\nIterate.")
		p := r.Render("loops", md, "")

		if p.Title != "Loops" {
			t.Errorf("Expected title %q, got %q", "Loops", p.Title)
		}
		if !strings.Contains(p.HTML, "Iterate.") {
			t.Errorf("Expected body in HTML, got %q", p.HTML)
		}
		if p.Theme != "github" {
			t.Errorf("Expected default theme, got %q", p.Theme)
		}
	})

	t.Run("Code is highlighted", func(t *testing.T) {
		p := r.Render("code", []byte("```go\nfunc main() {}\n```\n"), "monokai")
		if !strings.Contains(p.HTML, `class="highlight"`) {
			t.Errorf("Expected highlight wrapper, got %q", p.HTML)
		}
		if !strings.Contains(p.HTML, "chroma") {
			t.Errorf("Expected chroma classes, got %q", p.HTML)
		}
	})
}

func TestRendererClassic(t *testing.T) {
	r := NewRenderer(EngineClassic, "github")

	p := r.Render("maps", []byte("%%%\ntitle = \"Maps\"\n%%%\n\n## Keys\n\nText with ~~strike~~."), "")
	if p.Title != "Maps" {
		t.Errorf("Expected title %q, got %q", "Maps", p.Title)
	}
	if strings.Contains(p.HTML, "%%%") {
		t.Errorf("Expected front matter to be stripped, got %q", p.HTML)
	}
	if !strings.Contains(p.HTML, "<del>strike</del>") {
		t.Errorf("Expected strikethrough, got %q", p.HTML)
	}
}

func TestRendererCache(t *testing.T) {
	r := NewRenderer(EngineMmark, "github")
	md := []byte("# Cached\n")

	first := r.Render("s1", md, "github")
	if first.Cached {
		t.Error("Expected first render to miss the cache")
	}

	second := r.Render("s1", md, "github")
	if !second.Cached {
		t.Error("Expected second render to hit the cache")
	}
	if second.HTML != first.HTML || second.Hash != first.Hash {
		t.Error("Expected cached preview to match the first render")
	}

	if r.Render("s1", md, "monokai").Cached {
		t.Error("Expected a different theme to miss the cache")
	}

	r.Forget("s1")
	if r.Len() != 0 {
		t.Errorf("Expected empty cache after Forget, got %d", r.Len())
	}
	if r.Render("s1", md, "github").Cached {
		t.Error("Expected a render after Forget to miss the cache")
	}
}

func TestRendererKeepsLatestPreviewPerKey(t *testing.T) {
	r := NewRenderer(EngineMmark, "github")

	draft := ""
	for i := 0; i < 50; i++ {
		draft += "line\n"
		p := r.Render("s1", []byte(draft), "")
		if p.Cached {
			t.Fatalf("Expected revision %d to be rendered, got a cached preview", i)
		}
	}
	r.Render("s2", []byte("# Other\n"), "")

	if r.Len() != 2 {
		t.Errorf("Expected one preview per key, got %d", r.Len())
	}
}

func TestRendererConcurrency(t *testing.T) {
	r := NewRenderer(EngineMmark, "github")
	md := []byte("# Concurrent\n\n```go\nx := 1\n```\n")

	var wg sync.WaitGroup
	results := make([]Preview, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Render("session", md, "")
		}(i)
	}
	wg.Wait()

	misses := 0
	for _, p := range results {
		if !p.Cached {
			misses++
		}
		if p.HTML != results[0].HTML {
			t.Fatal("Expected every caller to see the same HTML")
		}
	}
	if misses != 1 {
		t.Errorf("Expected exactly one render, got %d", misses)
	}
}

func TestHighlightCodeCallouts(t *testing.T) {
	out := HighlightCode("x := 1 // <<1>>", "go", "github")
	if !strings.Contains(out, `<span class="callout">1</span>`) {
		t.Errorf("Expected callout span, got %q", out)
	}
}

func TestSyntaxCSS(t *testing.T) {
	css := SyntaxCSS("monokai")
	if css == "" {
		t.Fatal("Expected CSS for monokai")
	}
	if !strings.Contains(css, ".chroma") {
		t.Errorf("Expected chroma selectors, got %q", css[:min(len(css), 80)])
	}
	if SyntaxCSS("monokai") != css {
		t.Error("Expected cached CSS to be identical")
	}

	if !IsSyntaxTheme("monokai") {
		t.Error("Expected monokai to be a known theme")
	}
	if IsSyntaxTheme("no-such-theme") {
		t.Error("Expected unknown theme to be rejected")
	}
	if len(SyntaxThemes()) == 0 {
		t.Error("Expected at least one syntax theme")
	}
}
