// Package render turns lesson markdown into HTML previews with syntax highlighting.
package render

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	md_html "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/mmarkdown/mmark/v2/lang"
	"github.com/mmarkdown/mmark/v2/mast"
	"github.com/mmarkdown/mmark/v2/mparser"
	"github.com/mmarkdown/mmark/v2/render/mhtml"
	"github.com/rs/zerolog"

	"github.com/debemdeboas/lectern/internal/cache"
	"github.com/debemdeboas/lectern/internal/util"
)

const (
	EngineMmark   = "mmark"
	EngineClassic = "classic"
)

var renderLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	renderLogger = l
}

var regexCallout = regexp.MustCompile(`//\s*<<(\d+)>>`)

// Preview is a rendered draft.
type Preview struct {
	HTML   string `json:"html"`
	Title  string `json:"title,omitempty"`
	Hash   string `json:"hash"`
	Theme  string `json:"theme"`
	Cached bool   `json:"cached"`
}

// Renderer renders markdown with one engine. It keeps the latest preview per key, so a
// key holds at most one rendered draft.
type Renderer struct {
	engine       string
	defaultTheme string

	previews *cache.Cache[string, Preview]
	// Serializes the check-render-set sequence so concurrent misses render once.
	mu sync.Mutex
}

func NewRenderer(engine, defaultTheme string) *Renderer {
	if engine == "" {
		engine = EngineMmark
	}
	return &Renderer{
		engine:       engine,
		defaultTheme: defaultTheme,
		previews:     cache.NewCache[string, Preview](),
	}
}

// Render returns the preview of md highlighted with theme, or the default theme if empty.
// The result replaces whatever was cached for key unless content and theme are unchanged.
func (r *Renderer) Render(key string, md []byte, theme string) Preview {
	if theme == "" {
		theme = r.defaultTheme
	}
	hash := util.ContentHash(md)

	if p, found := r.lookup(key, hash, theme); found {
		renderLogger.Debug().Str("key", key).Str("contentHash", hash).Msg("Cache hit for rendered markdown")
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, found := r.lookup(key, hash, theme); found {
		return p
	}

	renderLogger.Debug().Str("key", key).Str("contentHash", hash).Str("highlightTheme", theme).Msg("Cache miss for rendered markdown")

	var p Preview
	switch r.engine {
	case EngineClassic:
		p = renderClassicPreview(md, theme)
	default:
		out, info := RenderMarkdownMmark(md, theme)
		p = Preview{HTML: string(out)}
		if info != nil {
			p.Title = info.Title
		}
	}
	p.Hash = hash
	p.Theme = theme

	r.previews.Set(key, p)
	return p
}

func (r *Renderer) lookup(key, hash, theme string) (Preview, bool) {
	p, found := r.previews.Get(key)
	if !found || p.Hash != hash || p.Theme != theme {
		return Preview{}, false
	}
	p.Cached = true
	return p, true
}

// Forget drops the preview cached for key.
func (r *Renderer) Forget(key string) {
	r.previews.Delete(key)
}

// Len is the number of cached previews.
func (r *Renderer) Len() int {
	return r.previews.Len()
}

func renderClassicPreview(md []byte, theme string) Preview {
	var title string
	if fm, err := util.GetFrontMatter(md); err == nil {
		title = fm.Title
		md = util.StripFrontMatter(md)
	}
	return Preview{HTML: string(RenderMarkdownClassic(md, theme)), Title: title}
}

func HighlightCode(code, language, highlightTheme string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	style := styles.Get(highlightTheme)
	err = Formatter().Format(&buf, style, iterator)
	if err != nil {
		return code
	}

	res := html.UnescapeString(buf.String())
	res = regexCallout.ReplaceAllString(res, "<span class=\"callout\">$1</span>")
	return res
}

func codeBlockHook(w io.Writer, node ast.Node, entering bool, highlightTheme string) bool {
	code, ok := node.(*ast.CodeBlock)
	if !ok || !entering {
		return false
	}
	var lang string
	if info := code.Info; info != nil {
		lang = string(info)
	}
	fmt.Fprintf(w, "<div class=\"highlight\">%s</div>", HighlightCode(string(code.Literal), lang, highlightTheme))
	return true
}

func RenderMarkdownClassic(md []byte, highlightTheme string) []byte {
	opts := md_html.RendererOptions{
		Flags:    md_html.CommonFlags | md_html.HrefTargetBlank | md_html.FootnoteReturnLinks,
		Comments: [][]byte{[]byte("//"), []byte("#")},
		RenderNodeHook: func(w io.Writer, node ast.Node, entering bool) (ast.WalkStatus, bool) {
			if codeBlockHook(w, node, entering, highlightTheme) {
				return ast.GoToNext, true
			}

			if callout, ok := node.(*ast.Callout); ok && entering {
				fmt.Fprintf(w, "<span class=\"callout\">%s</span>", callout.ID)
				return ast.GoToNext, true
			}

			return ast.GoToNext, false
		},
	}

	doc := parser.NewWithExtensions(
		parser.Tables | parser.FencedCode | parser.Autolink | parser.Strikethrough | parser.SpaceHeadings |
			parser.HeadingIDs | parser.BackslashLineBreak | parser.SuperSubscript | parser.DefinitionLists | parser.MathJax |
			parser.AutoHeadingIDs | parser.Footnotes | parser.OrderedListStart | parser.Attributes |
			parser.NonBlockingSpace,
	).Parse(md)

	return markdown.Render(doc, md_html.NewRenderer(opts))
}

func RenderMarkdownMmark(md []byte, highlightTheme string) ([]byte, *mast.TitleData) {
	md = markdown.NormalizeNewlines(md)

	p := parser.NewWithExtensions(mparser.Extensions | parser.NoIntraEmphasis)

	var info *mast.TitleData

	p.Opts = parser.Options{
		ParserHook: func(data []byte) (ast.Node, []byte, int) {
			node, data, consumed := mparser.Hook(data)
			if t, ok := node.(*mast.Title); ok {
				info = t.TitleData
			}
			return node, data, consumed
		},
		// Drafts must not pull in local files.
		ReadIncludeFn: func(from, path string, address []byte) []byte { return nil },
		Flags:         parser.FlagsNone,
	}

	doc := markdown.Parse(md, p)

	mparser.AddIndex(doc)

	language := "en"
	if info != nil && info.Language != "" {
		language = info.Language
	}

	mhtmlOpts := mhtml.RendererOptions{
		Language: lang.New(language),
	}

	opts := md_html.RendererOptions{
		Comments: [][]byte{[]byte("//"), []byte("#")},
		RenderNodeHook: func(w io.Writer, node ast.Node, entering bool) (ast.WalkStatus, bool) {
			if codeBlockHook(w, node, entering, highlightTheme) {
				return ast.GoToNext, true
			}
			return mhtmlOpts.RenderHook(w, node, entering)
		},
		Flags: md_html.CommonFlags | md_html.FootnoteNoHRTag | md_html.FootnoteReturnLinks,
	}

	return markdown.Render(doc, md_html.NewRenderer(opts)), info
}
