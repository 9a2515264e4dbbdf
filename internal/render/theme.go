package render

import (
	"slices"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/debemdeboas/lectern/internal/cache"
)

var syntaxCSS = cache.NewCache[string, string]()

func SyntaxThemes() []string {
	styleNames := styles.Names()
	slices.Sort(styleNames)
	return styleNames
}

func IsSyntaxTheme(name string) bool {
	_, ok := styles.Registry[name]
	return ok
}

func Formatter() *html.Formatter {
	return html.New(
		html.WithClasses(true),
		html.TabWidth(4),
		html.WithLineNumbers(true),
		html.WrapLongLines(true),
	)
}

// SyntaxCSS returns the stylesheet for the classes Formatter emits under theme.
func SyntaxCSS(theme string) string {
	if css, ok := syntaxCSS.Get(theme); ok {
		return css
	}

	var buf strings.Builder
	style := styles.Get(theme)

	bg := style.Get(chroma.Background)
	if !bg.Colour.IsSet() {
		// Pick a readable text colour when the theme only supplies a background
		luminance := (0.299*float64(bg.Background.Red()) +
			0.587*float64(bg.Background.Green()) +
			0.114*float64(bg.Background.Blue())) / 255
		if luminance > 0.5 {
			buf.WriteString(".chroma { color: #181818; }\n")
		}
	}

	if err := Formatter().WriteCSS(&buf, style); err != nil {
		renderLogger.Error().Err(err).Str("theme", theme).Msg("Failed to write syntax CSS")
		return ""
	}

	css := buf.String()
	syntaxCSS.Set(theme, css)
	return css
}
