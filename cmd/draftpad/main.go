package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/debemdeboas/lectern/internal/autosave"
	"github.com/debemdeboas/lectern/internal/config"
	"github.com/debemdeboas/lectern/internal/editor"
	"github.com/debemdeboas/lectern/internal/logger"
	"github.com/debemdeboas/lectern/internal/model"
	"github.com/debemdeboas/lectern/internal/repository"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	outputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const help = "Lines are appended to the draft. Commands: :save :cancel :status :show :quit"

// pad is a line based editor bound to one autosave session.
type pad struct {
	session *autosave.Session
	scanner *bufio.Scanner

	mu  sync.Mutex
	out io.Writer
}

func newPad(in io.Reader, out io.Writer) *pad {
	return &pad{scanner: bufio.NewScanner(in), out: out}
}

func (p *pad) println(style lipgloss.Style, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, style.Render(fmt.Sprintf(format, args...)))
}

func (p *pad) prompt(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, promptStyle.Render(s))
}

// Publish reports save results as they happen.
// implements autosave.Notifier
func (p *pad) Publish(e autosave.Event) {
	switch e.Kind {
	case autosave.EventSaveSucceeded:
		p.println(outputStyle, "saved at %s", e.At.Format("15:04:05"))
	case autosave.EventSaveFailed:
		p.println(errorStyle, "save failed: %s", e.Error)
	case autosave.EventEntityMissing:
		p.println(errorStyle, "%s no longer exists", e.Ref)
	}
}

// ConfirmDiscard asks on the terminal before unsaved lines are thrown away.
// implements autosave.Confirmer
func (p *pad) ConfirmDiscard(_ context.Context, ref model.EntityRef, field model.Field) bool {
	p.prompt(fmt.Sprintf("Discard unsaved changes to %s %s? [y/N] ", ref, field))
	if !p.scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(p.scanner.Text()))
	return answer == "y" || answer == "yes"
}

// handle runs one input line and reports whether the loop should stop.
func (p *pad) handle(ctx context.Context, line string) bool {
	switch strings.TrimSpace(line) {
	case ":quit", ":q":
		if p.session.IsDirty() && !p.session.Save(ctx) {
			p.println(errorStyle, "unsaved changes could not be written")
		}
		return true
	case ":save", ":w":
		if p.session.Save(ctx) {
			p.println(outputStyle, "draft saved")
		} else {
			p.println(errorStyle, "draft not saved")
		}
	case ":cancel":
		outcome, err := p.session.Cancel(ctx, p)
		if err != nil {
			p.println(errorStyle, "cancel: %v", err)
			break
		}
		p.println(outputStyle, "cancel: %s", outcome)
	case ":status":
		snap := p.session.Snapshot()
		status := fmt.Sprintf("%s %s: %s, dirty=%t", snap.Ref, snap.Field, snap.State, snap.IsDirty)
		if snap.LastError != nil {
			status += ", last error: " + snap.LastError.Error()
		}
		p.println(outputStyle, "%s", status)
	case ":show":
		p.println(outputStyle, "%s", p.session.Draft())
	case ":help":
		p.println(outputStyle, help)
	default:
		if err := p.session.SetDraft(appendLine(p.session.Draft(), line)); err != nil {
			p.println(errorStyle, "edit rejected: %v", err)
		}
	}
	return false
}

func (p *pad) loop(ctx context.Context) error {
	for {
		p.prompt("> ")
		if !p.scanner.Scan() {
			break
		}
		if p.handle(ctx, p.scanner.Text()) {
			return nil
		}
	}
	if p.session.IsDirty() {
		p.session.Save(ctx)
	}
	return p.scanner.Err()
}

func appendLine(draft, line string) string {
	if draft == "" || strings.HasSuffix(draft, "\n") {
		return draft + line + "\n"
	}
	return draft + "\n" + line + "\n"
}

func main() {
	kindFlag := flag.String("kind", "lesson", "Entity kind (course, module, lesson, quiz)")
	idFlag := flag.String("id", "", "Entity ID")
	fieldFlag := flag.String("field", "", "Field to edit; defaults to the kind's main field")
	configPath := flag.String("config", config.Path(), "Path to the config file")
	flag.Parse()

	config.LoadEnv()
	if err := config.LoadConfig(*configPath); err != nil {
		fmt.Println(errorStyle.Render("Error loading config: " + err.Error()))
		os.Exit(1)
	}
	cfg := config.AppConfig

	// Log lines would interleave with the prompt.
	log := logger.NewWithWriter(os.Stderr, "draftpad", "warn")
	repository.SetLogger(logger.Component(log, "repository"))
	autosave.SetLogger(logger.Component(log, "autosave"))

	if *idFlag == "" {
		log.Fatal().Msg("The --id flag is required")
	}
	kind, err := model.ParseKind(*kindFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid kind")
	}
	adapter, err := editor.AdapterFor(kind)
	if err != nil {
		log.Fatal().Err(err).Msg("No editor for kind")
	}
	field, err := adapter.ResolveField(*fieldFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid field")
	}

	ctx := context.Background()
	repo, closer, err := repository.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening content store")
	}
	defer closer.Close()

	ref := model.EntityRef{Kind: kind, ID: model.EntityID(*idFlag)}
	entity, err := repo.Get(ctx, ref)
	if err != nil {
		log.Fatal().Err(err).Str("entity", ref.String()).Msg("Error loading entity")
	}

	p := newPad(os.Stdin, os.Stdout)
	p.session = autosave.New(ref, field, entity.Field(field), repo, autosave.Options{
		Debounce:    cfg.Autosave.Debounce,
		SaveTimeout: cfg.Autosave.SaveTimeout,
		Notifier:    p,
		IsNotFound:  repository.IsNotFound,
	})
	defer p.session.Close()

	p.println(outputStyle, "Editing %s %s (%q)", ref, field, entity.Title)
	p.println(outputStyle, help)

	if err := p.loop(ctx); err != nil {
		log.Error().Err(err).Msg("Error reading input")
	}
}
