package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/debemdeboas/lectern/internal/config"
	"github.com/debemdeboas/lectern/internal/logger"
	"github.com/debemdeboas/lectern/internal/model"
	"github.com/debemdeboas/lectern/internal/repository"
	"github.com/debemdeboas/lectern/internal/util"
)

type lessonFile struct {
	Name        string
	Title       string
	Description string
	Order       int
	Body        string
}

// main imports a directory of .md files as lessons of one module.
func main() {
	path := flag.String("path", "", "Path to the directory containing .md files")
	moduleID := flag.String("module-id", "", "Module the lessons are created under")
	configPath := flag.String("config", config.Path(), "Path to the config file")
	dryRun := flag.Bool("dry-run", false, "List the lessons without importing them")
	flag.Parse()

	config.LoadEnv()
	if err := config.LoadConfig(*configPath); err != nil {
		l := logger.New("import-lessons", "info")
		l.Fatal().Err(err).Msg("Error loading config")
	}
	log := logger.New("import-lessons", config.AppConfig.Logging.Level)
	repository.SetLogger(logger.Component(log, "repository"))

	if *path == "" || *moduleID == "" {
		log.Fatal().Msg("Both --path and --module-id flags are required")
	}

	lessons, err := collectLessons(*path)
	if err != nil {
		log.Fatal().Err(err).Str("path", *path).Msg("Error reading lessons")
	}

	if *dryRun {
		for _, l := range lessons {
			log.Info().Str("file", l.Name).Str("title", l.Title).Int("order", l.Order).Msg("Would import")
		}
		return
	}

	ctx := context.Background()
	repo, closer, err := repository.Open(ctx, config.AppConfig.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening content store")
	}
	defer closer.Close()

	imported, err := importLessons(ctx, repo, model.EntityID(*moduleID), lessons)
	for _, e := range imported {
		log.Info().Str("entity", e.Ref.String()).Str("title", e.Title).Msg("Lesson imported")
	}
	if err != nil {
		log.Error().Err(err).Int("imported", len(imported)).Int("total", len(lessons)).Msg("Import stopped")
		os.Exit(1)
	}
}

// collectLessons reads every .md file in dir, ordered by front matter order then file name.
func collectLessons(dir string) ([]lessonFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var lessons []lessonFile
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".md") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, parseLesson(file.Name(), content))
	}

	sort.SliceStable(lessons, func(i, j int) bool {
		if lessons[i].Order != lessons[j].Order {
			return lessons[i].Order < lessons[j].Order
		}
		return lessons[i].Name < lessons[j].Name
	})
	return lessons, nil
}

func parseLesson(name string, content []byte) lessonFile {
	l := lessonFile{
		Name:  name,
		Title: strings.TrimSuffix(name, ".md"),
		Body:  string(content),
	}

	frontMatter, err := util.GetFrontMatter(content)
	if err != nil {
		return l
	}
	if frontMatter.Title != "" {
		l.Title = frontMatter.Title
	}
	l.Description = frontMatter.Description
	l.Order = frontMatter.Order
	l.Body = string(util.StripFrontMatter(content))
	return l
}

func importLessons(ctx context.Context, repo repository.ContentRepository, moduleID model.EntityID, lessons []lessonFile) ([]*model.Entity, error) {
	if _, err := repo.Get(ctx, model.EntityRef{Kind: model.KindModule, ID: moduleID}); err != nil {
		return nil, errors.Wrap(err, "module lookup failed")
	}

	var imported []*model.Entity
	for _, l := range lessons {
		e, err := repo.Create(ctx, model.NewEntity{
			Kind:        model.KindLesson,
			ParentID:    moduleID,
			Title:       l.Title,
			Description: l.Description,
			Body:        l.Body,
		})
		if err != nil {
			return imported, errors.Wrapf(err, "importing %s", l.Name)
		}
		imported = append(imported, e)
	}
	return imported, nil
}
