package ingest

import (
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"notehub/internal/domain/content"
)

type Warning struct {
	Path string
	Msg  string
}

type Result struct {
	Article content.Article
	Warns   []Warning
	Skip    bool
	Err     error
}

const wordsPerMinute = 250

// Ingest reads every markdown source under sourceDir and produces
// article metadata, fanned out over a small worker pool. Duplicate
// slugs keep the first article and warn about the rest.
func Ingest(sourceDir string) ([]content.Article, []Warning, error) {
	files, err := DiscoverSource(sourceDir)
	if err != nil {
		return nil, nil, err
	}

	workers := runtime.GOMAXPROCS(0)
	jobs := make(chan SourceFile)
	results := make(chan Result)

	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sf := range jobs {
				results <- processFile(sf)
			}
		}()
	}

	go func() {
		for _, f := range files {
			jobs <- f
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var out []content.Article
	var warns []Warning
	for r := range results {
		if r.Err != nil {
			return nil, nil, r.Err
		}
		if len(r.Warns) > 0 {
			warns = append(warns, r.Warns...)
		}
		if r.Skip {
			continue
		}
		out = append(out, r.Article)
	}

	seenSlug := make(map[string]struct{}, len(out))
	seenID := make(map[int]string, len(out))
	filtered := make([]content.Article, 0, len(out))
	for _, a := range out {
		if _, ok := seenSlug[a.Meta.Slug]; ok {
			warns = append(warns, Warning{Path: a.Body.SourcePath, Msg: "slug 冲突（重复），已跳过: " + a.Meta.Slug})
			continue
		}
		if prev, ok := seenID[a.Meta.ID]; ok {
			warns = append(warns, Warning{Path: a.Body.SourcePath, Msg: "article id collides with " + prev + ", skipped"})
			continue
		}
		seenSlug[a.Meta.Slug] = struct{}{}
		seenID[a.Meta.ID] = a.Meta.Slug
		filtered = append(filtered, a)
	}
	return filtered, warns, nil
}

func processFile(sf SourceFile) Result {
	st, err := os.Stat(sf.Path)
	if err != nil {
		return Result{Err: err}
	}
	raw, err := os.ReadFile(sf.Path)
	if err != nil {
		return Result{Err: err}
	}
	contentHash := HashBytes(raw)

	fm, body, fmErr := ParseFrontMatter(raw)

	var warns []Warning
	if fmErr != nil && fmErr != errNoFrontMatter {
		warns = append(warns, Warning{
			Path: sf.Path,
			Msg:  "failed to parse front matter: " + fmErr.Error(),
		})
		return Result{Warns: warns, Skip: true}
	}
	if fm.Hidden {
		return Result{Skip: true}
	}
	slug := ResolveSlug(fm, sf.Path)
	if slug == "" {
		warns = append(warns, Warning{Path: sf.Path, Msg: "empty slug"})
		return Result{Warns: warns, Skip: true}
	}

	meta := content.ArticleMeta{
		ID:          fm.ID,
		Title:       fm.Title,
		Slug:        slug,
		Tags:        fm.Tags,
		Category:    fm.Category,
		Sticky:      fm.Sticky,
		Hidden:      fm.Hidden,
		Draft:       fm.Draft,
		Cover:       fm.Cover,
		Description: fm.Description,
		Summary:     fm.Summary,
		Style:       fm.Style,
		Aliases:     fm.Aliases,
		ShortID:     fm.ShortID,
		ContentHash: contentHash,
	}

	wc := countWords(body)
	meta.WordCount = wc
	meta.ReadMin = (wc + wordsPerMinute - 1) / wordsPerMinute

	mt := st.ModTime().In(time.Local)
	meta.Date = ParseTime(fm.Date)
	meta.Updated = ParseTime(fm.Updated)
	if meta.Date.IsZero() {
		meta.Date = mt
		warns = append(warns, Warning{
			Path: sf.Path,
			Msg:  "using file modification time for date",
		})
	}
	if meta.Updated.IsZero() {
		meta.Updated = meta.Date
	}
	if strings.TrimSpace(meta.Title) == "" {
		warns = append(warns, Warning{Path: sf.Path, Msg: "title is empty"})
	}
	meta.Normalize()

	return Result{
		Article: content.Article{
			Meta: meta,
			Body: content.BodyRef{
				SourcePath:  sf.Path,
				ContentHash: contentHash,
			},
		},
		Warns: warns,
	}
}
