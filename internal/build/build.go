package build

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"notehub/internal/bus"
	"notehub/internal/domain/config"
	"notehub/internal/domain/content"
	"notehub/internal/index"
	"notehub/internal/ingest"
	"notehub/internal/render"
)

type Builder struct {
	Cfg       config.Config
	IndexPath string
}

type Result struct {
	Articles int
	Changed  int
	Warnings []ingest.Warning
}

func (b *Builder) Run(ctx context.Context) (*Result, error) {
	arts, warns, err := ingest.Ingest(b.Cfg.Build.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("ingest failed: %w", err)
	}

	st, err := index.Open(index.OpenOptions{Path: b.IndexPath})
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer st.Close()

	changes, err := st.Rebuild(arts, index.RebuildOptions{
		IncludeDraft: b.Cfg.Build.IncludeDraft,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}

	// 通知同机的 serve 进程：文章变了
	b.publishChanges(changes)

	md := render.NewMarkdownRenderer()
	if err := render.CheckThemeTemplates(filepath.Join(b.Cfg.Build.ThemeDir, b.Cfg.Site.Theme, "templates")); err != nil {
		return nil, fmt.Errorf("theme %s: %w", b.Cfg.Site.Theme, err)
	}
	tpl, err := render.NewTemplateRenderer(b.Cfg.Build.ThemeDir, b.Cfg.Site.Theme)
	if err != nil {
		return nil, fmt.Errorf("load theme(%s): %w", b.Cfg.Build.ThemeDir, err)
	}

	outDir := b.Cfg.Build.PublicDir
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir public: %w", err)
	}

	changed := make(map[int]struct{}, len(changes))
	for _, c := range changes {
		changed[c.ArticleID] = struct{}{}
	}
	if err := b.buildAll(ctx, st, md, tpl, outDir, arts, changed); err != nil {
		return nil, err
	}

	return &Result{
		Articles: len(arts),
		Changed:  len(changes),
		Warnings: warns,
	}, nil
}

func (b *Builder) publishChanges(changes []index.Change) {
	if len(changes) == 0 {
		return
	}
	transport := bus.DefaultTransport(b.Cfg.Serve.RelayPath)
	defer transport.Close()
	updates := bus.New(transport)
	defer updates.Close()

	for _, c := range changes {
		p := bus.Payload{
			ArticleID: c.ArticleID,
			Action:    bus.Action(c.Action),
			Slug:      c.Slug,
			OldSlug:   c.OldSlug,
			NewSlug:   c.NewSlug,
			Title:     c.Title,
		}
		if !c.UpdatedAt.IsZero() {
			p.UpdatedAt = c.UpdatedAt.Format(time.RFC3339)
		}
		updates.Publish(p)
	}
	log.Printf("[build] published %d update notifications", len(changes))
}

func (b *Builder) buildAll(
	ctx context.Context,
	st *index.Store,
	md *render.MarkdownRenderer,
	tpl render.Renderer,
	outDir string,
	arts []content.Article,
	changed map[int]struct{},
) error {
	if err := b.buildHome(ctx, st, tpl, outDir); err != nil {
		return fmt.Errorf("build home: %w", err)
	}
	if err := b.buildPosts(ctx, md, tpl, outDir, arts, changed); err != nil {
		return fmt.Errorf("build posts: %w", err)
	}
	if err := b.buildAllTags(ctx, st, tpl, outDir); err != nil {
		return fmt.Errorf("build tags: %w", err)
	}
	if err := b.buildAllCategories(ctx, st, tpl, outDir); err != nil {
		return fmt.Errorf("build categories: %w", err)
	}
	if err := b.buildArchives(ctx, st, tpl, outDir); err != nil {
		return fmt.Errorf("build archives: %w", err)
	}
	if err := b.buildNotFound(ctx, tpl, outDir); err != nil {
		return fmt.Errorf("build 404: %w", err)
	}
	if err := b.copyStaticAssets(outDir); err != nil {
		return fmt.Errorf("copy static assets: %w", err)
	}
	return nil
}

func (b *Builder) listAll(st *index.Store) ([]content.ArticleMeta, error) {
	return st.List(index.ListOptions{
		Sort:         b.Cfg.Site.SortMode,
		Page:         1,
		Size:         1000000,
		IncludeDraft: b.Cfg.Build.IncludeDraft,
	})
}

func (b *Builder) buildHome(ctx context.Context, st *index.Store, tpl render.Renderer, outDir string) error {
	items, err := st.List(index.ListOptions{
		Sort:         b.Cfg.Site.SortMode,
		Page:         1,
		Size:         20,
		IncludeDraft: b.Cfg.Build.IncludeDraft,
	})
	if err != nil {
		return err
	}
	page := render.HomePage{
		Site:      b.Cfg.Site,
		Items:     items,
		Page:      1,
		PageSize:  20,
		Generated: time.Now(),
		PageTitle: "Home",
	}
	htmlBytes, err := tpl.RenderHome(ctx, page)
	if err != nil {
		return err
	}
	return writePage(outDir, "index.html", htmlBytes)
}

func (b *Builder) buildPosts(ctx context.Context, md *render.MarkdownRenderer, tpl render.Renderer, outDir string, arts []content.Article, changed map[int]struct{}) error {
	for _, a := range arts {
		m := a.Meta
		if m.Draft && !b.Cfg.Build.IncludeDraft {
			continue
		}

		// 内容没变且产物还在，跳过重渲染
		out := filepath.Join("post", m.Slug, "index.html")
		if _, dirty := changed[m.ID]; !dirty {
			if _, err := os.Stat(filepath.Join(outDir, out)); err == nil {
				continue
			}
		}

		src, err := os.ReadFile(a.Body.SourcePath)
		if err != nil {
			return err
		}
		_, body, fmErr := ingest.ParseFrontMatter(src)
		if fmErr != nil {
			body = src
		}
		mdResult, err := md.Render(body)
		if err != nil {
			return fmt.Errorf("render %s: %w", m.Slug, err)
		}

		page := render.PostPage{
			Site:      b.Cfg.Site,
			Meta:      m,
			HTML:      template.HTML(mdResult.HTML),
			TOC:       mdResult.Headings,
			Style:     render.ArticleStyle(m.Style, b.Cfg.Site.ScopeSelector),
			IsDraft:   m.Draft,
			PageTitle: m.Title,
		}
		htmlBytes, err := tpl.RenderPost(ctx, page)
		if err != nil {
			return fmt.Errorf("render %s: %w", m.Slug, err)
		}
		if err := writePage(outDir, out, htmlBytes); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) buildAllTags(ctx context.Context, st *index.Store, tpl render.Renderer, outDir string) error {
	metas, err := b.listAll(st)
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, m := range metas {
		for _, t := range m.Tags {
			if t = strings.TrimSpace(t); t != "" {
				counts[t]++
			}
		}
	}

	for tag := range counts {
		items, err := st.ListByTag(tag, index.ListOptions{
			Sort:         b.Cfg.Site.SortMode,
			Page:         1,
			Size:         1000,
			IncludeDraft: b.Cfg.Build.IncludeDraft,
		})
		if err != nil || len(items) == 0 {
			continue
		}
		page := render.ListPage{
			Site:      b.Cfg.Site,
			Title:     fmt.Sprintf("Tag: %s", tag),
			Items:     items,
			Page:      1,
			PageSize:  len(items),
			Tag:       tag,
			Generated: time.Now(),
		}
		htmlBytes, err := tpl.RenderList(ctx, page)
		if err != nil {
			return err
		}
		if err := writePage(outDir, filepath.Join("tags", tag, "index.html"), htmlBytes); err != nil {
			return err
		}
	}

	stats := tagStats(counts)
	page := render.TagsPage{Site: b.Cfg.Site, Tags: stats, Total: len(stats)}
	htmlBytes, err := tpl.RenderTagsPage(ctx, page)
	if err != nil {
		return err
	}
	return writePage(outDir, filepath.Join("tags", "index.html"), htmlBytes)
}

func tagStats(counts map[string]int) []render.TagStat {
	stats := make([]render.TagStat, 0, len(counts))
	for name, c := range counts {
		stats = append(stats, render.TagStat{Name: name, Count: c})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count == stats[j].Count {
			return stats[i].Name < stats[j].Name
		}
		return stats[i].Count > stats[j].Count
	})
	return stats
}

func (b *Builder) buildAllCategories(ctx context.Context, st *index.Store, tpl render.Renderer, outDir string) error {
	metas, err := b.listAll(st)
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, m := range metas {
		if c := strings.TrimSpace(m.Category); c != "" {
			counts[c]++
		}
	}

	for cat := range counts {
		items, err := st.ListByCategory(cat, index.ListOptions{
			Sort:         b.Cfg.Site.SortMode,
			Page:         1,
			Size:         1000,
			IncludeDraft: b.Cfg.Build.IncludeDraft,
		})
		if err != nil || len(items) == 0 {
			continue
		}
		page := render.ListPage{
			Site:      b.Cfg.Site,
			Title:     fmt.Sprintf("Category: %s", cat),
			Items:     items,
			Page:      1,
			PageSize:  len(items),
			Category:  cat,
			Generated: time.Now(),
		}
		htmlBytes, err := tpl.RenderList(ctx, page)
		if err != nil {
			return err
		}
		if err := writePage(outDir, filepath.Join("categories", cat, "index.html"), htmlBytes); err != nil {
			return err
		}
	}

	stats := make([]render.CategoryStat, 0, len(counts))
	for name, c := range counts {
		stats = append(stats, render.CategoryStat{Name: name, Count: c})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count == stats[j].Count {
			return stats[i].Name < stats[j].Name
		}
		return stats[i].Count > stats[j].Count
	})
	page := render.CategoriesPage{Site: b.Cfg.Site, Categories: stats, Total: len(stats)}
	htmlBytes, err := tpl.RenderCategoriesPage(ctx, page)
	if err != nil {
		return err
	}
	return writePage(outDir, filepath.Join("categories", "index.html"), htmlBytes)
}

func (b *Builder) buildArchives(ctx context.Context, st *index.Store, tpl render.Renderer, outDir string) error {
	metas, err := st.List(index.ListOptions{
		Sort:         config.SortCreated,
		Page:         1,
		Size:         1000000,
		IncludeDraft: b.Cfg.Build.IncludeDraft,
	})
	if err != nil {
		return err
	}

	groupsMap := make(map[int][]content.ArticleMeta)
	for _, m := range metas {
		groupsMap[m.Date.Year()] = append(groupsMap[m.Date.Year()], m)
	}
	years := make([]int, 0, len(groupsMap))
	for y := range groupsMap {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))

	groups := make([]render.ArchivesGroup, 0, len(years))
	total := 0
	for _, y := range years {
		posts := groupsMap[y]
		total += len(posts)
		groups = append(groups, render.ArchivesGroup{Year: y, Posts: posts, Count: len(posts)})
	}

	page := render.ArchivesPage{Site: b.Cfg.Site, Groups: groups, Total: total}
	htmlBytes, err := tpl.RenderArchives(ctx, page)
	if err != nil {
		return err
	}
	return writePage(outDir, filepath.Join("archives", "index.html"), htmlBytes)
}

func (b *Builder) buildNotFound(ctx context.Context, tpl render.Renderer, outDir string) error {
	page := render.NotFoundPage{Site: b.Cfg.Site, Path: ""}
	htmlBytes, err := tpl.RenderNotFound(ctx, page)
	if err != nil {
		return err
	}
	return writePage(outDir, "404.html", htmlBytes)
}

func (b *Builder) copyStaticAssets(outDir string) error {
	staticDir := filepath.Join(b.Cfg.Build.ThemeDir, b.Cfg.Site.Theme, "static")
	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		return nil
	}

	return filepath.WalkDir(staticDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(staticDir, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(outDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data, 0o644)
	})
}

func writePage(outDir, rel string, data []byte) error {
	dst := filepath.Join(outDir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
