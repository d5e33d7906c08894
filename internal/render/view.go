package render

import (
	"html/template"
	"time"

	"notehub/internal/domain/config"
	"notehub/internal/domain/content"
)

type Heading struct {
	Level int
	ID    string
	Text  string
}

type PostPage struct {
	Site config.SiteConfig
	Meta content.ArticleMeta
	HTML template.HTML
	TOC  []Heading

	// Style 已经作用域化，模板直接内联进 <style>
	Style template.CSS

	Related   []content.ArticleMeta
	IsDraft   bool
	PageTitle string
}

type ListPage struct {
	Site      config.SiteConfig
	Title     string
	SubTitle  string
	Items     []content.ArticleMeta
	Page      int
	PageSize  int
	Total     int
	Tag       string
	Category  string
	Generated time.Time
}

type HomePage struct {
	Site      config.SiteConfig
	Items     []content.ArticleMeta
	Page      int
	PageSize  int
	Generated time.Time
	PageTitle string
}

type NotFoundPage struct {
	Site config.SiteConfig
	Path string
}

type ArchivesGroup struct {
	Year  int
	Posts []content.ArticleMeta
	Count int
}

type ArchivesPage struct {
	Site   config.SiteConfig
	Groups []ArchivesGroup
	Total  int
}

type TagStat struct {
	Name  string
	Count int
}

type TagsPage struct {
	Site  config.SiteConfig
	Tags  []TagStat
	Total int
}

type CategoryStat struct {
	Name  string
	Count int
}

type CategoriesPage struct {
	Site       config.SiteConfig
	Categories []CategoryStat
	Total      int
}
