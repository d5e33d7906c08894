package content

import (
	"hash/fnv"
	"strings"
	"time"
)

type ArticleMeta struct {
	// ID is the stable numeric article id used by update
	// notifications. Comes from front matter, otherwise derived
	// from the slug.
	ID int

	Title   string
	Slug    string
	Date    time.Time
	Updated time.Time

	Tags     []string
	Category string

	Description string
	Summary     string
	Cover       string

	Sticky int
	Hidden bool
	Draft  bool

	Aliases []string

	// Style 是文章自带的 CSS，渲染时会被加上作用域前缀
	Style string

	// 由解析阶段填充（但仍属于 domain 数据）
	WordCount   int
	ReadMin     int
	ContentHash string

	Headings []Heading
	ShortID  string
}

type Heading struct {
	Level int
	ID    string
	Text  string
}

type BodyRef struct {
	SourcePath  string
	ContentHash string
}

type Article struct {
	Meta ArticleMeta
	Body BodyRef
}

func (m *ArticleMeta) Normalize() {
	m.Title = strings.TrimSpace(m.Title)
	m.Slug = strings.TrimSpace(m.Slug)
	m.Category = strings.TrimSpace(m.Category)

	m.Tags = normalizeStrings(m.Tags)
	m.Aliases = normalizeStrings(m.Aliases)

	if m.ID == 0 {
		m.ID = DeriveID(m.Slug)
	}
}

// DeriveID maps a slug to a stable positive numeric id.
func DeriveID(slug string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(slug))
	return int(h.Sum32() & 0x7fffffff)
}

func normalizeStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		item = strings.ToLower(item)
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
