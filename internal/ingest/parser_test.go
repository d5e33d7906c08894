package ingest

import "testing"

func TestParseFrontMatter(t *testing.T) {
	t.Parallel()

	raw := []byte(`---
id: 42
title: 线性代数笔记
slug: linear-algebra
tags: [math, notes]
category: informatics
style: ".note{color:red}"
aliases:
  - old-linear-algebra
---
# Heading

body text`)

	fm, body, err := ParseFrontMatter(raw)
	if err != nil {
		t.Fatalf("ParseFrontMatter: %v", err)
	}
	if fm.ID != 42 || fm.Title != "线性代数笔记" || fm.Slug != "linear-algebra" {
		t.Fatalf("front matter mismatch: %+v", fm)
	}
	if fm.Style != ".note{color:red}" {
		t.Fatalf("style = %q", fm.Style)
	}
	if len(fm.Aliases) != 1 || fm.Aliases[0] != "old-linear-algebra" {
		t.Fatalf("aliases = %v", fm.Aliases)
	}
	if string(body) != "# Heading\n\nbody text" {
		t.Fatalf("body = %q", body)
	}
}

func TestParseFrontMatterMissing(t *testing.T) {
	t.Parallel()

	_, body, err := ParseFrontMatter([]byte("plain markdown"))
	if err != errNoFrontMatter {
		t.Fatalf("want errNoFrontMatter, got %v", err)
	}
	if string(body) != "plain markdown" {
		t.Fatalf("body = %q", body)
	}
}

func TestParseFrontMatterEmpty(t *testing.T) {
	t.Parallel()

	fm, body, err := ParseFrontMatter([]byte("---\n---"))
	if err != nil {
		t.Fatalf("empty front matter: %v", err)
	}
	if fm.Title != "" || len(body) != 0 {
		t.Fatalf("want zero values, got %+v / %q", fm, body)
	}
}

func TestResolveSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fm   FrontMatter
		path string
		want string
	}{
		{"explicit slug", FrontMatter{Slug: "My Slug"}, "x.md", "my-slug"},
		{"from title", FrontMatter{Title: "Hello World"}, "x.md", "hello-world"},
		{"from filename", FrontMatter{}, "notes/Intro To Go.md", "intro-to-go"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveSlug(tt.fm, tt.path); got != tt.want {
				t.Errorf("ResolveSlug() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCountWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty", "", 0},
		{"latin words", "one two three", 3},
		{"cjk per rune", "你好世界", 4},
		{"mixed", "Go 语言 rocks", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countWords([]byte(tt.body)); got != tt.want {
				t.Errorf("countWords(%q) = %d, want %d", tt.body, got, tt.want)
			}
		})
	}
}
