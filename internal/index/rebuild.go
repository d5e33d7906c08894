package index

import (
	"encoding/json"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"notehub/internal/domain/content"
)

type RebuildOptions struct {
	IncludeDraft bool
}

// Change is one article difference between the previous index state
// and a rebuild. The action set mirrors the update-notification
// protocol: articles disappearing from the source produce no change.
type Change struct {
	ArticleID int
	Action    string // "created" or "updated"
	Slug      string
	OldSlug   string
	NewSlug   string
	Title     string
	UpdatedAt time.Time
}

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

type prevEntry struct {
	Slug string
	Hash string
}

// Rebuild replaces the whole index with articles and reports what
// changed since the previous state, keyed by article id so slug
// renames surface as updates carrying OldSlug/NewSlug.
func (s *Store) Rebuild(articles []content.Article, opt RebuildOptions) ([]Change, error) {
	var changes []Change

	err := s.db.Update(func(tx *bolt.Tx) error {
		prev := readPrevEntries(tx)

		for _, name := range allBuckets() {
			_ = tx.DeleteBucket(name)
		}

		metaB, _ := tx.CreateBucket(bMeta)
		aliasB, _ := tx.CreateBucket(bAlias)
		shortB, _ := tx.CreateBucket(bShort)
		idxUpdatedB, _ := tx.CreateBucket(bIdxUpdated)
		idxCreatedB, _ := tx.CreateBucket(bIdxCreated)
		idxTagB, _ := tx.CreateBucket(bIdxTag)
		idxCatB, _ := tx.CreateBucket(bIdxCat)

		for _, a := range articles {
			m := a.Meta
			if m.Draft && !opt.IncludeDraft {
				continue
			}
			if strings.TrimSpace(m.Slug) == "" {
				continue
			}
			mb, err := json.Marshal(m)
			if err != nil {
				return err
			}
			if err := metaB.Put([]byte(m.Slug), mb); err != nil {
				return err
			}

			uKey := makeStickyTimeSlugKey(m.Sticky, m.Updated.UnixNano(), m.Slug)
			if err := idxUpdatedB.Put(uKey, []byte{1}); err != nil {
				return err
			}
			cKey := makeStickyTimeSlugKey(m.Sticky, m.Date.UnixNano(), m.Slug)
			if err := idxCreatedB.Put(cKey, []byte{1}); err != nil {
				return err
			}

			for _, tag := range m.Tags {
				if tag == "" {
					continue
				}
				sb, err := idxTagB.CreateBucketIfNotExists([]byte(tag))
				if err != nil {
					return err
				}
				if err := sb.Put(uKey, []byte{1}); err != nil {
					return err
				}
			}

			if cat := strings.TrimSpace(m.Category); cat != "" {
				sb, err := idxCatB.CreateBucketIfNotExists([]byte(cat))
				if err != nil {
					return err
				}
				if err := sb.Put(uKey, []byte{1}); err != nil {
					return err
				}
			}

			for _, old := range m.Aliases {
				old = strings.TrimSpace(old)
				if old == "" {
					continue
				}
				if err := aliasB.Put([]byte(old), []byte(m.Slug)); err != nil {
					return err
				}
			}
			if sid := strings.TrimSpace(m.ShortID); sid != "" {
				if err := shortB.Put([]byte(sid), []byte(m.Slug)); err != nil {
					return err
				}
			}

			if c, ok := diffArticle(prev, m); ok {
				changes = append(changes, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func readPrevEntries(tx *bolt.Tx) map[int]prevEntry {
	prev := make(map[int]prevEntry)
	b := tx.Bucket(bMeta)
	if b == nil {
		return prev
	}
	_ = b.ForEach(func(k, v []byte) error {
		var m content.ArticleMeta
		if err := json.Unmarshal(v, &m); err != nil {
			return nil
		}
		prev[m.ID] = prevEntry{Slug: m.Slug, Hash: m.ContentHash}
		return nil
	})
	return prev
}

func diffArticle(prev map[int]prevEntry, m content.ArticleMeta) (Change, bool) {
	old, existed := prev[m.ID]
	if !existed {
		return Change{
			ArticleID: m.ID,
			Action:    ActionCreated,
			Slug:      m.Slug,
			Title:     m.Title,
			UpdatedAt: m.Updated,
		}, true
	}
	if old.Hash == m.ContentHash && old.Slug == m.Slug {
		return Change{}, false
	}
	c := Change{
		ArticleID: m.ID,
		Action:    ActionUpdated,
		Slug:      m.Slug,
		Title:     m.Title,
		UpdatedAt: m.Updated,
	}
	if old.Slug != m.Slug {
		c.OldSlug = old.Slug
		c.NewSlug = m.Slug
	}
	return c, true
}
