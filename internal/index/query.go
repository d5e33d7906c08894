package index

import (
	"encoding/json"
	"errors"
	"strings"

	bolt "go.etcd.io/bbolt"

	"notehub/internal/domain/config"
	"notehub/internal/domain/content"
)

var ErrNotFound = errors.New("not found")

type ListOptions struct {
	Sort         config.SortMode
	Page         int
	Size         int
	IncludeDraft bool
}

func (s *Store) GetMeta(slug string) (content.ArticleMeta, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return content.ArticleMeta{}, ErrNotFound
	}
	var m content.ArticleMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bMeta)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(slug))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &m)
	})
	return m, err
}

// ResolveAlias maps an old slug to the current one; a current slug
// resolves to itself.
func (s *Store) ResolveAlias(slugOrOld string) (string, error) {
	slugOrOld = strings.TrimSpace(slugOrOld)
	if slugOrOld == "" {
		return "", ErrNotFound
	}

	if _, err := s.GetMeta(slugOrOld); err == nil {
		return slugOrOld, nil
	}

	var mapped string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bAlias)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(slugOrOld))
		if v == nil {
			return ErrNotFound
		}
		mapped = string(v)
		return nil
	})
	return mapped, err
}

func (s *Store) GetByShortID(shortID string) (string, error) {
	shortID = strings.TrimSpace(shortID)
	if shortID == "" {
		return "", ErrNotFound
	}
	var slug string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bShort)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(shortID))
		if v == nil {
			return ErrNotFound
		}
		slug = string(v)
		return nil
	})
	return slug, err
}

func normalizePaging(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 10
	}
	if size > 1000000 {
		size = 1000000
	}
	return page, size
}

func (s *Store) List(opt ListOptions) ([]content.ArticleMeta, error) {
	opt.Page, opt.Size = normalizePaging(opt.Page, opt.Size)

	var idxBucketName []byte
	switch opt.Sort {
	case config.SortCreated:
		idxBucketName = bIdxCreated
	default:
		idxBucketName = bIdxUpdated
	}

	var out []content.ArticleMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(idxBucketName)
		metaB := tx.Bucket(bMeta)
		if idx == nil || metaB == nil {
			return nil
		}
		return collectOrdered(idx.Cursor(), metaB, opt, &out)
	})
	return out, err
}

func (s *Store) ListByTag(tag string, opt ListOptions) ([]content.ArticleMeta, error) {
	return s.listSub(bIdxTag, strings.ToLower(tag), opt)
}

func (s *Store) ListByCategory(cat string, opt ListOptions) ([]content.ArticleMeta, error) {
	return s.listSub(bIdxCat, cat, opt)
}

func (s *Store) listSub(parent []byte, key string, opt ListOptions) ([]content.ArticleMeta, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	opt.Page, opt.Size = normalizePaging(opt.Page, opt.Size)

	var out []content.ArticleMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		pb := tx.Bucket(parent)
		metaB := tx.Bucket(bMeta)
		if pb == nil || metaB == nil {
			return nil
		}
		sb := pb.Bucket([]byte(key))
		if sb == nil {
			return nil
		}
		return collectOrdered(sb.Cursor(), metaB, opt, &out)
	})
	return out, err
}

func collectOrdered(cur *bolt.Cursor, metaB *bolt.Bucket, opt ListOptions, out *[]content.ArticleMeta) error {
	skip := (opt.Page - 1) * opt.Size
	for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
		slug := slugFromStickyTimeSlugKey(k)
		if slug == "" {
			continue
		}
		v := metaB.Get([]byte(slug))
		if v == nil {
			continue
		}
		var m content.ArticleMeta
		if err := json.Unmarshal(v, &m); err != nil {
			continue
		}
		if m.Hidden {
			continue
		}
		if m.Draft && !opt.IncludeDraft {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		*out = append(*out, m)
		if len(*out) >= opt.Size {
			break
		}
	}
	return nil
}
