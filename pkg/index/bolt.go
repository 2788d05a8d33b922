package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wharf-registry/wharf/pkg/api"
	"github.com/wharf-registry/wharf/pkg/metrics"
)

var (
	// Bucket names
	bucketPackages = []byte("packages")
	bucketEntries  = []byte("entries")
)

// packageRecord is the JSON row stored per package in the packages bucket.
// Sparse entries live separately in the entries bucket, keyed the same way,
// so the hot read path deserializes only what it serves.
type packageRecord struct {
	Name          string    `json:"name"`
	Registry      string    `json:"registry,omitempty"`
	Description   *string   `json:"description,omitempty"`
	Documentation *string   `json:"documentation,omitempty"`
	Homepage      *string   `json:"homepage,omitempty"`
	Repository    *string   `json:"repository,omitempty"`
	Categories    []string  `json:"categories"`
	Keywords      []string  `json:"keywords"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BoltIndex implements Backend on an embedded bbolt database. It is the
// index provider selected by the index_path configuration option and needs
// no external services, which also makes it the backend of choice in tests.
type BoltIndex struct {
	db *bolt.DB
}

// NewBoltIndex opens or creates the index database at path.
func NewBoltIndex(path string) (*BoltIndex, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPackages, bucketEntries} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltIndex{db: db}, nil
}

// Close closes the database
func (s *BoltIndex) Close() error {
	return s.db.Close()
}

func (s *BoltIndex) Healthcheck(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketPackages) == nil {
			return fmt.Errorf("packages bucket missing")
		}
		return nil
	})
}

// packageKey builds the bucket key for a (name, registry) identity. Local
// packages use the bare lowercase name; external dependency placeholders
// append their registry URL so they never collide with local packages.
func packageKey(name, registry string) []byte {
	lc := strings.ToLower(name)
	if registry == "" {
		return []byte(lc)
	}
	return []byte(lc + "\x00" + registry)
}

func (s *BoltIndex) ConfirmExistence(ctx context.Context, name, version string) (*api.ExistenceCheck, error) {
	metrics.IndexQueriesTotal.WithLabelValues("confirm_existence").Inc()
	var check *api.ExistenceCheck
	err := s.db.View(func(tx *bolt.Tx) error {
		entries, err := loadEntries(tx, name)
		if err != nil {
			return err
		}
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Vers == version {
				check = &api.ExistenceCheck{Yanked: entries[i].Yanked, Checksum: entries[i].Cksum}
				return nil
			}
		}
		return api.ErrNotFound()
	})
	if err != nil {
		return nil, err
	}
	return check, nil
}

func (s *BoltIndex) GetSparseEntry(ctx context.Context, name string) ([]api.CrateFileEntry, error) {
	metrics.IndexQueriesTotal.WithLabelValues("sparse_entry").Inc()
	var entries []api.CrateFileEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		entries, err = loadEntries(tx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func loadEntries(tx *bolt.Tx, name string) ([]api.CrateFileEntry, error) {
	data := tx.Bucket(bucketEntries).Get(packageKey(name, ""))
	if data == nil {
		return nil, api.ErrNotFound()
	}
	var entries []api.CrateFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, api.WrapError(api.KindIndexIO, "corrupt index entry", err)
	}
	return entries, nil
}

func (s *BoltIndex) Search(ctx context.Context, query string, limit int) (*api.SearchResults, error) {
	metrics.IndexQueriesTotal.WithLabelValues("search").Inc()
	hits := []api.SearchEntry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPackages)
		return b.ForEach(func(k, v []byte) error {
			var rec packageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			// External dependency placeholders have no versions to offer.
			if rec.Registry != "" {
				return nil
			}
			if !strings.Contains(rec.Name, query) {
				return nil
			}
			entries, err := loadEntries(tx, rec.Name)
			if err != nil {
				return err
			}
			desc := ""
			if rec.Description != nil {
				desc = *rec.Description
			}
			hits = append(hits, api.SearchEntry{
				Name:        rec.Name,
				MaxVersion:  maxUnyankedVersion(entries),
				Description: desc,
			})
			return nil
		})
	})
	if err != nil {
		return nil, api.WrapError(api.KindIndexIO, "search scan failed", err)
	}

	sortSearchEntries(hits, query)
	total := len(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return &api.SearchResults{Crates: hits, Meta: api.SearchMeta{Total: total}}, nil
}

func (s *BoltIndex) ListAll(ctx context.Context, perPage, page int) ([]api.PackageSummary, error) {
	metrics.IndexQueriesTotal.WithLabelValues("list_all").Inc()
	summaries := []api.PackageSummary{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPackages)
		return b.ForEach(func(k, v []byte) error {
			var rec packageRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Registry != "" {
				return nil
			}
			entries, err := loadEntries(tx, rec.Name)
			if err != nil {
				return err
			}
			versions := make([]string, len(entries))
			for i := range entries {
				versions[i] = entries[i].Vers
			}
			desc := ""
			if rec.Description != nil {
				desc = *rec.Description
			}
			summaries = append(summaries, api.PackageSummary{
				Name:          rec.Name,
				Description:   desc,
				Documentation: rec.Documentation,
				Homepage:      rec.Homepage,
				Repository:    rec.Repository,
				Versions:      versions,
				Categories:    rec.Categories,
				Keywords:      rec.Keywords,
				CreatedAt:     rec.CreatedAt,
				UpdatedAt:     rec.UpdatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, api.WrapError(api.KindIndexIO, "list scan failed", err)
	}

	if perPage > 0 && page > 0 {
		start := (page - 1) * perPage
		if start >= len(summaries) {
			return []api.PackageSummary{}, nil
		}
		end := start + perPage
		if end > len(summaries) {
			end = len(summaries)
		}
		summaries = summaries[start:end]
	}
	return summaries, nil
}

func (s *BoltIndex) Publish(ctx context.Context, req *api.PublishRequest, checksum string, endStep func(context.Context) error) (*api.CompletedPublication, error) {
	metrics.IndexQueriesTotal.WithLabelValues("publish").Inc()
	completion := &api.CompletedPublication{}

	// The whole publish runs inside one bbolt write transaction: staging the
	// rows, then endStep, then the implicit commit on return. An error from
	// endStep aborts the transaction, so the entry never becomes visible if
	// the tarball put failed.
	err := s.db.Update(func(tx *bolt.Tx) error {
		packages := tx.Bucket(bucketPackages)
		entryBucket := tx.Bucket(bucketEntries)
		key := packageKey(req.Name, "")

		now := time.Now().UTC()
		var rec packageRecord
		if data := packages.Get(key); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				return api.WrapError(api.KindIndexIO, "corrupt package record", err)
			}
			if rec.Name != req.Name {
				return api.ErrBadRequest(fmt.Sprintf("name %q conflicts with existing package %q", req.Name, rec.Name))
			}
		} else {
			rec = packageRecord{Name: req.Name, CreatedAt: now}
			completion.FirstPublish = true
		}

		var entries []api.CrateFileEntry
		if data := entryBucket.Get(key); data != nil {
			if err := json.Unmarshal(data, &entries); err != nil {
				return api.WrapError(api.KindIndexIO, "corrupt index entry", err)
			}
		}
		for i := range entries {
			if entries[i].Vers == req.Vers {
				return api.ErrVersionExists(req.Name, req.Vers)
			}
		}

		rec.Description = req.Description
		rec.Documentation = req.Documentation
		rec.Homepage = req.Homepage
		rec.Repository = req.Repository
		rec.Categories = append([]string{}, req.Categories...)
		rec.Keywords = append([]string{}, req.Keywords...)
		rec.UpdatedAt = now

		// Auto-create placeholder rows for external-registry dependencies.
		for i := range req.Deps {
			dep := &req.Deps[i]
			if dep.Registry == nil || *dep.Registry == "" {
				continue
			}
			depKey := packageKey(dep.Name, *dep.Registry)
			if packages.Get(depKey) != nil {
				continue
			}
			placeholder, err := json.Marshal(packageRecord{
				Name:      dep.Name,
				Registry:  *dep.Registry,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			if err := packages.Put(depKey, placeholder); err != nil {
				return err
			}
		}

		entries = append(entries, entryFromPublish(req, checksum))

		recData, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		entryData, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		if err := packages.Put(key, recData); err != nil {
			return err
		}
		if err := entryBucket.Put(key, entryData); err != nil {
			return err
		}

		return endStep(ctx)
	})
	if err != nil {
		if api.KindOf(err) != api.KindInternal {
			return nil, err
		}
		return nil, api.WrapError(api.KindIndexIO, "publish transaction failed", err)
	}
	return completion, nil
}

func (s *BoltIndex) SetYanked(ctx context.Context, name, version string, yanked bool) (bool, error) {
	metrics.IndexQueriesTotal.WithLabelValues("set_yanked").Inc()
	err := s.db.Update(func(tx *bolt.Tx) error {
		entries, err := loadEntries(tx, name)
		if err != nil {
			return err
		}
		found := false
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Vers == version {
				entries[i].Yanked = yanked
				found = true
				break
			}
		}
		if !found {
			return api.ErrNotFound()
		}
		data, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEntries).Put(packageKey(name, ""), data)
	})
	if err != nil {
		if api.KindOf(err) != api.KindInternal {
			return false, err
		}
		return false, api.WrapError(api.KindIndexIO, "yank update failed", err)
	}
	return yanked, nil
}
