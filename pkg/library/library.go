// Package library models the "Library subsystem" external collaborator
// named in spec.md §6.5 (GetName/GetTags/GetPriorityScore/
// GetEnabledPlugins/GetPluginFlow) as a real, bbolt-backed package -
// SPEC_FULL.md §3 promotes it from a stubbed interface to a concrete
// implementation because the Task Queue's filtering (§4.B) and the
// Foreman's config-drift check (§4.E.4) both need one to be testable
// end to end. Storage follows the same bucket-per-entity JSON pattern as
// pkg/workergroup.
package library

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/unmanic/unmanicd/pkg/license"
	"github.com/unmanic/unmanicd/pkg/orcherr"
)

var bucketLibraries = []byte("libraries")

// Library is one scanned media root: a name, a filesystem path, a tag
// set used by the task queue's dispatch filter, a priority score folded
// into every task's initial priority, and the enabled-plugin flow whose
// hash drives the Foreman's config-drift check.
type Library struct {
	ID                int64    `json:"id"`
	Name              string   `json:"name"`
	Path              string   `json:"path"`
	Locked            bool     `json:"locked"`
	EnableRemoteOnly  bool     `json:"enable_remote_only"`
	EnableScanner     bool     `json:"enable_scanner"`
	EnableInotify     bool     `json:"enable_inotify"`
	PriorityScore     int64    `json:"priority_score"`
	Tags              []string `json:"tags"`
	EnabledPlugins    []string `json:"enabled_plugins"`
	PluginFlow        []string `json:"plugin_flow"`
}

// Store persists libraries in bbolt, one JSON value per library keyed by
// its id, mirroring pkg/workergroup.Store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the libraries bucket.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("library: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLibraries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("library: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) put(l *Library) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(l)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLibraries).Put(idKey(l.ID), data)
	})
}

func idKey(id int64) []byte { return []byte(fmt.Sprintf("%020d", id)) }

// Create inserts a library. id must already be assigned - the caller
// (typically the scanner, external to this core) owns id allocation,
// since libraries are not created through the task-dispatch hot path.
// spec.md §9's "within_library_count_limits" gate is consulted first;
// it is always true in this repo (no support-tier accounting), but the
// call site is kept so the check fires exactly where the original adds
// a library.
func (s *Store) Create(l *Library) error {
	if l.ID < 1 {
		return orcherr.New(orcherr.KindUserConfig, "library id cannot be less than 1", nil)
	}
	existing, err := s.List()
	if err != nil {
		return err
	}
	if !license.WithinLibraryCountLimits(len(existing)) {
		return orcherr.New(orcherr.KindUserConfig, "library count exceeds the installation's license limit", nil)
	}
	return s.put(l)
}

// Get fetches a library by id. An id less than 1 raises UserConfig and a
// missing library raises ResourceMissing, matching the original's
// "Unable to fetch library" / "cannot be less than 1" guards.
func (s *Store) Get(id int64) (*Library, error) {
	if id < 1 {
		return nil, orcherr.New(orcherr.KindUserConfig, fmt.Sprintf("library id %d cannot be less than 1", id), nil)
	}
	var l *Library
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLibraries).Get(idKey(id))
		if data == nil {
			return nil
		}
		l = &Library{}
		return json.Unmarshal(data, l)
	})
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, orcherr.New(orcherr.KindResourceMissing, fmt.Sprintf("unable to fetch library %d", id), nil)
	}
	return l, nil
}

// List returns every library sorted by id, the set the Foreman iterates
// when it asks "get_all_libraries()".
func (s *Store) List() ([]*Library, error) {
	var out []*Library
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLibraries).ForEach(func(_, v []byte) error {
			var l Library
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			out = append(out, &l)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Update(l *Library) error { return s.put(l) }

func (s *Store) Delete(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLibraries).Delete(idKey(id))
	})
}

// GetName/GetTags/GetPriorityScore/GetEnabledPlugins/GetPluginFlow are
// exactly the accessor surface spec.md §6.5 names for the external
// Library subsystem, kept as thin accessor methods rather than exported
// fields directly so callers outside this package match the original's
// method-based contract.
func (l *Library) GetName() string              { return l.Name }
func (l *Library) GetTags() []string             { return l.Tags }
func (l *Library) GetPriorityScore() int64       { return l.PriorityScore }
func (l *Library) GetEnabledPlugins() []string   { return l.EnabledPlugins }
func (l *Library) GetPluginFlow() []string       { return l.PluginFlow }

// PluginFlowHash hashes a library's enabled-plugin flow (plugin ids in
// pipeline order) so the Foreman's config-drift check (§4.E.4) can
// detect "library plugin-flow configuration hash changed" by comparing
// hashes across ticks instead of deep-comparing slices.
func (l *Library) PluginFlowHash() string {
	h := sha256.New()
	h.Write([]byte(strings.Join(l.PluginFlow, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// adjectives/nouns back generateRandomLibraryName, matching the
// original's "Name, the adjective library" scanner-default-naming
// convenience (used when a library is auto-created by the external
// scanner with no operator-supplied name yet).
var adjectives = []string{"Wandering", "Quiet", "Golden", "Rusty", "Hidden", "Clever", "Silent", "Bold"}
var nouns = []string{"Fox", "Raven", "Otter", "Falcon", "Badger", "Heron", "Lynx", "Wren"}

// GenerateRandomLibraryName produces a placeholder display name of the
// form "Noun, the adjective library".
func GenerateRandomLibraryName() string {
	noun := nouns[rand.Intn(len(nouns))]
	adj := adjectives[rand.Intn(len(adjectives))]
	return fmt.Sprintf("%s, the %s library", noun, strings.ToLower(adj))
}
