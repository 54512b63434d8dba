package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownProfile is returned for a profile id that is not registered.
var ErrUnknownProfile = errors.New("unknown profile")

// Loaded is a profile together with its masked table.
type Loaded struct {
	Profile Profile
	Table   *Table
}

// Catalog resolves profile ids to loaded tables. Tables load lazily on first
// use and are cached until Reload.
type Catalog struct {
	mu        sync.RWMutex
	defaultID string
	baseDir   string
	profiles  map[string]Profile
	loaded    map[string]*Loaded
	masker    *Masker
	logger    *zap.Logger
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithBaseDir resolves relative data files against dir.
func WithBaseDir(dir string) CatalogOption {
	return func(c *Catalog) { c.baseDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) CatalogOption {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCatalog registers profiles. defaultID is used when a caller names no
// profile; if empty, the first profile is the default.
func NewCatalog(defaultID string, profiles []Profile, opts ...CatalogOption) (*Catalog, error) {
	c := &Catalog{
		profiles: make(map[string]Profile, len(profiles)),
		loaded:   make(map[string]*Loaded),
		masker:   NewMasker(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("dataset")

	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.profiles[p.ID]; dup {
			return nil, fmt.Errorf("duplicate profile %q", p.ID)
		}
		c.profiles[p.ID] = p
		if defaultID == "" {
			defaultID = p.ID
		}
	}
	if _, ok := c.profiles[defaultID]; !ok && len(c.profiles) > 0 {
		return nil, fmt.Errorf("default profile %q: %w", defaultID, ErrUnknownProfile)
	}
	c.defaultID = defaultID
	return c, nil
}

// DefaultID returns the default profile id.
func (c *Catalog) DefaultID() string {
	return c.defaultID
}

// Profile resolves id, with "" meaning the default profile.
func (c *Catalog) Profile(id string) (Profile, error) {
	if id == "" {
		id = c.defaultID
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, id)
	}
	return p, nil
}

// Profiles lists registered profiles sorted by id.
func (c *Catalog) Profiles() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put registers a profile with an already loaded table. The table is masked.
func (c *Catalog) Put(p Profile, t *Table) error {
	if err := p.Validate(); err != nil {
		return err
	}
	masked := c.masker.Apply(t, p)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.ID] = p
	c.loaded[p.ID] = &Loaded{Profile: p, Table: masked}
	if c.defaultID == "" {
		c.defaultID = p.ID
	}
	return nil
}

// Load returns the masked table for id, reading it on first use.
func (c *Catalog) Load(id string) (*Loaded, error) {
	p, err := c.Profile(id)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	l, ok := c.loaded[p.ID]
	c.mu.RUnlock()
	if ok {
		return l, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.loaded[p.ID]; ok {
		return l, nil
	}
	l, err = c.read(p)
	if err != nil {
		return nil, err
	}
	c.loaded[p.ID] = l
	return l, nil
}

// Reload drops the cached table for id so the next Load rereads it.
func (c *Catalog) Reload(id string) error {
	p, err := c.Profile(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.loaded, p.ID)
	c.mu.Unlock()
	_, err = c.Load(p.ID)
	return err
}

// MaskStats reports masking totals across all loaded tables.
func (c *Catalog) MaskStats() MaskStats {
	return c.masker.Stats()
}

func (c *Catalog) read(p Profile) (*Loaded, error) {
	path := p.DataFile
	if path == "" {
		return nil, fmt.Errorf("profile %s has no data_file", p.ID)
	}
	if !filepath.IsAbs(path) && c.baseDir != "" {
		path = filepath.Join(c.baseDir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data for profile %s: %w", p.ID, err)
	}
	defer f.Close()

	t, err := LoadCSV(f, p)
	if err != nil {
		return nil, fmt.Errorf("load data for profile %s: %w", p.ID, err)
	}
	masked := c.masker.Apply(t, p)
	c.logger.Info("dataset loaded",
		zap.String("profile", p.ID),
		zap.String("path", path),
		zap.Int("rows", masked.Len()),
		zap.Int("columns", len(masked.Columns)),
	)
	return &Loaded{Profile: p, Table: masked}, nil
}
