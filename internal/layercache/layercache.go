// Package layercache implements the name-addressed layer cache from
// spec.md §4.5: each layer is a directory under a root, published from a
// sibling "<name>.partial" directory by atomic rename, with a
// parent-rebuilt cascade instead of content hashing (spec.md §9 rejects
// hashing for this layer explicitly). Grounded on go-synth/builddb's
// incremental-rebuild-gate concept, generalized from "hash-gated" to
// "cascade-gated", and on OpenDB's create-or-enforce-invariant shape.
package layercache

import (
	"os"
	"path/filepath"
	"strings"

	"pop-core/internal/coreerr"
	"pop-core/internal/corelog"
)

const partialSuffix = ".partial"

// Cache is a set of named layers under Root.
type Cache struct {
	logger  *corelog.Logger
	Root    string
	isValid func(name string) bool
}

// New ensures Root exists, then removes any directory entry whose name is
// not accepted by isValid or that ends in ".partial" (spec.md §4.5's
// initialization invariant).
func New(logger *corelog.Logger, root string, isValid func(name string) bool) (*Cache, error) {
	logger = logger.Component("layercache")

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "create cache root %s", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Other, err, "list cache root %s", root)
	}

	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, partialSuffix) || !isValid(name) {
			logger.Infof("purging invalid cache entry %s", name)
			if err := os.RemoveAll(filepath.Join(root, name)); err != nil {
				return nil, coreerr.Wrap(coreerr.Other, err, "remove invalid cache entry %s", name)
			}
		}
	}

	return &Cache{logger: logger, Root: root, isValid: isValid}, nil
}

// Build materializes layer name per spec.md §4.5's steps 1-5: reuse a
// present, non-stale layer; otherwise clear any partial/final directory
// and call buildFn(partial) to populate it, then publish by rename.
//
// buildFn owns creation of partial itself (spec.md §9's design note:
// "the builder function owns creation of its own directory" since some
// layers are subvolumes, some are mount points, some are plain
// directories).
func (c *Cache) Build(name string, parentRebuilt bool, buildFn func(partial string) error) (layerPath string, rebuilt bool, err error) {
	final := filepath.Join(c.Root, name)
	partial := final + partialSuffix

	if !parentRebuilt {
		if _, statErr := os.Stat(final); statErr == nil {
			c.logger.Infof("layer %s up to date, reusing", name)
			return final, false, nil
		}
	}

	if err := os.RemoveAll(partial); err != nil {
		return "", false, coreerr.Wrap(coreerr.Other, err, "clear partial for layer %s", name)
	}
	if err := os.RemoveAll(final); err != nil {
		return "", false, coreerr.Wrap(coreerr.Other, err, "clear stale layer %s", name)
	}

	c.logger.Infof("building layer %s", name)
	if buildErr := buildFn(partial); buildErr != nil {
		c.logger.Errorf("layer %s build failed, leaving %s for diagnosis", name, partial)
		return "", false, buildErr
	}

	if err := os.Rename(partial, final); err != nil {
		return "", false, coreerr.Wrap(coreerr.Other, err, "publish layer %s", name)
	}

	c.logger.Infof("layer %s published", name)
	return final, true, nil
}
