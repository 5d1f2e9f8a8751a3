// Package correlation maintains the inverted index from correlation keys to
// the evidence files that produced them, and derives cross-references from it.
package correlation

import (
	"sync"

	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

// InsertResult describes the bucket after an insert.
type InsertResult struct {
	// IsNewFileForKey is true when the entity's file was not yet in the bucket.
	IsNewFileForKey bool
	// CrossedThreshold is true when this insert took the bucket from one file to two.
	CrossedThreshold bool
	// BucketFileIDs is a copy of the bucket membership in join order.
	BucketFileIDs []string
}

type bucket struct {
	files   []string
	members map[string]struct{}
}

// Index maps a correlation key to the ordered set of distinct file ids that
// produced an entity with that key. It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	buckets map[models.CorrelationKey]*bucket
	byFile  map[string]map[models.CorrelationKey]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		buckets: make(map[models.CorrelationKey]*bucket),
		byFile:  make(map[string]map[models.CorrelationKey]struct{}),
	}
}

// Insert adds the entity's file to the bucket for its key. Membership is by
// file id, so repeated inserts for the same (file, key) leave the bucket as is.
func (ix *Index) Insert(e models.ExtractedEntity) InsertResult {
	key := e.Key()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	b, ok := ix.buckets[key]
	if !ok {
		b = &bucket{members: make(map[string]struct{}, 2)}
		ix.buckets[key] = b
	}

	var res InsertResult
	if _, seen := b.members[e.FileID]; !seen {
		b.members[e.FileID] = struct{}{}
		b.files = append(b.files, e.FileID)
		res.IsNewFileForKey = true
		res.CrossedThreshold = len(b.files) == 2

		keys, ok := ix.byFile[e.FileID]
		if !ok {
			keys = make(map[models.CorrelationKey]struct{})
			ix.byFile[e.FileID] = keys
		}
		keys[key] = struct{}{}
	}
	res.BucketFileIDs = append([]string(nil), b.files...)
	return res
}

// Files returns the bucket membership for key in join order.
func (ix *Index) Files(key models.CorrelationKey) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	b, ok := ix.buckets[key]
	if !ok {
		return nil
	}
	return append([]string(nil), b.files...)
}

// KeysForFile returns every key the file has contributed to.
func (ix *Index) KeysForFile(fileID string) []models.CorrelationKey {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	keys := ix.byFile[fileID]
	out := make([]models.CorrelationKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}

// Len returns the number of distinct keys.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.buckets)
}
