package correlation_test

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/evidence-correlator/internal/correlation"
	"github.com/ajitpratap0/evidence-correlator/internal/models"
)

func newTestDetector(t *testing.T) *correlation.Detector {
	t.Helper()
	return correlation.NewDetector(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDetector_CreatesOnSecondFileAndGrows(t *testing.T) {
	ix := correlation.NewIndex()
	d := newTestDetector(t)

	apply := func(fileID string, seq uint64) (bool, bool) {
		e := entity(fileID, models.EntityTypePerson, "Ali F.")
		return d.Observe(e.Key(), ix.Insert(e), seq)
	}

	created, grown := apply("F1", 1)
	assert.False(t, created)
	assert.False(t, grown)
	assert.Equal(t, 0, d.Len())

	created, _ = apply("F2", 2)
	assert.True(t, created)
	require.Equal(t, 1, d.Len())

	created, grown = apply("F3", 3)
	assert.False(t, created)
	assert.True(t, grown)

	all := d.ListAll()
	require.Len(t, all, 1)
	assert.Equal(t, []string{"F1", "F2", "F3"}, all[0].FileIDs)
	assert.Equal(t, uint64(2), all[0].FirstDetectedAt)
	assert.Equal(t, uint64(3), all[0].UpdatedAt)

	// Re-delivery of the same file is a no-op.
	created, grown = apply("F3", 4)
	assert.False(t, created)
	assert.False(t, grown)
}

func TestDetector_StaleResultNeverShrinks(t *testing.T) {
	d := newTestDetector(t)
	key := models.CorrelationKey{Type: models.EntityTypeKeyword, Value: "cash"}

	d.Observe(key, correlation.InsertResult{IsNewFileForKey: true, BucketFileIDs: []string{"F1", "F2", "F3"}}, 3)
	_, grown := d.Observe(key, correlation.InsertResult{IsNewFileForKey: true, BucketFileIDs: []string{"F1", "F2"}}, 2)
	assert.False(t, grown)

	xr, ok := d.Get(key)
	require.True(t, ok)
	assert.Equal(t, []string{"F1", "F2", "F3"}, xr.FileIDs)
}

func TestDetector_ListFilters(t *testing.T) {
	ix := correlation.NewIndex()
	d := newTestDetector(t)
	var seq uint64
	add := func(fileID string, typ models.EntityType, raw string) {
		seq++
		e := entity(fileID, typ, raw)
		d.Observe(e.Key(), ix.Insert(e), seq)
	}

	add("F1", models.EntityTypePerson, "Ali F.")
	add("F2", models.EntityTypePerson, "Ali F.")
	add("F2", models.EntityTypeIntegrity, "sha256:abc")
	add("F3", models.EntityTypeIntegrity, "SHA256:ABC")
	add("F3", models.EntityTypeKeyword, "lonely")

	assert.Len(t, d.ListAll(), 2)
	assert.Len(t, d.List("F1"), 1)
	assert.Len(t, d.List("F2"), 2)
	assert.Len(t, d.List("F3"), 1)
	assert.Empty(t, d.List("F9"))

	integrity := d.ListByType(models.EntityTypeIntegrity, "")
	require.Len(t, integrity, 1)
	assert.Equal(t, []string{"F2", "F3"}, integrity[0].FileIDs)
	assert.Empty(t, d.ListByType(models.EntityTypeIntegrity, "F1"))

	// Ordered by detection sequence.
	all := d.ListAll()
	assert.Equal(t, models.EntityTypePerson, all[0].Key.Type)
	assert.Equal(t, models.EntityTypeIntegrity, all[1].Key.Type)
}

func TestDetector_ListReturnsCopies(t *testing.T) {
	d := newTestDetector(t)
	key := models.CorrelationKey{Type: models.EntityTypePerson, Value: "x"}
	d.Observe(key, correlation.InsertResult{BucketFileIDs: []string{"F1", "F2"}}, 1)

	list := d.ListAll()
	list[0].FileIDs[0] = "mutated"
	xr, _ := d.Get(key)
	assert.Equal(t, "F1", xr.FileIDs[0])
}

func TestDetector_ConcurrentObserveUnderKeyLocks(t *testing.T) {
	ix := correlation.NewIndex()
	d := newTestDetector(t)
	locks := correlation.NewKeyLocks(8)

	const files = 50
	var wg sync.WaitGroup
	for i := 0; i < files; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := entity(fmt.Sprintf("F%02d", i), models.EntityTypeLicensePlate, "2465")
			unlock := locks.Lock(e.Key())
			defer unlock()
			d.Observe(e.Key(), ix.Insert(e), uint64(i+1))
		}(i)
	}
	wg.Wait()

	all := d.ListAll()
	require.Len(t, all, 1)
	assert.Len(t, all[0].FileIDs, files)
}

func TestKeyLocks_DefaultStripes(t *testing.T) {
	locks := correlation.NewKeyLocks(0)
	unlock := locks.Lock(models.CorrelationKey{Type: models.EntityTypePerson, Value: "a"})
	assert.Equal(t, 1, locks.Len())
	unlock()
	assert.Zero(t, locks.Len())
}

func TestKeyLocks_DistinctKeysInOneShardDoNotWait(t *testing.T) {
	locks := correlation.NewKeyLocks(1)
	plate := models.CorrelationKey{Type: models.EntityTypeLicensePlate, Value: "2465"}
	person := models.CorrelationKey{Type: models.EntityTypePerson, Value: "ali f."}

	unlockPlate := locks.Lock(plate)
	defer unlockPlate()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(person)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for a different key waited on a held key")
	}
}

func TestKeyLocks_SameKeyWaits(t *testing.T) {
	locks := correlation.NewKeyLocks(4)
	key := models.CorrelationKey{Type: models.EntityTypeLicensePlate, Value: "2465"}

	unlock := locks.Lock(key)
	acquired := make(chan struct{})
	go func() {
		u := locks.Lock(key)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	<-acquired

	assert.Eventually(t, func() bool { return locks.Len() == 0 }, time.Second, time.Millisecond)
}
