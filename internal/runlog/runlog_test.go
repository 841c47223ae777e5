package runlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlscanary/tlscanary/internal/types"
)

func TestRunLogLifecycleIsOneWay(t *testing.T) {
	dir := t.TempDir()
	db := NewDB(filepath.Join(dir, "log"))
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rl, err := db.New("handle-1", "regression", now)
	require.NoError(t, err)
	assert.Equal(t, StateFresh, rl.Meta().State)

	require.Error(t, rl.Log(types.ScanResult{Host: "a.example.com", Success: true}), "cannot log before Start")

	require.NoError(t, rl.Start(now))
	assert.Equal(t, StateRunning, rl.Meta().State)
	require.Error(t, rl.Start(now), "cannot start twice")

	require.NoError(t, rl.Log(types.ScanResult{Host: "a.example.com", Success: true}))
	require.NoError(t, rl.Log(types.ScanResult{Host: "b.example.com", Success: false}))

	require.NoError(t, rl.Stop(now.Add(time.Minute)))
	assert.Equal(t, StateStopped, rl.Meta().State)
	assert.True(t, rl.HasFinished())

	require.Error(t, rl.Log(types.ScanResult{Host: "c.example.com"}), "cannot log after Stop")
	require.Error(t, rl.Stop(now), "cannot stop twice")

	results, err := rl.Read()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.example.com", results[0].Host)
	assert.Equal(t, "b.example.com", results[1].Host)
}

func TestOpenRejectsNewerFormatRevision(t *testing.T) {
	dir := t.TempDir()
	db := NewDB(filepath.Join(dir, "log"))
	rl, err := db.New("handle-1", "scan", time.Now())
	require.NoError(t, err)

	meta := rl.Meta()
	meta.Revision = FormatRevision + 1
	rl.meta = meta
	require.NoError(t, rl.writeMeta())

	_, err = Open(rl.Dir())
	require.Error(t, err)
}

func TestOpenRejectsOlderFormatRevision(t *testing.T) {
	dir := t.TempDir()
	db := NewDB(filepath.Join(dir, "log"))
	rl, err := db.New("handle-1", "scan", time.Now())
	require.NoError(t, err)

	meta := rl.Meta()
	meta.Revision = 1
	rl.meta = meta
	require.NoError(t, rl.writeMeta())

	reopened, err := Open(rl.Dir())
	require.Error(t, err)
	assert.Nil(t, reopened)

	rl.meta = meta
	assert.False(t, rl.IsCompatible())
}

func TestComputedTagsReflectState(t *testing.T) {
	dir := t.TempDir()
	db := NewDB(filepath.Join(dir, "log"))
	now := time.Now()

	rl, err := db.New("handle-1", "regression", now)
	require.NoError(t, err)
	assert.Contains(t, ComputedTags(rl), "incomplete")

	require.NoError(t, rl.Start(now))
	require.NoError(t, rl.Stop(now))
	tags := ComputedTags(rl)
	assert.Contains(t, tags, "complete")
	assert.Contains(t, tags, "regression")
}

func TestTagsDBRejectsReservedNames(t *testing.T) {
	dir := t.TempDir()
	db, err := LoadTagsDB(filepath.Join(dir, "tags.json"))
	require.NoError(t, err)

	require.Error(t, db.Add("complete", "handle-1"))
	require.NoError(t, db.Add("nightly", "handle-1"))
	assert.Equal(t, []string{"handle-1"}, db.HandlesForTag("nightly"))

	require.NoError(t, db.Save())

	reloaded, err := LoadTagsDB(filepath.Join(dir, "tags.json"))
	require.NoError(t, err)
	assert.Equal(t, []string{"handle-1"}, reloaded.HandlesForTag("nightly"))
}

func TestTagsDBRejectsInvalidNames(t *testing.T) {
	dir := t.TempDir()
	db, err := LoadTagsDB(filepath.Join(dir, "tags.json"))
	require.NoError(t, err)

	require.Error(t, db.Add("123", "handle-1"), "purely numeric tags are reserved for rank filters")
	require.Error(t, db.Add("all", "handle-1"), "\"all\" is reserved to mean every handle")
	require.Error(t, db.Add("has space", "handle-1"), "whitespace is not alphanumeric")
	require.Error(t, db.Add("", "handle-1"), "empty tag")

	require.NoError(t, db.Add("nightly42", "handle-1"))
	assert.Equal(t, []string{"handle-1"}, db.HandlesForTag("nightly42"))
}

func TestCertDBPutGetIsContentAddressed(t *testing.T) {
	dir := t.TempDir()
	db := NewCertDB(dir)

	der := []byte("fake-der-bytes")
	hash, err := db.Put(der)
	require.NoError(t, err)
	assert.True(t, db.Has(hash))

	hash2, err := db.Put(der)
	require.NoError(t, err)
	assert.Equal(t, hash, hash2)

	got, err := db.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, der, got)
}
