package records

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stamp = time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestNextPathFormat(t *testing.T) {
	dir := t.TempDir()

	path, err := NextPath(dir, "mp3", stamp)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240309_140507_audio.mp3"), path)

	path, err = NextPath(dir, ".mp3", stamp)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240309_140507_audio.mp3"), path, "leading dot is tolerated")
}

func TestNextPathSameSecond(t *testing.T) {
	dir := t.TempDir()

	first, err := NextPath(dir, "mp3", stamp)
	require.NoError(t, err)
	touch(t, first)

	second, err := NextPath(dir, "mp3", stamp)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240309_140507_audio_1.mp3"), second)
	touch(t, second)

	third, err := NextPath(dir, "mp3", stamp)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240309_140507_audio_2.mp3"), third)
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()

	_, err := Latest(dir, "mp3")
	assert.ErrorIs(t, err, ErrNoRecords)

	older := filepath.Join(dir, "20240101_000000_audio.mp3")
	newer := filepath.Join(dir, "20240102_000000_audio.mp3")
	touch(t, older)
	touch(t, newer)
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "20240103_000000_audio.wav"))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	latest, err := Latest(dir, "mp3")
	require.NoError(t, err)
	assert.Equal(t, newer, latest)

	latest, err = Latest(dir, "wav")
	require.NoError(t, err)
	assert.Equal(t, "20240103_000000_audio.wav", filepath.Base(latest))
}

func TestLatestMissingDirectory(t *testing.T) {
	_, err := Latest(filepath.Join(t.TempDir(), "absent"), "mp3")
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestCreateClaimsName(t *testing.T) {
	dir := t.TempDir()

	first, err := Create(dir, "mp3", stamp)
	require.NoError(t, err)
	defer first.Close()
	second, err := Create(dir, "mp3", stamp)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, filepath.Join(dir, "20240309_140507_audio.mp3"), first.Name())
	assert.Equal(t, filepath.Join(dir, "20240309_140507_audio_1.mp3"), second.Name())

	_, err = first.Write([]byte("a"))
	require.NoError(t, err)
	_, err = second.Write([]byte("b"))
	require.NoError(t, err)
	data, err := os.ReadFile(first.Name())
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestCreateMissingDirectory(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "absent"), "mp3", stamp)
	assert.Error(t, err)
}

func TestLatestSkipsEmptyRecords(t *testing.T) {
	dir := t.TempDir()
	done := filepath.Join(dir, "20240101_000000_audio.mp3")
	touch(t, done)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(done, past, past))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20240102_000000_audio.mp3"), nil, 0644))

	latest, err := Latest(dir, "mp3")
	require.NoError(t, err)
	assert.Equal(t, done, latest)
}
