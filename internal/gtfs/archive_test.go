package gtfs

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadArchiveSkipsUnknownEntries(t *testing.T) {
	data := buildZip(t, map[string]string{
		"feed/agency.txt": "agency_id,agency_name\na1,Metro\n",
		"feed/stops.txt":  "stop_id,stop_lat,stop_lon\ns1,1,2\n",
		"feed/levels.txt": "level_id\nl1\n",
		"README.md":       "hi",
	})

	feed, err := ReadArchive(bytes.NewReader(data), int64(len(data)), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"agency.txt", "stops.txt"}, feed.Files())
	assert.Contains(t, feed["agency.txt"], "Metro")
}

func TestReadArchiveRejectsArchiveWithoutRecognizedFiles(t *testing.T) {
	data := buildZip(t, map[string]string{"notes.txt": "nothing"})

	_, err := ReadArchive(bytes.NewReader(data), int64(len(data)), 0)
	require.ErrorIs(t, err, ErrNoRecognizedFiles)
	var formatErr *FileFormatError
	require.ErrorAs(t, err, &formatErr)
}

func TestReadArchiveRejectsDuplicates(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a/stops.txt": "stop_id\ns1\n",
		"b/stops.txt": "stop_id\ns2\n",
	})

	_, err := ReadArchive(bytes.NewReader(data), int64(len(data)), 0)
	var formatErr *FileFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, "stops.txt", formatErr.File)
}

func TestReadArchiveRejectsNonZip(t *testing.T) {
	data := []byte("definitely not a zip")
	_, err := ReadArchive(bytes.NewReader(data), int64(len(data)), 0)
	var formatErr *FileFormatError
	require.ErrorAs(t, err, &formatErr)
}

func TestReadArchiveRejectsEntryExpandingPastLimit(t *testing.T) {
	huge := "stop_id\n" + strings.Repeat("s0000000\n", 1<<17)
	data := buildZip(t, map[string]string{"stops.txt": huge})
	require.Less(t, len(data), 64<<10)

	_, err := ReadArchive(bytes.NewReader(data), int64(len(data)), 64<<10)
	require.ErrorIs(t, err, ErrArchiveTooLarge)
	var formatErr *FileFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, "stops.txt", formatErr.File)
}

func TestReadArchiveLimitCoversAllEntries(t *testing.T) {
	data := buildZip(t, map[string]string{
		"agency.txt": "agency_id,agency_name\n" + strings.Repeat("a1,Metro\n", 60),
		"stops.txt":  "stop_id,stop_lat,stop_lon\n" + strings.Repeat("s1,1,2\n", 80),
	})

	feed, err := ReadArchive(bytes.NewReader(data), int64(len(data)), 1200)
	require.NoError(t, err)
	assert.Len(t, feed.Files(), 2)

	_, err = ReadArchive(bytes.NewReader(data), int64(len(data)), 700)
	require.ErrorIs(t, err, ErrArchiveTooLarge)
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := zip.NewWriter(buf)
	for name, content := range files {
		w, err := writer.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf.Bytes()
}
