package gtfs

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"
)

// DefaultMaxUncompressedBytes bounds the decompressed size of all
// allow-listed entries when the caller passes no limit.
const DefaultMaxUncompressedBytes int64 = 1 << 30

var ErrArchiveTooLarge = errors.New("archive exceeds the uncompressed size limit")

// ReadArchive loads every allow-listed file from a zip archive. Entries are
// matched by base name so feeds packed inside a single folder still load.
// Unknown entries are skipped; an archive without any allow-listed entry is
// rejected. The decompressed size of the loaded entries together may not
// exceed maxUncompressed (<= 0 selects DefaultMaxUncompressedBytes).
func ReadArchive(r io.ReaderAt, size, maxUncompressed int64) (Feed, error) {
	reader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &FileFormatError{Err: fmt.Errorf("open zip archive: %w", err)}
	}
	if maxUncompressed <= 0 {
		maxUncompressed = DefaultMaxUncompressedBytes
	}

	remaining := maxUncompressed
	feed := Feed{}
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || strings.HasPrefix(entry.Name, "__MACOSX/") {
			continue
		}
		name := path.Base(entry.Name)
		if _, ok := TableForFile(name); !ok {
			continue
		}
		if _, dup := feed[name]; dup {
			return nil, &FileFormatError{File: name, Err: errors.New("file appears more than once in archive")}
		}

		content, err := readEntry(entry, remaining)
		if err != nil {
			return nil, &FileFormatError{File: name, Err: err}
		}
		remaining -= int64(len(content))
		feed[name] = content
	}

	if len(feed) == 0 {
		return nil, &FileFormatError{Err: ErrNoRecognizedFiles}
	}
	return feed, nil
}

// readEntry reads at most limit bytes. The declared size is checked first,
// but headers can lie, so the read itself is bounded too.
func readEntry(entry *zip.File, limit int64) (string, error) {
	if limit <= 0 || entry.UncompressedSize64 > uint64(limit) {
		return "", fmt.Errorf("%w of %d bytes", ErrArchiveTooLarge, limit)
	}
	rc, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("open entry: %w", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return "", fmt.Errorf("read entry: %w", err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("%w of %d bytes", ErrArchiveTooLarge, limit)
	}
	if !utf8.Valid(data) {
		return "", errors.New("content is not valid UTF-8")
	}
	return string(data), nil
}
