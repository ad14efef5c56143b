package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mholt/archives"

	"github.com/calliope-audio/calliope/internal/logger"
)

// ArchivePathPrefix builds the synthetic path prefix for tracks inside an
// archive: unpack://<type>|<path length>|file://<archive path>! followed by
// the entry name. The length field makes the scheme reversible even when
// paths contain the separator characters.
func ArchivePathPrefix(archiveType, archivePath string) string {
	return fmt.Sprintf("unpack://%s|%d|file://%s!", archiveType, len(archivePath), archivePath)
}

// archiveFormat adapts a mholt/archives extractor to the ArchiveReader
// contract. Entries are buffered in memory so tag readers get a seekable
// stream.
type archiveFormat struct {
	typ       string
	extractor archives.Extractor
}

func newArchiveFormat(typ string) *archiveFormat {
	var extractor archives.Extractor
	switch typ {
	case "zip":
		extractor = archives.Zip{}
	case "rar":
		extractor = archives.Rar{}
	case "7z":
		extractor = archives.SevenZip{}
	default:
		return nil
	}
	return &archiveFormat{typ: typ, extractor: extractor}
}

// Type identifies the container format.
func (a *archiveFormat) Type() string {
	return a.typ
}

// ReadEntries opens the archive and streams each inner file entry to fn.
func (a *archiveFormat) ReadEntries(ctx context.Context, path string, fn func(entry string, src *Source) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer file.Close()

	return a.extractor.Extract(ctx, file, func(ctx context.Context, info archives.FileInfo) error {
		if info.IsDir() {
			return nil
		}

		entry, err := info.Open()
		if err != nil {
			logger.Debug("Failed to open archive entry", "archive", path, "entry", info.NameInArchive, "error", err)
			return nil
		}
		defer entry.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, entry); err != nil {
			logger.Debug("Failed to read archive entry", "archive", path, "entry", info.NameInArchive, "error", err)
			return nil
		}

		src := &Source{
			Path:   info.NameInArchive,
			Reader: bytes.NewReader(buf.Bytes()),
			Size:   int64(buf.Len()),
		}
		return fn(info.NameInArchive, src)
	})
}
