package streams

import (
	"archive/zip"
	"context"
	"io"
	"time"
)

// ZipEntry is one archive member. Name is the posix-relative path inside the
// archive; folder entries end with "/" and carry no Open func.
type ZipEntry struct {
	Name     string
	Modified time.Time
	Open     func(ctx context.Context) (Stream, error)
}

// NextEntry yields archive members one at a time; it returns nil when the
// walk is exhausted. Errors abort the archive.
type NextEntry func(ctx context.Context) (*ZipEntry, error)

// NewZipStream produces a ZIP archive as a Stream by pulling entries on
// demand. The archive is built in a single pass through an in-process pipe:
// bytes are compressed only as fast as the consumer reads, the total size is
// unknown up front, and the result is not seekable. Closing the returned
// stream early tears down the producer.
func NewZipStream(ctx context.Context, next NextEntry) Stream {
	pr, pw := io.Pipe()

	go func() {
		zw := zip.NewWriter(pw)
		for {
			if err := ctx.Err(); err != nil {
				pw.CloseWithError(err)
				return
			}
			entry, err := next(ctx)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if entry == nil {
				break
			}
			if err := writeEntry(ctx, zw, entry); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		if err := zw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	return &reader{r: pr, c: pr, size: SizeUnknown}
}

func writeEntry(ctx context.Context, zw *zip.Writer, entry *ZipEntry) error {
	header := &zip.FileHeader{
		Name:     entry.Name,
		Method:   zip.Deflate,
		Modified: entry.Modified,
	}
	if entry.Open == nil {
		// Folder member: stored, no payload.
		header.Method = zip.Store
		_, err := zw.CreateHeader(header)
		return err
	}

	src, err := entry.Open(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = Copy(w, src)
	return err
}
