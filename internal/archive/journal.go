// Package archive persists received events as rotating newline-delimited
// JSON segments and ships finished segments to object storage.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/screenmon-io/screenmon/pkg/log"
)

// DefaultSegmentBytes is the rotation threshold for journal segments.
const DefaultSegmentBytes int64 = 1 << 20

// uploadTimeout bounds a single background segment upload.
const uploadTimeout = time.Minute

// Journal appends records to a segment file, rotating to a fresh segment
// once the next record would push it past the size threshold. Finished
// segments go to the uploader in the background; the local copies stay on
// disk.
type Journal struct {
	dir      string
	maxBytes int64
	uploader Uploader

	mu     sync.Mutex
	file   *os.File
	size   int64
	closed bool

	wg sync.WaitGroup
}

// Open creates the journal directory and its first segment. A nil
// uploader keeps segments local only.
func Open(dir string, segmentBytes int64, uploader Uploader) (*Journal, error) {
	if segmentBytes <= 0 {
		segmentBytes = DefaultSegmentBytes
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{dir: dir, maxBytes: segmentBytes, uploader: uploader}
	if err := j.openSegment(); err != nil {
		return nil, err
	}

	return j, nil
}

func segmentName(now time.Time) string {
	return "events-" + now.Format("20060102-150405.000000000") + ".jsonl"
}

func (j *Journal) openSegment() error {
	path := filepath.Join(j.dir, segmentName(time.Now()))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal segment: %w", err)
	}

	j.file = f
	j.size = 0

	return nil
}

// Append writes one record followed by a newline. A full segment is
// rotated out before the write, so records never straddle segments.
func (j *Journal) Append(record []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return fmt.Errorf("journal is closed")
	}

	if j.size > 0 && j.size+int64(len(record))+1 > j.maxBytes {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	line := make([]byte, 0, len(record)+1)
	line = append(line, record...)
	line = append(line, '\n')

	n, err := j.file.Write(line)
	j.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append to journal: %w", err)
	}

	return nil
}

// rotate closes the active segment, ships it, and opens a fresh one.
// Callers must hold mu.
func (j *Journal) rotate() error {
	finished := j.file.Name()
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal segment: %w", err)
	}

	j.shipAsync(finished)

	return j.openSegment()
}

// shipAsync uploads one finished segment without blocking appends.
// Callers must hold mu so Close cannot start waiting mid-Add.
func (j *Journal) shipAsync(path string) {
	if j.uploader == nil {
		return
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()

		object := objectName(path)
		if err := j.uploader.Upload(ctx, object, path); err != nil {
			log.Error(err, "Failed to archive journal segment", "segment", path)
			return
		}

		log.Info("Archived journal segment", "segment", path, "object", object)
	}()
}

// objectName places segments under a per-day prefix.
func objectName(path string) string {
	return "events/" + time.Now().Format("2006-01-02") + "/" + filepath.Base(path)
}

// Close ships the final partial segment and waits for pending uploads.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true

	var err error
	if j.file != nil {
		final := j.file.Name()
		err = j.file.Close()
		if j.size > 0 {
			j.shipAsync(final)
		} else {
			_ = os.Remove(final)
		}
	}
	j.mu.Unlock()

	j.wg.Wait()

	return err
}
