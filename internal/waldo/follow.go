package waldo

import (
	"context"
	"io"
	"os"
	"time"
)

// followPollInterval is how often the follower re-checks a drained file.
const followPollInterval = 250 * time.Millisecond

// follower is a tail-style reader over a growing log file. It starts at
// the current end of the file and blocks at EOF until more data arrives
// or the context is canceled.
//
// TODO: reopen the file when logrotate renames it out from under us.
type follower struct {
	ctx  context.Context
	file *os.File
}

func newFollower(ctx context.Context, path string) (*follower, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	// Only new lines matter; skip whatever the file already holds.
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}

	return &follower{ctx: ctx, file: f}, nil
}

// Read blocks at end of file. Cancellation surfaces as a clean EOF so a
// bufio.Scanner on top finishes without an error.
func (f *follower) Read(p []byte) (int, error) {
	for {
		n, err := f.file.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		select {
		case <-f.ctx.Done():
			return 0, io.EOF
		case <-time.After(followPollInterval):
		}
	}
}

func (f *follower) Close() error {
	return f.file.Close()
}
