package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ArchiveOptions)(nil)

// ArchiveOptions configures the local journal that received events are
// appended to. An empty directory disables journaling.
type ArchiveOptions struct {
	Dir          string `json:"dir" mapstructure:"dir"`
	SegmentBytes int64  `json:"segment-bytes" mapstructure:"segment-bytes"`
}

func NewArchiveOptions() *ArchiveOptions {
	return &ArchiveOptions{
		SegmentBytes: 1 << 20,
	}
}

func (o *ArchiveOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.SegmentBytes < 0 {
		errors = append(errors, fmt.Errorf("archive segment size must not be negative, got %d", o.SegmentBytes))
	}

	return errors
}

func (o *ArchiveOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Dir, "archive.dir", o.Dir, "Directory for the local event journal. Empty disables journaling.")
	fs.Int64Var(&o.SegmentBytes, "archive.segment-bytes", o.SegmentBytes, "Rotate journal segments after this many bytes.")
}
