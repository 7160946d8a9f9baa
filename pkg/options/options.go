// Package options defines reusable option groups shared by the screenmon
// command-line applications. Each group knows how to register its flags,
// validate itself, and hand its values to the component it configures.
package options

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// IOptions defines the methods an option group must implement.
type IOptions interface {
	// Validate validates all the required options.
	Validate() []error

	// AddFlags adds flags related to a given option group to the
	// specified FlagSet.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks that addr is a valid "host:port" string.
func ValidateAddress(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%q is not a valid address: %w", addr, err)
	}

	return nil
}
