//go:build !linux

package serial

import (
	"fmt"
	"io"
)

// OpenPort is only implemented on Linux. Use a tcp:// device or the
// simulator elsewhere.
func OpenPort(device string, baud int) (io.ReadCloser, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, device)
}
