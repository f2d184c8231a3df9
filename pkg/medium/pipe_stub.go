//go:build !windows

package medium

import (
	"fmt"

	"github.com/rndi/srt/pkg/uri"
)

func newPipeSource(uri.Location) (Source, error) {
	return nil, fmt.Errorf("pipe medium is not supported on this platform")
}

func newPipeTarget(uri.Location) (Target, error) {
	return nil, fmt.Errorf("pipe medium is not supported on this platform")
}
