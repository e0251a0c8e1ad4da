//go:build !linux

package sandbox

import (
	"context"
	"fmt"

	appErr "botarena/pkg/errors"
)

// NewLauncher returns an error on non-Linux platforms.
func NewLauncher(ctx context.Context, cfg Config) (Launcher, error) {
	return nil, appErr.Wrap(fmt.Errorf("bot sandbox requires linux"), appErr.SandboxError)
}
