// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"strings"

	"github.com/imagesmith/imagesmith/internal/pkgmgr"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

// RenderDockerfile renders def as the Dockerfile the dockerfile backend would
// build, without an engine. Copy sources and env files are still resolved
// against contextDir. Credentials appear only as secret mounts.
func RenderDockerfile(ctx context.Context, def *imagedef.Definition, manager pkgmgr.Manager, contextDir string) (string, error) {
	var out strings.Builder
	cfg := DefaultConfig()
	cfg.Apply(WithContextDir(contextDir), WithCache(false))

	asm := NewAssembler(NewDockerfileBackend(nil, WithRenderTo(&out)), NewPackageInstaller(manager), nil, cfg)
	if _, err := asm.Assemble(ctx, def); err != nil {
		return "", err
	}
	return out.String(), nil
}
