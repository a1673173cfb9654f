// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	digest "github.com/opencontainers/go-digest"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

// DefaultCacheRepository is the repository cached images are tagged into.
const DefaultCacheRepository = "imagesmith-cache"

// ImageStore is the part of a container engine the cache needs.
type ImageStore interface {
	ImageExists(ctx context.Context, image string) (bool, error)
	Tag(ctx context.Context, source, target string) error
}

// CacheKey digests everything that determines the built image: base
// reference, labels, package manager, every step in order and the contents
// of every copied source and env file. Output tags are not part of the key.
// Passwords enter the key only as their SHA-256.
func CacheKey(def *imagedef.Definition, manager string, src *sources) (digest.Digest, error) {
	d := digest.Canonical.Digester()
	w := d.Hash()

	fmt.Fprintf(w, "base\x00%s\n", def.Base())
	fmt.Fprintf(w, "manager\x00%s\n", manager)
	labels := def.Labels()
	for _, k := range sortedKeys(labels) {
		fmt.Fprintf(w, "label\x00%s\x00%s\n", k, labels[k])
	}

	for i, step := range def.Steps() {
		fmt.Fprintf(w, "step\x00%d\x00%s\x00", i, step.Kind())
		writeStep(w, step)
		for _, c := range src.copies[i] {
			sum, err := CalculateTreeHash(c.HostPath)
			if err != nil {
				return "", &StepError{Index: i, Kind: step.Kind(),
					Err: &FileCopyError{Source: c.Source, Destination: c.Destination, Err: err}}
			}
			fmt.Fprintf(w, "tree\x00%s\x00", sum)
		}
		for _, v := range src.envFiles[i] {
			fmt.Fprintf(w, "envfile\x00%s=%s\x00", v.Key, v.Value)
		}
		_, _ = io.WriteString(w, "\n")
	}
	return d.Digest(), nil
}

// CacheTag returns the cache reference for key in repository.
func CacheTag(repository string, key digest.Digest) string {
	return repository + ":" + key.Encoded()[:12]
}

func writeStep(w io.Writer, step imagedef.Step) {
	switch s := step.(type) {
	case imagedef.InstallPackages:
		fmt.Fprintf(w, "%q", s.PackageStrings())
	case imagedef.ReinstallPackages:
		fmt.Fprintf(w, "%q %t", s.Exclude, s.RestoreDocs)
	case imagedef.CreateUser:
		pw := sha256.Sum256([]byte(s.User.Password.Reveal()))
		fmt.Fprintf(w, "%s %s %q %s %s", s.User.Username, hex.EncodeToString(pw[:]),
			s.User.Groups, s.User.LoginShell(), s.User.HomeDir())
	case imagedef.CopyFiles:
		for _, c := range s.Copies {
			fmt.Fprintf(w, "%s>%s:%s;", c.Source, c.Destination, c.Owner)
		}
	case imagedef.SetEnv:
		for _, v := range s.Vars {
			fmt.Fprintf(w, "%s=%q;", v.Key, v.Value)
		}
		fmt.Fprintf(w, "file=%s", s.File)
	case imagedef.SetWorkdir:
		_, _ = io.WriteString(w, string(s.Path))
	case imagedef.Run:
		fmt.Fprintf(w, "%s\x00%s", s.User, s.Script)
	case imagedef.SetCommand:
		fmt.Fprintf(w, "%q", s.Argv)
	}
}
