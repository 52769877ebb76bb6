package store

import (
	"fmt"
	"io"
	"os"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"golang.org/x/sync/singleflight"
)

// SpecMediaType identifies a sweep document stored as an OCI artifact layer.
const SpecMediaType = types.MediaType("application/vnd.sweepctl.spec.v1+yaml")

const defaultRegistry = "ghcr.io"

var pullGroup singleflight.Group

// PublishSpec pushes the sweep document at inPath to ociRef and returns the
// digest-pinned reference.
func PublishSpec(inPath string, ociRef string) (string, error) {
	raw, err := os.ReadFile(inPath)
	if err != nil {
		return "", fmt.Errorf("read sweep: %w", err)
	}
	ref, err := name.ParseReference(ociRef, name.WithDefaultRegistry(defaultRegistry))
	if err != nil {
		return "", fmt.Errorf("parse oci ref: %w", err)
	}

	layer := static.NewLayer(raw, SpecMediaType)
	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return "", fmt.Errorf("append layer: %w", err)
	}
	img = mutate.MediaType(img, types.OCIManifestSchema1)

	if err := remote.Write(ref, img, remote.WithAuthFromKeychain(authn.DefaultKeychain)); err != nil {
		return "", fmt.Errorf("push oci artifact: %w", err)
	}
	digest, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("compute digest: %w", err)
	}
	return ref.Context().Digest(digest.String()).String(), nil
}

// PullSpecBytes fetches the sweep document stored at ociRef. Concurrent pulls
// of the same reference share one download.
func PullSpecBytes(ociRef string) ([]byte, error) {
	v, err, _ := pullGroup.Do(ociRef, func() (any, error) {
		return pullLayer(ociRef)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// PullSpec writes the sweep document stored at ociRef to outPath.
func PullSpec(ociRef string, outPath string) error {
	raw, err := PullSpecBytes(ociRef)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, raw, 0o644); err != nil {
		return fmt.Errorf("write pulled sweep: %w", err)
	}
	return nil
}

func pullLayer(ociRef string) ([]byte, error) {
	ref, err := name.ParseReference(ociRef, name.WithDefaultRegistry(defaultRegistry))
	if err != nil {
		return nil, fmt.Errorf("parse oci ref: %w", err)
	}
	img, err := remote.Image(ref, remote.WithAuthFromKeychain(authn.DefaultKeychain))
	if err != nil {
		return nil, fmt.Errorf("pull oci artifact: %w", err)
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("read layers: %w", err)
	}
	for _, l := range layers {
		mt, err := l.MediaType()
		if err != nil || mt != SpecMediaType {
			continue
		}
		rc, err := l.Uncompressed()
		if err != nil {
			return nil, fmt.Errorf("read layer payload: %w", err)
		}
		defer rc.Close()
		raw, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read layer bytes: %w", err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("oci artifact has no %s layer", SpecMediaType)
}
