package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/archive"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
	"github.com/withObsrvr/vflp-ligand-prep/internal/storage"
)

// Output types that are not target formats.
const (
	OutputStatus       = "status"
	OutputIntermediate = "intermediate"
)

// RemoteKey returns the key of one collection output below the job prefix:
// <prefix>/complete/<type>/<mt>/<t>/<coll>.<ext>.
func RemoteKey(prefix, outputType, metatranche, tranche, collection, ext string) string {
	return path.Join(prefix, "complete", outputType, metatranche, tranche, collection+"."+ext)
}

// ManifestKey returns the key of the manifest of one collection.
func ManifestKey(prefix, metatranche, tranche, collection string) string {
	return path.Join(prefix, "complete", "manifest", metatranche, tranche, collection, "_manifest.json")
}

// PackagerConfig configures a Packager.
type PackagerConfig struct {
	Prefix           string
	Formats          []string
	KeepIntermediate bool
	Workunit         string
	Subjob           string
	Producer         storage.ProducerInfo
}

// Packager archives the outputs of a collection and uploads them.
type Packager struct {
	store storage.Store
	cfg   PackagerConfig
	log   *slog.Logger
}

// NewPackager creates a packager that uploads through store.
func NewPackager(store storage.Store, cfg PackagerConfig, logger *slog.Logger) *Packager {
	return &Packager{store: store, cfg: cfg, log: logger.With("component", "packager")}
}

type artifact struct {
	name  string
	local string
	key   string
}

// Package writes the summary and one archive per output format, then
// uploads them with a manifest. Formats without files are skipped. Any
// upload failure is returned.
func (p *Packager) Package(ctx context.Context, layout pipeline.Layout, summary *Summary) (*storage.Manifest, error) {
	var items []artifact

	if err := summary.WriteFile(layout.StatusFile()); err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	items = append(items, artifact{
		name:  OutputStatus,
		local: layout.StatusFile(),
		key:   RemoteKey(p.cfg.Prefix, OutputStatus, layout.Metatranche, layout.Tranche, layout.Collection, "json.gz"),
	})

	outDir := filepath.Join(layout.Root, "upload")
	for _, format := range p.cfg.Formats {
		a, ok, err := p.tarball(format, layout.CompleteDir(format), outDir, layout)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, a)
		}
	}
	if p.cfg.KeepIntermediate {
		a, ok, err := p.tarball(OutputIntermediate, layout.IntermediateDir(), outDir, layout)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, a)
		}
	}

	manifest := &storage.Manifest{
		Collection: storage.CollectionInfo{
			Metatranche: layout.Metatranche,
			Tranche:     layout.Tranche,
			Name:        layout.Collection,
			Ligands:     len(summary.Ligands),
			Workunit:    p.cfg.Workunit,
			Subjob:      p.cfg.Subjob,
		},
		Artifacts: map[string]storage.ArtifactInfo{},
		Producer:  p.cfg.Producer,
		CreatedAt: time.Now().UTC(),
	}

	for _, a := range items {
		checksum, size, err := storage.ChecksumFile(a.local)
		if err != nil {
			return nil, err
		}
		if err := p.store.PutFile(ctx, a.key, a.local); err != nil {
			return nil, fmt.Errorf("upload %s: %w", a.key, err)
		}
		manifest.Artifacts[a.name] = storage.ArtifactInfo{Key: a.key, Checksum: checksum, ByteSize: size}
		p.log.Debug("uploaded", "artifact", a.name, "key", a.key, "bytes", size)
	}

	data, err := manifest.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	key := ManifestKey(p.cfg.Prefix, layout.Metatranche, layout.Tranche, layout.Collection)
	if err := p.store.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("upload manifest: %w", err)
	}
	return manifest, nil
}

func (p *Packager) tarball(outputType, src, outDir string, layout pipeline.Layout) (artifact, bool, error) {
	dest := filepath.Join(outDir, outputType, layout.Collection+".tar.gz")
	n, err := archive.TarGzDir(src, dest)
	if errors.Is(err, archive.ErrEmptyDir) {
		p.log.Warn("no output to archive", "type", outputType, "collection", layout.CollectionKey())
		return artifact{}, false, nil
	}
	if err != nil {
		return artifact{}, false, fmt.Errorf("archive %s: %w", outputType, err)
	}
	p.log.Debug("archived", "type", outputType, "files", n)
	return artifact{
		name:  outputType,
		local: dest,
		key:   RemoteKey(p.cfg.Prefix, outputType, layout.Metatranche, layout.Tranche, layout.Collection, "tar.gz"),
	}, true, nil
}
