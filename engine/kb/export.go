package kb

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

// StoreDir is the archive directory holding the vector store data.
const StoreDir = "qdrant"

// Manifest describes a knowledge pack.
type Manifest struct {
	VehicleType    string   `json:"vehicle_type"`
	Version        string   `json:"version"`
	BuiltAt        string   `json:"built_at"`
	EmbeddingModel string   `json:"embedding_model"`
	Collections    []string `json:"collections"`
	TotalChunks    int      `json:"total_chunks"`
	Stats          Stats    `json:"stats"`
}

// PackName is the archive file name of a vehicle's pack.
func PackName(vehicle, version string) string {
	return fmt.Sprintf("%s_kb_v%s.tar.gz", vehicle, version)
}

// Export writes a gzipped tarball to out holding {vehicle}/manifest.json
// and the whole persistence directory under {vehicle}/qdrant. An empty
// knowledge base is exported with a warning.
func (b *Builder) Export(ctx context.Context, vehicle, out, version string) (Manifest, error) {
	ctx, span := tracer.Start(ctx, "kb.Export")
	defer span.End()
	span.SetAttributes(attribute.String("vehicle", vehicle), attribute.String("version", version))

	if err := domain.ValidateVehicleType(vehicle); err != nil {
		return Manifest{}, err
	}
	st, err := b.Stats(ctx, vehicle)
	if err != nil {
		return Manifest{}, err
	}
	if st.TotalChunks == 0 {
		b.log.Warn("no chunks indexed, export will be empty", "vehicle", vehicle)
	}
	m := Manifest{
		VehicleType:    vehicle,
		Version:        version,
		BuiltAt:        b.opts.Now().UTC().Format(time.RFC3339),
		EmbeddingModel: b.opts.EmbeddingModel,
		Collections:    st.Categories(),
		TotalChunks:    st.TotalChunks,
		Stats:          st,
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return m, err
	}
	tmp := out + ".tmp"
	if err := writePack(ctx, tmp, vehicle, m, b.opts.PersistDir); err != nil {
		os.Remove(tmp)
		return m, err
	}
	if err := os.Rename(tmp, out); err != nil {
		return m, err
	}
	if fi, err := os.Stat(out); err == nil {
		b.log.Info("knowledge pack exported",
			"vehicle", vehicle, "version", version, "path", out,
			"mb", fmt.Sprintf("%.1f", float64(fi.Size())/(1<<20)), "chunks", st.TotalChunks)
	}
	return m, nil
}

func writePack(ctx context.Context, dst, vehicle string, m Manifest, persistDir string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = writeManifest(tw, vehicle, m)
	if err == nil && persistDir != "" {
		err = addDir(ctx, tw, persistDir, path.Join(vehicle, StoreDir))
	}
	return errors.Join(err, tw.Close(), gz.Close(), f.Close())
}

func writeManifest(tw *tar.Writer, vehicle string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    path.Join(vehicle, "manifest.json"),
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = tw.Write(data)
	return err
}

// addDir archives every regular file under root below prefix. A missing
// root adds nothing.
func addDir(ctx context.Context, tw *tar.Writer, root, prefix string) error {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() && !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path.Join(prefix, filepath.ToSlash(rel))
		if d.IsDir() {
			if rel == "." {
				hdr.Name = prefix
			}
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}

// ReadManifest returns the manifest of a pack written by Export.
func ReadManifest(pack string) (Manifest, error) {
	var m Manifest
	f, err := os.Open(pack)
	if err != nil {
		return m, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return m, err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return m, fmt.Errorf("%s: manifest.json: %w", filepath.Base(pack), domain.ErrNotFound)
		}
		if err != nil {
			return m, err
		}
		if path.Base(hdr.Name) == "manifest.json" && strings.Count(hdr.Name, "/") == 1 {
			return m, json.NewDecoder(tr).Decode(&m)
		}
	}
}
