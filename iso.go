package appbundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kdomanski/iso9660"
)

// ISOPayload is the name of the bundle archive inside an ISO image.
const ISOPayload = "bundle.tgz"

// ISO packages the bundle as an ISO9660 image holding one gzipped tarball of
// the bundle.
//
// Note: plain ISO9660 mangles file names (case, interior dots) and carries no
// permission bits, so the bundle tree is never stored directly. Extract the
// payload to get a runnable bundle.
type ISO struct {
	VolumeID string
}

func (p ISO) Package(ctx context.Context, root, output string) error {
	id := p.VolumeID
	if id == "" {
		id = "unspecified"
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s not a directory", root)
	}
	scratch, err := os.MkdirTemp("", "appbundle-iso-*")
	if err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)
	payload := filepath.Join(scratch, ISOPayload)
	if err := (Tarball{Compression: "gz"}).Package(ctx, root, payload); err != nil {
		return err
	}
	writer, err := iso9660.NewWriter()
	if err != nil {
		return fmt.Errorf("initialising writer: %w", err)
	}
	defer writer.Cleanup()
	f, err := os.Open(payload)
	if err != nil {
		return fmt.Errorf("opening payload: %w", err)
	}
	defer f.Close()
	if err := writer.AddFile(f, ISOPayload); err != nil {
		return fmt.Errorf("adding payload to image: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("preparing output directory: %w", err)
	}
	outputFile, err := os.OpenFile(output, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if err := writer.WriteTo(outputFile, id); err != nil {
		outputFile.Close()
		return fmt.Errorf("writing ISO image: %w", err)
	}
	if err := outputFile.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	return nil
}
