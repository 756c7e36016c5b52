package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/service"
	"github.com/geowatch/eogate/service/log"
	"github.com/google/uuid"
	"github.com/mholt/archiver"
)

var archiveExtensions = []string{".zip", ".tar", ".tar.gz", ".tgz", ".tar.bz2", ".tar.xz", ".rar", ".7z"}

func isArchive(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// finalize post-processes the fetched files: archives are extracted in place
// (unless skip_extract), a single wrapping directory is flattened away (unless
// keep_top_dir) and the archive is removed (unless keep_archive). Every
// archive is attempted; errors merge. It returns the local path of the
// product: the output directory, or the single fetched file when nothing was
// extracted.
func finalize(ctx context.Context, fetched []string, outputDir string, cfg config.DownloadConfig) (string, error) {
	extracted := false
	var merr error
	for _, localPath := range fetched {
		if cfg.SkipExtract || !isArchive(localPath) {
			continue
		}
		log.Logger(ctx).Sugar().Debugf("extracting %s", filepath.Base(localPath))
		if err := extract(localPath, outputDir, cfg.KeepTopDir); err != nil {
			merr = service.MergeErrors(true, merr, fmt.Errorf("finalize.%w", err))
			continue
		}
		extracted = true
		if !cfg.KeepArchive {
			if err := os.Remove(localPath); err != nil {
				merr = service.MergeErrors(true, merr, fmt.Errorf("finalize.%w", err))
			}
		}
	}
	if merr != nil {
		return "", merr
	}

	if !extracted && len(fetched) == 1 {
		return fetched[0], nil
	}
	return outputDir, nil
}

// extract unarchives into a scratch directory, then moves the entries up into
// dir. A single wrapping directory is flattened away unless keepTopDir.
// Extraction errors are temporary: a truncated archive is refetched.
func extract(archivePath, dir string, keepTopDir bool) error {
	tmpdir := filepath.Join(dir, ".extract-"+uuid.NewString())
	if err := os.MkdirAll(tmpdir, 0755); err != nil {
		return service.MakeTemporary(err)
	}
	defer os.RemoveAll(tmpdir)
	if err := archiver.Unarchive(archivePath, tmpdir); err != nil {
		return service.MakeTemporary(fmt.Errorf("extract[%s]: %w", filepath.Base(archivePath), err))
	}

	entries, err := os.ReadDir(tmpdir)
	if err != nil {
		return service.MakeTemporary(err)
	}
	if len(entries) == 0 {
		return service.MakeTemporary(fmt.Errorf("extract[%s]: empty archive", filepath.Base(archivePath)))
	}

	src := tmpdir
	if !keepTopDir && len(entries) == 1 && entries[0].IsDir() {
		src = filepath.Join(tmpdir, entries[0].Name())
		if entries, err = os.ReadDir(src); err != nil {
			return service.MakeTemporary(err)
		}
	}
	for _, entry := range entries {
		if err := os.Rename(filepath.Join(src, entry.Name()), filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("extract.%w", err)
		}
	}
	return nil
}
