package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/openfroyo/patchwork/pkg/manifest"
	"github.com/openfroyo/patchwork/pkg/telemetry"
)

// ManifestExtension is the file extension of manifest files.
const ManifestExtension = ".xml"

// MaxManifestSize bounds the size of a manifest file.
const MaxManifestSize = 4 << 20

// Entry is one manifest file found in a directory.
type Entry struct {
	Path string `validate:"required"`
	Size int64  `validate:"gt=0,lte=4194304"`
	Text string `validate:"-"`
}

// Rejection is a manifest file that could not be turned into a descriptor.
type Rejection struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %v", r.Path, r.Err)
}

// Unwrap returns the rejection cause.
func (r Rejection) Unwrap() error {
	return r.Err
}

// ScanResult is the content of a manifest directory.
type ScanResult struct {
	// Descriptors are the Install and Patch manifests, ordered by file name.
	Descriptors []engine.PatchDescriptor

	// Tools are the paths of Tool manifests. They are never resolved.
	Tools []string

	// Rejected lists files that failed to load.
	Rejected []Rejection
}

// DirSource reads the *.xml manifests of a directory as descriptors.
type DirSource struct {
	dir       string
	logger    *telemetry.Logger
	validator *validator.Validate
}

var _ engine.Catalog = (*DirSource)(nil)

// NewDirSource creates a source over dir.
func NewDirSource(dir string, logger *telemetry.Logger) *DirSource {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &DirSource{
		dir:       dir,
		logger:    logger.NewComponentLogger("catalog").WithField("dir", dir),
		validator: validator.New(),
	}
}

// Dir returns the scanned directory.
func (s *DirSource) Dir() string {
	return s.dir
}

// Scan reads every manifest of the directory. Files that fail to read,
// parse or convert are rejected without stopping the scan.
func (s *DirSource) Scan(ctx context.Context) (*ScanResult, error) {
	paths, err := s.manifestPaths()
	if err != nil {
		return nil, err
	}

	result := &ScanResult{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := s.readEntry(path)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{Path: path, Err: err})
			continue
		}

		head, err := manifest.ParseHead(entry.Text)
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{Path: path, Err: err})
			continue
		}
		if head.PackageType == engine.PackageTypeTool {
			result.Tools = append(result.Tools, path)
			continue
		}

		d, err := head.Descriptor()
		if err == nil {
			err = d.Validate()
		}
		if err != nil {
			result.Rejected = append(result.Rejected, Rejection{Path: path, Err: err})
			continue
		}
		result.Descriptors = append(result.Descriptors, d)
	}

	s.logger.Debugf("Scanned %d manifests, %d descriptors, %d rejected",
		len(paths), len(result.Descriptors), len(result.Rejected))
	return result, nil
}

// Descriptors implements engine.Catalog. Rejected files are logged and
// left out.
func (s *DirSource) Descriptors(ctx context.Context) ([]engine.PatchDescriptor, error) {
	result, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range result.Rejected {
		s.logger.WithField("file", r.Path).WithError(r.Err).Warn("Manifest rejected")
	}
	return result.Descriptors, nil
}

func (s *DirSource) manifestPaths() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory %s: %w", s.dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsManifestFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *DirSource) readEntry(path string) (*Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat manifest: %w", err)
	}
	entry := &Entry{Path: path, Size: info.Size()}
	if err := s.validator.Struct(entry); err != nil {
		return nil, fmt.Errorf("invalid manifest file: %w", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	entry.Text = string(content)
	return entry, nil
}

// IsManifestFile reports whether name has the manifest extension.
// Editor temporaries starting with "." or "~" are ignored.
func IsManifestFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ManifestExtension)
}
