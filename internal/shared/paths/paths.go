package paths

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Directory and file names inside the data root.
const (
	AppsDir         = "Apps"
	CertificatesDir = "Certificates"
	TmpDir          = "tmp"
	DatabaseFile    = "registry.db"
	LockFile        = "registry.lock"

	BundleDir    = "bundle"
	IconBase     = "icon"
	MetadataFile = "metadata.json"
)

// Layout resolves paths below a data root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root.
func New(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// Apps returns the parent of all application directories.
func (l Layout) Apps() string {
	return filepath.Join(l.Root, AppsDir)
}

// Certificates returns the certificate store directory.
func (l Layout) Certificates() string {
	return filepath.Join(l.Root, CertificatesDir)
}

// Tmp returns the scratch directory purged at startup.
func (l Layout) Tmp() string {
	return filepath.Join(l.Root, TmpDir)
}

// Database returns the registry database file path.
func (l Layout) Database() string {
	return filepath.Join(l.Root, DatabaseFile)
}

// Lock returns the file that guards the data root against a second process.
func (l Layout) Lock() string {
	return filepath.Join(l.Root, LockFile)
}

// App returns the paths of a single application directory.
func (l Layout) App(appID string) App {
	return App{ID: appID, Dir: filepath.Join(l.Apps(), appID)}
}

// StandardDirectories returns all directories that should exist at startup.
func (l Layout) StandardDirectories() []string {
	return []string{l.Apps(), l.Certificates(), l.Tmp()}
}

// App returns application-specific paths
type App struct {
	ID  string
	Dir string
}

// BundleDir returns the app's bundle directory
func (a App) BundleDir() string {
	return filepath.Join(a.Dir, BundleDir)
}

// IconFile returns the icon path for the given extension (with leading dot).
func (a App) IconFile(ext string) string {
	return filepath.Join(a.Dir, IconBase+ext)
}

// MetadataFile returns the app's metadata cache path
func (a App) MetadataFile() string {
	return filepath.Join(a.Dir, MetadataFile)
}

// Resolve joins a path relative to the app directory. It fails if rel would
// escape the directory.
func (a App) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	full := filepath.Join(a.Dir, rel)
	if !strings.HasPrefix(full, a.Dir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes application directory", rel)
	}
	return full, nil
}

// ValidateAppID checks if an app ID is valid for path construction
func ValidateAppID(appID string) error {
	if appID == "" {
		return fmt.Errorf("app ID cannot be empty")
	}
	if filepath.IsAbs(appID) {
		return fmt.Errorf("app ID cannot be an absolute path")
	}
	if filepath.Clean(appID) != appID || appID == "." || appID == ".." {
		return fmt.Errorf("app ID contains invalid path components")
	}
	if strings.ContainsAny(appID, `/\`) {
		return fmt.Errorf("app ID cannot contain path separators")
	}
	return nil
}
