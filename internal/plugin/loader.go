package plugin

import (
	"os"
	"path/filepath"
	"sort"
)

// Discover lists the immediate subdirectories of each root. Roots are
// scanned in order and each root's entries are sorted by name. A root that
// does not exist or cannot be read contributes nothing.
func Discover(roots ...string) []string {
	var dirs []string
	for _, root := range roots {
		if root == "" {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if isDir(root, entry) {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			dirs = append(dirs, filepath.Join(root, name))
		}
	}
	return dirs
}

// isDir reports whether entry is a directory, following symlinks.
func isDir(root string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(root, entry.Name()))
	return err == nil && info.IsDir()
}

// DefaultRoots returns the plugin roots searched when none are configured:
// the core plugins shipped next to the binary, the default plugins (only
// when useDefaultConfig is set) and the user's plugin directory.
func DefaultRoots(installDir string, useDefaultConfig bool) []string {
	roots := make([]string, 0, 3)

	if installDir != "" {
		roots = append(roots, filepath.Join(installDir, "plugins", "core"))
		if useDefaultConfig {
			roots = append(roots, filepath.Join(installDir, "plugins", "default"))
		}
	}

	// User plugins: ~/.config/exthost/plugins/
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, ".config", "exthost", "plugins"))
	}

	return roots
}
