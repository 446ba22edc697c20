package config

import "path/filepath"

// Environment variables honoured by path resolution.
const (
	EnvUserRoot = "TOKEI_USER_ROOT"
	EnvAppRoot  = "TOKEI_APP_ROOT"
)

// Paths are the filesystem locations derived from the per-user root.
type Paths struct {
	// Root is the per-user data root.
	Root string

	// AppRoot is where bundled helper scripts live. Defaults to Root.
	AppRoot string

	// Config is the configuration document.
	Config string

	// Cache holds the stats cache files the adapter writes.
	Cache string

	// State holds the run ledger, run lock and metrics textfile. It is
	// deliberately separate from Cache and Output.
	State string

	// Output is the default report directory (overridable by output_dir).
	Output string
}

// ResolvePaths computes Paths from the environment. An explicit
// TOKEI_USER_ROOT wins; otherwise the fixed per-user root <home>/.tokei is
// used. It performs no I/O.
func ResolvePaths(getenv func(string) string, home string) Paths {
	root := ""
	if getenv != nil {
		root = getenv(EnvUserRoot)
	}
	if root == "" {
		root = filepath.Join(home, ".tokei")
	}
	root = filepath.Clean(root)

	appRoot := ""
	if getenv != nil {
		appRoot = getenv(EnvAppRoot)
	}
	if appRoot == "" {
		appRoot = root
	}

	return Paths{
		Root:    root,
		AppRoot: filepath.Clean(appRoot),
		Config:  filepath.Join(root, "config.json"),
		Cache:   filepath.Join(root, "cache"),
		State:   filepath.Join(root, "state"),
		Output:  filepath.Join(root, "output"),
	}
}

// resolveUnder returns p if absolute, otherwise p joined onto base.
func resolveUnder(base, p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
