// Package config provides the tokei configuration store and the typed
// settings the run orchestrator consumes.
//
// # Overview
//
// The configuration lives in a single JSON document per user
// (<root>/config.json). It is produced by the setup flow, read once per
// run, and only ever replaced wholesale: callers load the record, modify
// it, and save it back. Saves are atomic so a crash never leaves a
// truncated file behind.
//
// # Components
//
// Store: loads and saves a Record. Loading never fails; a missing or
// malformed file degrades to an empty record plus a warning so that a run
// can still proceed against defaults.
//
// Record: the raw mapping of named sections to values. It is always a
// JSON object, never null or an array.
//
// Settings: the typed, validated view of a Record (producer endpoints,
// output paths, adapter and renderer commands, telemetry).
//
// Paths: deterministic resolution of the per-user root and the
// directories derived from it.
//
// # Usage Example
//
//	paths := config.ResolvePaths(os.Getenv, home)
//	store := config.NewStore(paths.Config)
//
//	rec, warnings := store.Load()
//	for _, w := range warnings {
//	    log.Warn().Msg(w)
//	}
//
//	settings, err := rec.Settings(paths)
//	if err != nil {
//	    return err
//	}
//
//	rec.Set("hashi.port", 8766)
//	if err := store.Save(rec); err != nil {
//	    return err
//	}
package config
