package cache

// errors.go enumerates the error kinds from distilled spec §7. Most of them
// never escape the package (index corruption and staleness are recovered
// internally); the few that are caller-visible are exposed as sentinel
// values so callers can use errors.Is.
//
// © 2025 simplecache authors. MIT License.

import "errors"

var (
	// ErrPathError means the cache directory could not be created or
	// accessed. Fatal for the coordinator: New returns it (also when the
	// directory is already owned), WaitReady returns it when the fake index
	// cannot be read, and the coordinator must not be used afterwards.
	ErrPathError = errors.New("simplecache: cache directory path error")

	// ErrVersionTooOld means the on-disk fake index predates the minimum
	// upgradable version. Caller must delete the whole directory and retry.
	ErrVersionTooOld = errors.New("simplecache: cache version too old, drop and recreate")

	// ErrVersionFromTheFuture means the on-disk fake index is newer than
	// this build understands. Caller must delete the whole directory and
	// retry (or upgrade the binary).
	ErrVersionFromTheFuture = errors.New("simplecache: cache version from the future, drop and recreate")

	// ErrExperimentChange means the fake index's reserved fields are
	// non-zero, signalling an experiment-driven invalidation. Caller must
	// delete the whole directory and retry.
	ErrExperimentChange = errors.New("simplecache: cache experiment changed, drop and recreate")

	// ErrEntryIOFailure wraps a per-entry file operation failure. It never
	// invalidates the cache as a whole.
	ErrEntryIOFailure = errors.New("simplecache: entry I/O failure")

	// ErrCancelled is delivered to execute_when_ready callbacks still
	// pending when the index is torn down before initialization completes.
	ErrCancelled = errors.New("simplecache: operation cancelled")

	// ErrNotFound means the requested key/hash has no live entry.
	ErrNotFound = errors.New("simplecache: entry not found")

	// ErrClosed means the coordinator has been shut down.
	ErrClosed = errors.New("simplecache: backend closed")

	errInvalidMaxSize = errors.New("simplecache: max size bytes must be > 0")
	errInvalidDir     = errors.New("simplecache: cache directory must be set")
)
