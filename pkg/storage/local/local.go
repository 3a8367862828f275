// Package local implements the contract.Adapter contract against the local
// filesystem, with crash-safe atomic writes and base-directory containment.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentsnap/persist-core/pkg/persisterr"
	"github.com/agentsnap/persist-core/pkg/storage/contract"
)

// Adapter is a contract.Adapter backed by the local filesystem. All keys are
// resolved relative to baseDir and must not escape it after
// canonicalization.
type Adapter struct {
	baseDir string
	// filePermissions overrides the default 0644 used for written files,
	// for callers that want an owner-only mode.
	filePermissions os.FileMode
}

// Option configures an Adapter at construction.
type Option func(*Adapter)

// WithFilePermissions sets the mode used for newly written files (e.g.
// 0o600 for owner-only read/write).
func WithFilePermissions(mode os.FileMode) Option {
	return func(a *Adapter) { a.filePermissions = mode }
}

// New builds an Adapter rooted at baseDir. baseDir is created if it does
// not already exist.
func New(baseDir string, opts ...Option) (*Adapter, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, persisterr.Wrap(persisterr.StorageIo, err, "create base directory %s", baseDir)
	}
	a := &Adapter{baseDir: baseDir, filePermissions: 0o644}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

var _ contract.Adapter = (*Adapter)(nil)

// resolve validates key against path-traversal patterns, joins it to
// baseDir, and confirms the canonicalized result is still contained within
// the canonicalized base directory.
func (a *Adapter) resolve(key string) (string, error) {
	if key == "" {
		return "", persisterr.New(persisterr.Validation, "key cannot be empty")
	}
	normalized := filepath.ToSlash(key)
	if strings.HasPrefix(normalized, "/") {
		return "", persisterr.New(persisterr.Validation, "absolute keys are not allowed: %q", key)
	}
	for _, component := range strings.Split(normalized, "/") {
		if component == ".." {
			return "", persisterr.New(persisterr.Validation, "key %q contains a parent-directory reference", key)
		}
	}

	canonicalBase, err := filepath.EvalSymlinks(a.baseDir)
	if err != nil {
		return "", persisterr.Wrap(persisterr.StorageIo, err, "canonicalize base directory")
	}

	target := filepath.Join(a.baseDir, key)

	// The target may not exist yet; canonicalize the nearest existing
	// ancestor and reconstruct the remainder, so the containment check
	// still sees through any symlinked ancestor directory.
	existing := target
	var suffix []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", persisterr.New(persisterr.Validation, "cannot resolve key %q: no existing ancestor", key)
		}
		suffix = append([]string{filepath.Base(existing)}, suffix...)
		existing = parent
	}
	canonicalExisting, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", persisterr.Wrap(persisterr.StorageIo, err, "canonicalize %s", existing)
	}
	resolved := filepath.Join(append([]string{canonicalExisting}, suffix...)...)

	rel, err := filepath.Rel(canonicalBase, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", persisterr.New(persisterr.Validation, "key %q escapes the base directory", key)
	}

	return target, nil
}

func (a *Adapter) Save(ctx context.Context, key string, data []byte) error {
	return a.writeAtomic(ctx, key, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

func (a *Adapter) SaveStream(ctx context.Context, key string, r io.Reader) error {
	return a.writeAtomic(ctx, key, func(f *os.File) error {
		_, err := io.Copy(f, readerWithContext{ctx: ctx, r: r})
		return err
	})
}

// writeAtomic implements the crash-safe save protocol: temp file in the
// target's directory, write, fsync, rename over the target, fsync the
// parent directory.
func (a *Adapter) writeAtomic(ctx context.Context, key string, write func(*os.File) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := a.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return persisterr.Wrap(persisterr.StorageIo, err, "create parent directory for %s", key).WithBackend("local").WithKey(key)
	}

	tmp, err := os.CreateTemp(dir, ".tmp_persist_*.tmp")
	if err != nil {
		return persisterr.Wrap(persisterr.StorageIo, err, "create temp file for %s", key).WithBackend("local").WithKey(key)
	}
	tmpPath := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		return persisterr.Wrap(persisterr.StorageIo, err, "write %s", key).WithBackend("local").WithKey(key)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := tmp.Sync(); err != nil {
		return persisterr.Wrap(persisterr.StorageIo, err, "fsync %s", key).WithBackend("local").WithKey(key)
	}
	if err := tmp.Close(); err != nil {
		return persisterr.Wrap(persisterr.StorageIo, err, "close temp file for %s", key).WithBackend("local").WithKey(key)
	}
	if a.filePermissions != 0 {
		if err := os.Chmod(tmpPath, a.filePermissions); err != nil {
			return persisterr.Wrap(persisterr.StorageIo, err, "chmod %s", key).WithBackend("local").WithKey(key)
		}
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return persisterr.Wrap(persisterr.StorageIo, err, "rename into place %s", key).WithBackend("local").WithKey(key)
	}
	succeeded = true

	parentDir, err := os.Open(dir)
	if err != nil {
		return persisterr.Wrap(persisterr.StorageIo, err, "open parent directory for fsync").WithBackend("local").WithKey(key)
	}
	defer parentDir.Close()
	if err := parentDir.Sync(); err != nil {
		return persisterr.Wrap(persisterr.StorageIo, err, "fsync parent directory").WithBackend("local").WithKey(key)
	}
	return nil
}

func (a *Adapter) Load(ctx context.Context, key string) ([]byte, error) {
	target, err := a.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := a.rejectSymlink(target, key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, classifyReadError(err, key)
	}
	return data, nil
}

func (a *Adapter) LoadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	target, err := a.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := a.rejectSymlink(target, key); err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, classifyReadError(err, key)
	}
	return f, nil
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	target, err := a.resolve(key)
	if err != nil {
		return false, nil
	}
	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, persisterr.Wrap(persisterr.StorageIo, err, "stat %s", key).WithBackend("local").WithKey(key)
	}
	return info.Mode()&os.ModeSymlink == 0, nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	target, err := a.resolve(key)
	if err != nil {
		return err
	}
	if err := a.rejectSymlink(target, key); err != nil {
		if persisterr.Is(err, persisterr.NotFound) {
			return nil
		}
		return err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return persisterr.Wrap(persisterr.StorageIo, err, "delete %s", key).WithBackend("local").WithKey(key)
	}
	return nil
}

func (a *Adapter) List(ctx context.Context, prefix string) (contract.KeyIterator, error) {
	root := a.baseDir
	if prefix != "" {
		resolved, err := a.resolve(prefix)
		if err != nil {
			return nil, err
		}
		root = resolved
	}

	var keys []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(a.baseDir, path)
		if relErr != nil {
			return relErr
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, persisterr.Wrap(persisterr.StorageIo, err, "list prefix %s", prefix).WithBackend("local")
	}
	return contract.NewSliceIterator(keys), nil
}

func (a *Adapter) rejectSymlink(target, key string) error {
	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persisterr.New(persisterr.NotFound, "key %q not found", key).WithBackend("local").WithKey(key)
		}
		return persisterr.Wrap(persisterr.StorageIo, err, "stat %s", key).WithBackend("local").WithKey(key)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return persisterr.New(persisterr.Validation, "key %q resolves to a symlink, which is not allowed", key).WithBackend("local").WithKey(key)
	}
	return nil
}

func classifyReadError(err error, key string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return persisterr.New(persisterr.NotFound, "key %q not found", key).WithBackend("local").WithKey(key)
	}
	if errors.Is(err, fs.ErrPermission) {
		return persisterr.Wrap(persisterr.PermissionDenied, err, "permission denied reading %s", key).WithBackend("local").WithKey(key)
	}
	return persisterr.Wrap(persisterr.StorageIo, err, "read %s", key).WithBackend("local").WithKey(key)
}

// readerWithContext aborts an in-progress Read once ctx is cancelled,
// giving SaveStream the same cancellation behavior as the rest of the
// adapter without requiring a context-aware io.Reader from the caller.
type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.r.Read(p)
	if err != nil {
		return n, err
	}
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		return n, ctxErr
	}
	return n, nil
}

var _ fmt.Stringer = (*Adapter)(nil)

func (a *Adapter) String() string { return fmt.Sprintf("local(%s)", a.baseDir) }

// Backend implements contract.Adapter.
func (a *Adapter) Backend() string { return "local" }
