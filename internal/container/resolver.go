package container

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// documentsDirName is the subdirectory of a container that holds user documents.
const documentsDirName = "Documents"

// containerDirPerms is used when the provider materializes a container.
const containerDirPerms = 0o755

// Resolver resolves a container identifier to the URL of its documents
// directory. Resolve may be slow on first use and must be safe to call
// concurrently. Failures are always *syncerr.Error.
type Resolver interface {
	Resolve(ctx context.Context, containerID string, fileType FileType) (*url.URL, error)
}

// DirResolver resolves containers stored as directories under a cloud root,
// using the ubiquity naming convention: the identifier "iCloud.app.example"
// lives at <root>/iCloud~app~example/Documents. Concurrent resolutions of the
// same container share one filesystem pass, and successful results are cached.
type DirResolver struct {
	root   string
	logger *slog.Logger

	// prepare materializes the documents directory. Replaced in tests.
	prepare func(dir string) error

	group singleflight.Group

	mu    stdsync.Mutex
	cache map[string]*url.URL

	resolutions atomic.Int64
}

// NewDirResolver creates a resolver over the given cloud root directory.
func NewDirResolver(root string, logger *slog.Logger) *DirResolver {
	return &DirResolver{
		root:    root,
		logger:  logger,
		prepare: materializeDir,
		cache:   make(map[string]*url.URL),
	}
}

// Resolve returns the file URL of the container's documents directory.
func (r *DirResolver) Resolve(ctx context.Context, containerID string, fileType FileType) (*url.URL, error) {
	if strings.TrimSpace(containerID) == "" {
		return nil, &syncerr.Error{
			Kind: syncerr.KindContainerNotFound,
			Err:  errors.New("container: empty container identifier"),
		}
	}

	if u := r.cached(containerID); u != nil {
		return u, nil
	}

	ch := r.group.DoChan(containerID, func() (any, error) {
		// A flight that finished between the cache check and DoChan has
		// already filled the cache.
		if u := r.cached(containerID); u != nil {
			return u, nil
		}

		return r.resolve(containerID, fileType)
	})

	select {
	case <-ctx.Done():
		return nil, &syncerr.Error{
			Kind: syncerr.KindUnclassified,
			Err:  fmt.Errorf("container: resolving %s: %w", containerID, ctx.Err()),
		}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*url.URL), nil
	}
}

// Resolutions returns how many times the filesystem was consulted. Cache hits
// and joined concurrent calls do not count.
func (r *DirResolver) Resolutions() int64 {
	return r.resolutions.Load()
}

// Forget drops a cached resolution so the next Resolve re-checks the
// filesystem. Used after the container disappears (e.g. sign-out).
func (r *DirResolver) Forget(containerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.cache, containerID)
}

func (r *DirResolver) cached(containerID string) *url.URL {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cache[containerID]
}

func (r *DirResolver) resolve(containerID string, fileType FileType) (*url.URL, error) {
	r.resolutions.Add(1)

	r.logger.Debug("resolving container",
		slog.String("container_id", containerID),
		slog.String("file_type", string(fileType)),
		slog.String("cloud_root", r.root),
	)

	info, err := os.Stat(r.root)
	if err != nil {
		return nil, r.fail(containerID, "stat cloud root", err)
	}

	if !info.IsDir() {
		return nil, &syncerr.Error{
			Kind: syncerr.KindContainerNotFound,
			Err:  fmt.Errorf("container: cloud root %s is not a directory", r.root),
		}
	}

	dir := filepath.Join(r.root, ContainerDirName(containerID), documentsDirName)
	if err := r.prepare(dir); err != nil {
		return nil, r.fail(containerID, "materialize container", err)
	}

	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}

	r.mu.Lock()
	r.cache[containerID] = u
	r.mu.Unlock()

	r.logger.Info("container resolved",
		slog.String("container_id", containerID),
		slog.String("url", u.String()),
	)

	return u, nil
}

// fail maps a filesystem failure to the taxonomy: a missing root means no
// container is provisioned; anything else is a provider error run through
// classification.
func (r *DirResolver) fail(containerID, op string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &syncerr.Error{
			Kind: syncerr.KindContainerNotFound,
			Err:  fmt.Errorf("container: %s for %s: %w", op, containerID, err),
		}
	}

	se := syncerr.FromError(&syncerr.ProviderError{Op: op, Code: providerCode(err), Err: err})

	r.logger.Warn("container resolution failed",
		slog.String("container_id", containerID),
		slog.String("kind", se.Kind.String()),
		slog.String("error", err.Error()),
	)

	return se
}

// providerCode derives a provider code from a filesystem error. Network
// filesystems report an unreachable backing store as EHOSTDOWN/ENOTCONN/
// ETIMEDOUT; quota exhaustion as EDQUOT. Other errno values pass through
// as-is and remain unclassified.
func providerCode(err error) syncerr.Code {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return 0
	}

	switch errno {
	case syscall.EHOSTDOWN, syscall.ENOTCONN, syscall.ETIMEDOUT, syscall.ENETUNREACH:
		return syncerr.CodeUbiquityServerNotAvailable
	case syscall.EDQUOT, syscall.ENOSPC:
		return syncerr.CodeFileNotUploadedDueToQuota
	default:
		return syncerr.Code(errno)
	}
}

// ContainerDirName converts a container identifier to its directory name.
func ContainerDirName(containerID string) string {
	return strings.ReplaceAll(containerID, ".", "~")
}

// Path returns the local filesystem path of a resolved container URL.
func Path(u *url.URL) string {
	return filepath.FromSlash(u.Path)
}

func materializeDir(dir string) error {
	return os.MkdirAll(dir, containerDirPerms)
}
