package adapter

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gantryhq/gantry/internal/deployer/app"
	"github.com/gantryhq/gantry/internal/docker"
	"github.com/gantryhq/gantry/internal/domain"
)

// Compile-time check: BuildWorkspace satisfies app.Workspace.
var _ app.Workspace = (*BuildWorkspace)(nil)

// BuildWorkspace materializes build contexts under a local root directory,
// one subdirectory per deploy. Contexts arrive as uploaded tar archives
// (optionally compressed) or as git clones.
type BuildWorkspace struct {
	root string

	// Byte caps for uploaded archives. Zero values take the domain defaults;
	// tests shrink them to trigger the limits cheaply.
	maxArchiveBytes  int64
	maxUnpackedBytes int64
}

// WorkspaceConfig holds BuildWorkspace parameters.
type WorkspaceConfig struct {
	// Root is the directory build contexts are created under.
	Root string

	MaxArchiveBytes  int64
	MaxUnpackedBytes int64
}

// NewBuildWorkspace creates the workspace root if needed.
func NewBuildWorkspace(cfg WorkspaceConfig) (*BuildWorkspace, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("workspace root required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	w := &BuildWorkspace{
		root:             cfg.Root,
		maxArchiveBytes:  cfg.MaxArchiveBytes,
		maxUnpackedBytes: cfg.MaxUnpackedBytes,
	}
	if w.maxArchiveBytes <= 0 {
		w.maxArchiveBytes = domain.MaxSourceArchiveBytes
	}
	if w.maxUnpackedBytes <= 0 {
		w.maxUnpackedBytes = domain.MaxUnpackedSourceBytes
	}
	return w, nil
}

// dir returns the context directory for a deploy.
func (w *BuildWorkspace) dir(deployID string) string {
	return filepath.Join(w.root, deployID)
}

// UnpackArchive unpacks an uploaded context archive (tar, optionally gzip,
// bzip2, or xz compressed) into a fresh per-deploy directory and returns its
// path. Oversized archives fail with domain.ErrSourceTooLarge; both the
// compressed and the unpacked byte counts are capped so a small compressed
// bomb cannot fill the disk.
func (w *BuildWorkspace) UnpackArchive(ctx context.Context, deployID string, archive io.Reader) (string, error) {
	_, span := tracer.Start(ctx, "workspace.unpack_archive")
	defer span.End()

	dest := w.dir(deployID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create context dir: %w", err)
	}

	capped := &cappedReader{r: archive, remaining: w.maxArchiveBytes, limit: w.maxArchiveBytes, what: "archive"}
	decompressed, err := docker.DecompressStream(capped)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if cerr := w.Cleanup(deployID); cerr != nil {
			span.RecordError(cerr)
		}
		return "", fmt.Errorf("read context archive: %v: %w", err, domain.ErrInvalidInput)
	}
	defer decompressed.Close()

	unpackCap := &cappedReader{r: decompressed, remaining: w.maxUnpackedBytes, limit: w.maxUnpackedBytes, what: "unpacked context"}
	if err := docker.UntarUncompressed(unpackCap, dest, nil); err != nil {
		if sizeErr := unpackCap.sizeErr(); sizeErr != nil {
			err = sizeErr
		} else if sizeErr := capped.sizeErr(); sizeErr != nil {
			err = sizeErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if cerr := w.Cleanup(deployID); cerr != nil {
			span.RecordError(cerr)
		}
		return "", fmt.Errorf("unpack context archive: %w", err)
	}

	span.SetAttributes(attribute.String("workspace.dir", dest))
	return dest, nil
}

// CloneGit shallow-clones a repository into a fresh per-deploy directory and
// returns its path. With a ref, the named branch is tried first, then the
// tag of the same name. Clone failures are client errors: the URL or ref the
// deployer supplied does not resolve.
func (w *BuildWorkspace) CloneGit(ctx context.Context, deployID, repoURL, ref string) (string, error) {
	ctx, span := tracer.Start(ctx, "workspace.clone_git")
	defer span.End()
	span.SetAttributes(attribute.String("git.ref", ref))

	dest := w.dir(deployID)

	opts := &git.CloneOptions{
		URL:   repoURL,
		Depth: 1,
	}
	if ref == "" {
		_, err := git.PlainCloneContext(ctx, dest, false, opts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("clone %s: %v: %w", repoURL, err, domain.ErrInvalidInput)
		}
		return dest, nil
	}

	opts.SingleBranch = true
	opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	_, err := git.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		// Not a branch; retry as a tag into a clean directory.
		if cleanupErr := w.Cleanup(deployID); cleanupErr != nil {
			span.RecordError(cleanupErr)
		}
		opts.ReferenceName = plumbing.NewTagReferenceName(ref)
		if _, tagErr := git.PlainCloneContext(ctx, dest, false, opts); tagErr != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("clone %s at %q: %v: %w", repoURL, ref, err, domain.ErrInvalidInput)
		}
	}
	return dest, nil
}

// Cleanup removes a deploy's context directory. Removing an absent
// directory is not an error.
func (w *BuildWorkspace) Cleanup(deployID string) error {
	if err := os.RemoveAll(w.dir(deployID)); err != nil {
		return fmt.Errorf("remove context dir: %w", err)
	}
	return nil
}

// cappedReader fails with domain.ErrSourceTooLarge once more than limit
// bytes pass through. Unlike io.LimitReader it reports the overflow instead
// of silently truncating, so a too-large upload surfaces as a typed error
// rather than a corrupt-archive error.
type cappedReader struct {
	r         io.Reader
	remaining int64
	limit     int64
	what      string
	exceeded  bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, c.sizeErr()
	}
	if c.remaining <= 0 {
		// Cap spent. A stream of exactly limit bytes is fine; one more
		// byte is overflow.
		var probe [1]byte
		n, err := c.r.Read(probe[:])
		if n > 0 {
			c.exceeded = true
			return 0, c.sizeErr()
		}
		return 0, err
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}

// sizeErr returns the typed overflow error, or nil if the cap held.
func (c *cappedReader) sizeErr() error {
	if !c.exceeded {
		return nil
	}
	return fmt.Errorf("%s exceeds %d bytes: %w", c.what, c.limit, domain.ErrSourceTooLarge)
}
