// Package transfer implements the cross-provider copy and move engine and
// single-pass folder archiving.
//
// The engine works entirely against the provider contract. Native intra
// operations are used when the source provider offers them for the route;
// otherwise content is streamed source to destination through a digest tee
// and verified before anything is destroyed. A move never deletes its source
// until the copied bytes have been verified at the destination.
package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/logging"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/metrics"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/provider"
	"github.com/portagehq/portage/internal/streams"
)

// DefaultInactivityTimeout bounds how long a transfer may sit without moving
// bytes before it is torn down. Transfers are bounded by inactivity, not
// total duration, so large but moving copies are never killed.
const DefaultInactivityTimeout = 10 * time.Minute

// Request describes one copy or move between two provider instances, which
// may be the same instance, two instances of one kind, or different kinds.
type Request struct {
	Source     provider.Provider
	SourcePath paths.Path
	Dest       provider.Provider
	// DestFolder receives the entity. The final destination path is derived
	// from it, the leaf name and the conflict policy.
	DestFolder paths.Path
	// Rename overrides the leaf name at the destination.
	Rename   string
	Conflict provider.Conflict
}

// Result is the outcome of a copy or move.
type Result struct {
	Item metadata.Item
	// Children holds the immediate children when Item is a folder.
	Children []metadata.Item
	// Created is false when an existing destination entity was replaced.
	Created bool
	// Warning carries a non-fatal defect, such as a move whose source could
	// not be removed after a verified copy.
	Warning string
}

// Options tunes engine construction. Zero values select defaults.
type Options struct {
	// InactivityTimeout overrides DefaultInactivityTimeout. Negative
	// disables the stall watchdog.
	InactivityTimeout time.Duration
	Metrics           metrics.Sink
}

// Engine orchestrates transfers between providers.
type Engine struct {
	inactivity time.Duration
	metrics    metrics.Sink
	log        zerolog.Logger
}

// New builds an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		inactivity: opts.InactivityTimeout,
		metrics:    opts.Metrics,
		log:        logging.Component("transfer"),
	}
	if e.inactivity == 0 {
		e.inactivity = DefaultInactivityTimeout
	}
	if e.inactivity < 0 {
		e.inactivity = 0
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop()
	}
	return e
}

// Copy transfers the source entity into the destination folder.
func (e *Engine) Copy(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, req, false)
}

// Move transfers the source entity into the destination folder and removes
// the source. When the copy succeeds but the source cleanup fails, the move
// still succeeds and the defect is reported in Result.Warning.
func (e *Engine) Move(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, req, true)
}

func (e *Engine) run(ctx context.Context, req Request, move bool) (*Result, error) {
	op := "copy"
	if move {
		op = "move"
	}
	if !req.DestFolder.IsFolder() {
		return nil, errdefs.InvalidArgument("%s destination %q is not a folder", op, req.DestFolder.String())
	}
	if req.SourcePath.IsRoot() {
		return nil, errdefs.InvalidArgument("cannot %s the provider root", op)
	}

	name := req.SourcePath.Name()
	if req.Rename != "" {
		name = req.Rename
	}
	folder := req.SourcePath.IsFolder()

	destPath, existing, err := ResolveDestination(ctx, req.Dest, req.DestFolder, name, folder, req.Conflict)
	if err != nil {
		return nil, err
	}

	sameStore := req.Source.Name() == req.Dest.Name() && req.Source.SharesStorageRoot(req.Dest)

	// Moving an entity onto itself is a no-op that reports what is already
	// there.
	if move && sameStore && req.SourcePath.Equal(destPath) {
		item, err := req.Source.Metadata(ctx, req.SourcePath, provider.MetadataOptions{})
		if err != nil {
			return nil, err
		}
		return e.finish(ctx, req.Dest, item, false, "")
	}
	if folder && sameStore && (req.SourcePath.Equal(destPath) || req.SourcePath.IsAncestorOf(destPath)) {
		return nil, errdefs.InvalidArgument("cannot %s folder %q into itself", op, req.SourcePath.String())
	}

	// Replacing an entity of the other kind: the squatter has to go first,
	// since no backend overwrites a file with a folder in place.
	if existing != nil && (existing.ItemKind() == metadata.KindFolder) != destPath.IsFolder() {
		if err := req.Dest.Delete(ctx, existing.ItemPath(), false); err != nil {
			return nil, err
		}
		existing = nil
	}

	e.log.Info().
		Str("op", op).
		Str("source_provider", req.Source.Name()).
		Str("source", req.SourcePath.String()).
		Str("dest_provider", req.Dest.Name()).
		Str("dest", destPath.String()).
		Str("conflict", string(req.Conflict)).
		Msg("transfer started")

	var (
		item    metadata.Item
		created bool
		warning string
	)
	switch {
	case move && req.Source.CanIntraMove(req.Dest, req.SourcePath):
		item, created, err = req.Source.IntraMove(ctx, req.Dest, req.SourcePath, destPath)
	case !move && req.Source.CanIntraCopy(req.Dest, req.SourcePath):
		item, created, err = req.Source.IntraCopy(ctx, req.Dest, req.SourcePath, destPath)
	default:
		item, created, err = e.streamEntity(ctx, req.Source, req.Dest, req.SourcePath, destPath, existing)
		if err == nil && move {
			if derr := req.Source.Delete(ctx, req.SourcePath, false); derr != nil {
				warning = fmt.Sprintf("move completed but the source %q was not removed: %v", req.SourcePath.String(), derr)
				e.log.Warn().Err(derr).
					Str("source", req.SourcePath.String()).
					Msg("partial move: source left behind after verified copy")
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, req.Dest, item, created, warning)
}

// finish attaches the immediate children when the transferred entity is a
// folder.
func (e *Engine) finish(ctx context.Context, dst provider.Provider, item metadata.Item, created bool, warning string) (*Result, error) {
	res := &Result{Item: item, Created: created, Warning: warning}
	if item.ItemKind() == metadata.KindFolder {
		children, err := dst.List(ctx, item.ItemPath())
		if err != nil {
			return nil, err
		}
		res.Children = children
	}
	return res, nil
}

func (e *Engine) streamEntity(ctx context.Context, src, dst provider.Provider, srcPath, destPath paths.Path, existing metadata.Item) (metadata.Item, bool, error) {
	if srcPath.IsFolder() {
		item, err := e.streamFolder(ctx, src, dst, srcPath, destPath, existing)
		return item, existing == nil, err
	}
	return e.streamFile(ctx, src, dst, srcPath, destPath)
}

// streamFile pipes one file source to destination through a digest tee and
// verifies the landed content before reporting success.
func (e *Engine) streamFile(ctx context.Context, src, dst provider.Provider, srcPath, destPath paths.Path) (metadata.Item, bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dl, err := src.Download(ctx, srcPath, provider.DownloadOptions{Direct: true})
	if err != nil {
		return nil, false, err
	}
	if dl.Stream == nil {
		return nil, false, errdefs.ProviderError("%s returned no byte stream for a direct download of %q", src.Name(), srcPath.String())
	}
	body := dl.Stream

	if needsKnownSize(dst) && body.Size() < 0 {
		spooled, cleanup, serr := streams.Spool(body)
		body.Close()
		if serr != nil {
			return nil, false, serr
		}
		defer cleanup()
		body = spooled
	}

	hashed, err := streams.NewHashStream(body, "md5", "sha256")
	if err != nil {
		body.Close()
		return nil, false, err
	}
	guarded := streams.WithInactivityTimeout(hashed, e.inactivity, cancel)
	defer guarded.Close()

	meta, created, err := dst.Upload(ctx, guarded, destPath, provider.UploadOptions{Conflict: provider.ConflictReplace})
	if err != nil {
		return nil, false, err
	}
	e.metrics.ObserveTransfer("copy", dst.Name(), hashed.BytesRead())

	if err := verifyCopy(hashed, meta); err != nil {
		if derr := dst.Delete(ctx, destPath, false); derr != nil {
			e.log.Warn().Err(derr).
				Str("dest", destPath.String()).
				Msg("could not remove unverified copy")
		}
		return nil, false, err
	}
	e.log.Debug().
		Str("dest", destPath.String()).
		Str("size", humanize.IBytes(uint64(hashed.BytesRead()))).
		Msg("file landed and verified")
	return meta, created, nil
}

// streamFolder lands a folder subtree at the destination. The conflict
// policy was resolved at the top; children always overwrite so a replace
// does not cascade into per-child conflicts.
func (e *Engine) streamFolder(ctx context.Context, src, dst provider.Provider, srcPath, destPath paths.Path, existing metadata.Item) (metadata.Item, error) {
	var target metadata.Item
	if existing != nil {
		target = existing
	} else {
		f, err := dst.CreateFolder(ctx, destPath)
		if err != nil {
			return nil, err
		}
		target = f
	}

	children, err := src.List(ctx, srcPath)
	if err != nil {
		return nil, err
	}

	for _, child := range children {
		childSrc := child.ItemPath()
		childFolder := child.ItemKind() == metadata.KindFolder

		childDest, childExisting, err := ResolveDestination(ctx, dst, destPath, child.ItemName(), childFolder, provider.ConflictReplace)
		if err != nil {
			return nil, wrapChild(err, childSrc)
		}
		if childExisting != nil && (childExisting.ItemKind() == metadata.KindFolder) != childFolder {
			if err := dst.Delete(ctx, childExisting.ItemPath(), false); err != nil {
				return nil, wrapChild(err, childSrc)
			}
			childExisting = nil
		}

		switch {
		case src.CanIntraCopy(dst, childSrc):
			if _, _, err := src.IntraCopy(ctx, dst, childSrc, childDest); err != nil {
				return nil, wrapChild(err, childSrc)
			}
		case childFolder:
			if _, err := e.streamFolder(ctx, src, dst, childSrc, childDest, childExisting); err != nil {
				return nil, err
			}
		default:
			if _, _, err := e.streamFile(ctx, src, dst, childSrc, childDest); err != nil {
				return nil, wrapChild(err, childSrc)
			}
		}
	}
	return target, nil
}

// wrapChild surfaces mid-recursion failures with the path of the failing
// child. Already-copied siblings are not rolled back.
func wrapChild(err error, child paths.Path) error {
	return errdefs.Wrap(errdefs.KindOf(err), err, "copy of %q failed", child.String())
}

// verifyCopy compares the digests computed on the wire against what the
// destination reports. Any shared algorithm must agree; with no shared
// algorithm, a destination-reported size must match the bytes sent.
func verifyCopy(hashed *streams.HashStream, meta *metadata.File) error {
	verified := false
	for algo, sent := range hashed.Sums() {
		stored, ok := meta.Hashes[algo]
		if !ok || stored == "" {
			continue
		}
		if !strings.EqualFold(stored, sent) {
			return errdefs.HashMismatch("%s digest mismatch: sent %s, destination stored %s", algo, sent, stored)
		}
		verified = true
	}
	if verified {
		return nil
	}
	if meta.Size >= 0 && meta.Size != hashed.BytesRead() {
		return errdefs.HashMismatch("size mismatch: sent %d bytes, destination stored %d", hashed.BytesRead(), meta.Size)
	}
	return nil
}

func needsKnownSize(p provider.Provider) bool {
	k, ok := p.(provider.KnownSizeRequirer)
	return ok && k.RequiresKnownSize()
}
