// Package provider defines the contract every storage backend adapter
// implements, the per-request construction bundle, and the adapter registry.
//
// Adapters are ephemeral: one instance serves one request, constructed from
// the credentials and settings the auth handler granted, and is discarded at
// request end. The only state shared across requests is the pooled HTTP
// transport inside each backend SDK client.
package provider

import (
	"context"

	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/streams"
)

// Conflict selects the destination name-collision policy for uploads and
// copy/move operations.
type Conflict string

const (
	// ConflictWarn fails with NamingConflict when the destination exists.
	ConflictWarn Conflict = "warn"
	// ConflictReplace overwrites an existing destination entity.
	ConflictReplace Conflict = "replace"
	// ConflictKeep disambiguates by suffixing the name until it is free.
	ConflictKeep Conflict = "keep"
)

// ParseConflict maps the query/body parameter onto a policy. The empty
// string selects the default, warn.
func ParseConflict(raw string) (Conflict, error) {
	switch Conflict(raw) {
	case "":
		return ConflictWarn, nil
	case ConflictWarn, ConflictReplace, ConflictKeep:
		return Conflict(raw), nil
	default:
		return "", errdefs.InvalidArgument("invalid conflict policy %q", raw)
	}
}

// ByteRange is a closed byte interval for partial downloads. End below zero
// means "to the end of the entity".
type ByteRange struct {
	Start int64
	End   int64
}

// MetadataOptions tunes a metadata call.
type MetadataOptions struct {
	// Version selects a historical revision; empty means current.
	Version string
}

// DownloadOptions tunes a download call.
type DownloadOptions struct {
	Version string
	Range   *ByteRange
	// Direct forces the adapter to produce a byte stream even when the
	// backend could answer with a signed URL.
	Direct bool
	// DisplayName overrides the filename the client should save the entity
	// as. Adapters that answer with a signed URL bake it into the URL's
	// content disposition; for streamed answers the gateway sets the header.
	DisplayName string
}

// UploadOptions tunes an upload call.
type UploadOptions struct {
	Conflict Conflict
}

// Download is the result of a download call: either a byte stream the
// pipeline proxies, or a signed URL the pipeline redirects to.
type Download struct {
	Stream      streams.Stream
	RedirectURL string
	// DisplayName overrides the filename derived from the path, when the
	// backend knows a better one.
	DisplayName string
}

// Provider is the uniform adapter contract over a storage backend.
//
// Path handling comes in two strengths: ResolvePath confirms both existence
// and kind against the trailing-slash convention and is used for entities
// that must already exist; ValidatePath only checks shape and is used for
// destinations about to be created.
type Provider interface {
	// Name returns the provider kind, e.g. "s3".
	Name() string

	ValidatePath(ctx context.Context, raw string) (paths.Path, error)
	ResolvePath(ctx context.Context, raw string) (paths.Path, error)

	// Metadata describes the entity at path. List returns a folder's
	// immediate children in the backend's natural order; callers must not
	// assume alphabetical.
	Metadata(ctx context.Context, path paths.Path, opts MetadataOptions) (metadata.Item, error)
	List(ctx context.Context, path paths.Path) ([]metadata.Item, error)

	Download(ctx context.Context, path paths.Path, opts DownloadOptions) (*Download, error)

	// Upload stores the stream at path and reports whether a new entity was
	// created (true) or an existing one replaced (false). Adapters compute
	// at least one content hash while the bytes pass through and surface it
	// in the returned metadata; a stream whose declared size disagrees with
	// the received bytes fails with UploadIncomplete.
	Upload(ctx context.Context, s streams.Stream, path paths.Path, opts UploadOptions) (*metadata.File, bool, error)

	// Delete removes the entity. Deleting the root requires confirm and
	// clears all children while keeping the root itself.
	Delete(ctx context.Context, path paths.Path, confirm bool) error

	CreateFolder(ctx context.Context, path paths.Path) (*metadata.Folder, error)

	// Revisions lists historical versions, newest first.
	Revisions(ctx context.Context, path paths.Path) ([]metadata.Revision, error)

	// CanIntraCopy and CanIntraMove report whether a native server-side
	// copy/move to other is possible for path. IntraCopy and IntraMove are
	// called only after the corresponding predicate returned true.
	CanIntraCopy(other Provider, path paths.Path) bool
	CanIntraMove(other Provider, path paths.Path) bool
	IntraCopy(ctx context.Context, other Provider, src, dst paths.Path) (metadata.Item, bool, error)
	IntraMove(ctx context.Context, other Provider, src, dst paths.Path) (metadata.Item, bool, error)

	// CanDuplicateNames reports whether the backend can hold two siblings
	// with the same name but different kinds.
	CanDuplicateNames() bool

	// SharesStorageRoot reports whether both adapters index the same bytes;
	// moves within one root must not destroy the source.
	SharesStorageRoot(other Provider) bool
}

// KnownSizeRequirer is an optional upgrade for backends whose upload API
// insists on a declared length. The transfer engine spools size-unknown
// sources to a temp file before feeding such destinations.
type KnownSizeRequirer interface {
	RequiresKnownSize() bool
}

// Exists reports whether an entity is present at path, distinguishing
// absence from transport failure.
func Exists(ctx context.Context, p Provider, path paths.Path) (bool, metadata.Item, error) {
	item, err := p.Metadata(ctx, path, MetadataOptions{})
	if err == nil {
		return true, item, nil
	}
	if errdefs.IsKind(err, errdefs.KindNotFound) || errdefs.IsKind(err, errdefs.KindGone) {
		return false, nil, nil
	}
	return false, nil, err
}
