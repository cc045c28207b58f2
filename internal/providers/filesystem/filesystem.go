// Package filesystem implements the provider contract over a local directory.
//
// The adapter is rooted at the mount folder from the grant settings; gateway
// paths map onto paths below it. Besides serving as a real backend it is the
// reference implementation the end-to-end tests run against, since it needs
// no network.
package filesystem

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gabriel-vasile/mimetype"

	"github.com/portagehq/portage/internal/diskspace"
	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/provider"
	"github.com/portagehq/portage/internal/streams"
)

// Name is the provider kind this adapter registers under.
const Name = "filesystem"

func init() {
	provider.Register(Name, func(ctx context.Context, bundle provider.Bundle) (provider.Provider, error) {
		folder := bundle.Setting("folder")
		if folder == "" {
			return nil, errdefs.InvalidArgument("filesystem provider requires a %q setting", "folder")
		}
		return New(folder)
	})
}

// Provider serves one mount folder.
type Provider struct {
	root string
}

// New builds an adapter rooted at folder, creating the folder if needed.
func New(folder string) (*Provider, error) {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidArgument, err, "invalid mount folder %q", folder)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, normalize(err, "could not prepare mount folder")
	}
	return &Provider{root: abs}, nil
}

func (p *Provider) Name() string { return Name }

// Root returns the absolute mount folder.
func (p *Provider) Root() string { return p.root }

// abs maps a gateway path onto the disk. Segment validation in the paths
// package already rejected separators and traversal tokens, so a plain join
// cannot escape the mount.
func (p *Provider) abs(path paths.Path) string {
	return filepath.Join(p.root, filepath.FromSlash(strings.TrimSuffix(path.Key(), "/")))
}

func (p *Provider) ValidatePath(ctx context.Context, raw string) (paths.Path, error) {
	return paths.New(raw)
}

func (p *Provider) ResolvePath(ctx context.Context, raw string) (paths.Path, error) {
	path, err := paths.New(raw)
	if err != nil {
		return paths.Path{}, err
	}
	if path.IsRoot() {
		return path, nil
	}
	info, err := os.Stat(p.abs(path))
	if err != nil {
		return paths.Path{}, normalize(err, "could not resolve %q", path.String())
	}
	if info.IsDir() != path.IsFolder() {
		return paths.Path{}, errdefs.NotFound("%s exists but is not a %s", path.String(), kindWord(path.IsFolder()))
	}
	return path, nil
}

func (p *Provider) Metadata(ctx context.Context, path paths.Path, opts provider.MetadataOptions) (metadata.Item, error) {
	if err := checkVersion(opts.Version); err != nil {
		return nil, err
	}
	info, err := os.Stat(p.abs(path))
	if err != nil {
		return nil, normalize(err, "could not retrieve %q", path.String())
	}
	if info.IsDir() != path.IsFolder() {
		return nil, errdefs.NotFound("could not retrieve %s %q", kindWord(path.IsFolder()), path.String())
	}
	if path.IsFolder() {
		return p.folderMeta(path), nil
	}
	return p.fileMeta(path, info), nil
}

func (p *Provider) List(ctx context.Context, path paths.Path) ([]metadata.Item, error) {
	if !path.IsFolder() {
		return nil, errdefs.InvalidArgument("cannot list file %q", path.String())
	}
	entries, err := os.ReadDir(p.abs(path))
	if err != nil {
		return nil, normalize(err, "could not retrieve folder %q", path.String())
	}
	items := make([]metadata.Item, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Entry vanished between ReadDir and Stat.
			continue
		}
		child, err := path.Child(entry.Name(), entry.IsDir())
		if err != nil {
			continue
		}
		if entry.IsDir() {
			items = append(items, p.folderMeta(child))
		} else {
			items = append(items, p.fileMeta(child, info))
		}
	}
	return items, nil
}

func (p *Provider) Download(ctx context.Context, path paths.Path, opts provider.DownloadOptions) (*provider.Download, error) {
	if !path.IsFile() {
		return nil, errdefs.InvalidArgument("no file specified for download")
	}
	if err := checkVersion(opts.Version); err != nil {
		return nil, err
	}

	abs := p.abs(path)
	info, err := os.Stat(abs)
	if err != nil {
		return nil, normalize(err, "could not retrieve file %q", path.String())
	}
	if info.IsDir() {
		return nil, errdefs.NotFound("could not retrieve file %q", path.String())
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, normalize(err, "could not retrieve file %q", path.String())
	}

	name := opts.DisplayName
	if name == "" {
		name = path.Name()
	}

	if opts.Range != nil {
		s, err := rangeStream(f, info.Size(), *opts.Range)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &provider.Download{Stream: s, DisplayName: name}, nil
	}

	s, err := streams.NewFileStream(f)
	if err != nil {
		f.Close()
		return nil, normalize(err, "could not retrieve file %q", path.String())
	}
	return &provider.Download{Stream: s, DisplayName: name}, nil
}

// rangeStream seeks to the interval start and bounds the reader. An End below
// zero means "to the end of the file".
func rangeStream(f *os.File, size int64, r provider.ByteRange) (streams.Stream, error) {
	if r.Start < 0 || r.Start >= size {
		return nil, errdefs.InvalidArgument("range start %d out of bounds for %d bytes", r.Start, size)
	}
	if _, err := f.Seek(r.Start, io.SeekStart); err != nil {
		return nil, normalize(err, "could not seek to range start")
	}
	n := size - r.Start
	if r.End >= r.Start && r.End < size-1 {
		n = r.End - r.Start + 1
	}
	return streams.NewReadCloser(&boundedFile{r: io.LimitReader(f, n), f: f}, n), nil
}

type boundedFile struct {
	r io.Reader
	f *os.File
}

func (b *boundedFile) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *boundedFile) Close() error               { return b.f.Close() }

func (p *Provider) Upload(ctx context.Context, s streams.Stream, path paths.Path, opts provider.UploadOptions) (*metadata.File, bool, error) {
	if !path.IsFile() {
		return nil, false, errdefs.InvalidArgument("cannot upload to folder path %q", path.String())
	}

	abs := p.abs(path)
	created := true
	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return nil, false, errdefs.NamingConflict("cannot complete action: folder %q already exists in this location", path.Name()).
				With("name", path.Name())
		}
		// Callers resolve keep to a free name before uploading, so only an
		// explicit replace may overwrite.
		if opts.Conflict != provider.ConflictReplace {
			return nil, false, errdefs.NamingConflict("cannot complete action: file %q already exists in this location", path.Name()).
				With("name", path.Name())
		}
		created = false
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, false, normalize(err, "could not create parent folders for %q", path.String())
	}
	if err := diskspace.Check(filepath.Dir(abs), s.Size()); err != nil {
		return nil, false, err
	}

	hashed, err := streams.NewHashStream(s, "md5", "sha256")
	if err != nil {
		return nil, false, err
	}

	// Write to a sibling temp file and rename so a failed upload never
	// leaves a truncated entity behind.
	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+path.Name()+".*")
	if err != nil {
		return nil, false, normalize(err, "could not stage upload for %q", path.String())
	}
	written, err := streams.Copy(tmp, hashed)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, false, normalize(err, "could not write %q", path.String())
	}
	if declared := s.Size(); declared >= 0 && written != declared {
		os.Remove(tmp.Name())
		return nil, false, errdefs.UploadIncomplete("upload of %q ended after %d of %d bytes", path.Name(), written, declared)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return nil, false, normalize(err, "could not finalise %q", path.String())
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, false, normalize(err, "could not retrieve file %q", path.String())
	}
	meta := p.fileMeta(path, info)
	meta.Hashes = hashed.Sums()
	return meta, created, nil
}

func (p *Provider) Delete(ctx context.Context, path paths.Path, confirm bool) error {
	if path.IsRoot() {
		if !confirm {
			return errdefs.InvalidArgument("confirm_delete=1 is required for deleting root provider folder")
		}
		entries, err := os.ReadDir(p.root)
		if err != nil {
			return normalize(err, "could not clear mount folder")
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(p.root, entry.Name())); err != nil {
				return normalize(err, "could not delete %q", entry.Name())
			}
		}
		return nil
	}

	abs := p.abs(path)
	info, err := os.Stat(abs)
	if err != nil {
		return normalize(err, "could not delete %q", path.String())
	}
	if info.IsDir() != path.IsFolder() {
		return errdefs.NotFound("could not delete %s %q", kindWord(path.IsFolder()), path.String())
	}
	if path.IsFolder() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return normalize(err, "could not delete %q", path.String())
	}
	return nil
}

func (p *Provider) CreateFolder(ctx context.Context, path paths.Path) (*metadata.Folder, error) {
	if !path.IsFolder() || path.IsRoot() {
		return nil, errdefs.InvalidArgument("cannot create folder at %q", path.String())
	}
	abs := p.abs(path)
	if _, err := os.Stat(abs); err == nil {
		return nil, errdefs.NamingConflict("cannot create folder %q, a file or folder already exists with that name", path.Name()).
			With("name", path.Name())
	}
	// Mkdir, not MkdirAll: a missing parent is the caller's error.
	if err := os.Mkdir(abs, 0o755); err != nil {
		return nil, normalize(err, "could not create folder %q", path.String())
	}
	return p.folderMeta(path), nil
}

func (p *Provider) Revisions(ctx context.Context, path paths.Path) ([]metadata.Revision, error) {
	if !path.IsFile() {
		return nil, errdefs.InvalidArgument("revisions require a file path")
	}
	info, err := os.Stat(p.abs(path))
	if err != nil {
		return nil, normalize(err, "could not retrieve file %q", path.String())
	}
	if info.IsDir() {
		return nil, errdefs.NotFound("could not retrieve file %q", path.String())
	}
	return []metadata.Revision{{Version: "latest", Modified: info.ModTime()}}, nil
}

func (p *Provider) CanIntraCopy(other provider.Provider, path paths.Path) bool {
	_, ok := other.(*Provider)
	return ok
}

func (p *Provider) CanIntraMove(other provider.Provider, path paths.Path) bool {
	_, ok := other.(*Provider)
	return ok
}

func (p *Provider) IntraCopy(ctx context.Context, other provider.Provider, src, dst paths.Path) (metadata.Item, bool, error) {
	dest, ok := other.(*Provider)
	if !ok {
		return nil, false, errdefs.NotSupported("intra copy requires a filesystem destination")
	}
	created := !existsOnDisk(dest.abs(dst))
	if err := copyTree(p.abs(src), dest.abs(dst), src.IsFolder()); err != nil {
		return nil, false, normalize(err, "could not copy %q", src.String())
	}
	item, err := dest.Metadata(ctx, dst, provider.MetadataOptions{})
	return item, created, err
}

func (p *Provider) IntraMove(ctx context.Context, other provider.Provider, src, dst paths.Path) (metadata.Item, bool, error) {
	dest, ok := other.(*Provider)
	if !ok {
		return nil, false, errdefs.NotSupported("intra move requires a filesystem destination")
	}
	srcAbs, dstAbs := p.abs(src), dest.abs(dst)
	created := !existsOnDisk(dstAbs)

	// Replace semantics: rename onto an existing entity fails on some
	// platforms, and never merges folders, so clear the slot first.
	if !created {
		if err := os.RemoveAll(dstAbs); err != nil {
			return nil, false, normalize(err, "could not replace %q", dst.String())
		}
	}
	if err := os.Rename(srcAbs, dstAbs); err != nil {
		// Rename cannot cross filesystems; fall back to copy plus delete.
		if copyErr := copyTree(srcAbs, dstAbs, src.IsFolder()); copyErr != nil {
			return nil, false, normalize(copyErr, "could not move %q", src.String())
		}
		if rmErr := os.RemoveAll(srcAbs); rmErr != nil {
			return nil, false, normalize(rmErr, "could not remove source %q", src.String())
		}
	}
	item, err := dest.Metadata(ctx, dst, provider.MetadataOptions{})
	return item, created, err
}

func (p *Provider) CanDuplicateNames() bool { return false }

func (p *Provider) SharesStorageRoot(other provider.Provider) bool {
	o, ok := other.(*Provider)
	return ok && o.root == p.root
}

func (p *Provider) folderMeta(path paths.Path) *metadata.Folder {
	return &metadata.Folder{
		Name:     path.Name(),
		Path:     path,
		Provider: Name,
	}
}

func (p *Provider) fileMeta(path paths.Path, info fs.FileInfo) *metadata.File {
	return &metadata.File{
		Name:        path.Name(),
		Path:        path,
		Provider:    Name,
		Size:        info.Size(),
		ContentType: sniffContentType(p.abs(path)),
		Modified:    info.ModTime(),
		ETag:        strconv.FormatInt(info.ModTime().UnixNano(), 16) + "-" + strconv.FormatInt(info.Size(), 16),
	}
}

func sniffContentType(abs string) string {
	m, err := mimetype.DetectFile(abs)
	if err != nil {
		return ""
	}
	return m.String()
}

// checkVersion admits the only revision a plain filesystem has.
func checkVersion(version string) error {
	if version == "" || version == "latest" {
		return nil
	}
	return errdefs.NotFound("no revision %q", version)
}

func copyTree(src, dst string, folder bool) error {
	if !folder {
		return copyFile(src, dst)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := streams.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func existsOnDisk(abs string) bool {
	_, err := os.Stat(abs)
	return err == nil
}

func kindWord(folder bool) string {
	if folder {
		return "folder"
	}
	return "file"
}

// normalize maps os errors onto the gateway taxonomy.
func normalize(err error, format string, args ...any) error {
	kind := errdefs.KindProviderError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = errdefs.KindNotFound
	case errors.Is(err, fs.ErrPermission):
		kind = errdefs.KindForbidden
	case errors.Is(err, syscall.ENOSPC):
		// The preflight only covers declared sizes; size-unknown writes can
		// still fill the mount mid-copy.
		kind = errdefs.KindStorageFull
	}
	return errdefs.Wrap(kind, err, format, args...)
}

var (
	_ provider.Provider = (*Provider)(nil)
)
