package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/provider"
	"github.com/portagehq/portage/internal/streams"
)

// fakeProvider is an in-memory backend keyed by canonical path keys: files
// as "docs/report.txt", folders as "docs/". Knobs simulate backend quirks
// the engine has to cope with.
type fakeProvider struct {
	name string
	root string

	files   map[string][]byte
	folders map[string]bool

	intra        bool // advertise native copy/move to same-kind providers
	requireSize  bool // uploads reject streams of unknown length
	hideSize     bool // downloads report SizeUnknown
	failDelete   bool
	corruptHash  bool   // report digests that do not match stored bytes
	noDupNames   bool   // a file and a folder cannot share a name
	reverseList  bool   // emit listings in reverse name order
	failDownload string // key whose download always errors

	uploads        int
	intraCopies    int
	intraMoves     int
	deleted        []string
	lastUploadSize int64
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:           name,
		root:           name,
		files:          map[string][]byte{},
		folders:        map[string]bool{},
		lastUploadSize: -2,
	}
}

func (f *fakeProvider) put(key, content string) {
	f.files[key] = []byte(content)
}

func (f *fakeProvider) mkdir(key string) {
	f.folders[key] = true
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) ValidatePath(ctx context.Context, raw string) (paths.Path, error) {
	return paths.New(raw)
}

func (f *fakeProvider) ResolvePath(ctx context.Context, raw string) (paths.Path, error) {
	p, err := paths.New(raw)
	if err != nil {
		return paths.Path{}, err
	}
	if _, err := f.Metadata(ctx, p, provider.MetadataOptions{}); err != nil {
		return paths.Path{}, err
	}
	return p, nil
}

func (f *fakeProvider) fileMeta(path paths.Path, content []byte) *metadata.File {
	digest := content
	if f.corruptHash {
		digest = append(append([]byte{}, content...), "tampered"...)
	}
	sum := sha256.Sum256(digest)
	return &metadata.File{
		Name:     path.Name(),
		Path:     path,
		Provider: f.name,
		Size:     int64(len(content)),
		Modified: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		Hashes:   map[string]string{"sha256": hex.EncodeToString(sum[:])},
	}
}

func (f *fakeProvider) Metadata(ctx context.Context, path paths.Path, opts provider.MetadataOptions) (metadata.Item, error) {
	if path.IsFolder() {
		if path.IsRoot() || f.folders[path.Key()] {
			return &metadata.Folder{Name: path.Name(), Path: path, Provider: f.name}, nil
		}
		return nil, errdefs.NotFound("no folder at %q", path.String())
	}
	content, ok := f.files[path.Key()]
	if !ok {
		return nil, errdefs.NotFound("no file at %q", path.String())
	}
	return f.fileMeta(path, content), nil
}

// childOf reports the remainder of key under the folder prefix, or false
// when key is not inside it.
func childOf(key, prefix string) (string, bool) {
	if key == prefix || !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, prefix), true
}

func (f *fakeProvider) List(ctx context.Context, path paths.Path) ([]metadata.Item, error) {
	if !path.IsFolder() {
		return nil, errdefs.InvalidPath("list requires a folder, got %q", path.String())
	}
	prefix := path.Key()
	if !path.IsRoot() && !f.folders[prefix] {
		return nil, errdefs.NotFound("no folder at %q", path.String())
	}

	type entry struct {
		name   string
		folder bool
	}
	var entries []entry
	for k := range f.files {
		if rest, ok := childOf(k, prefix); ok && !strings.Contains(rest, "/") {
			entries = append(entries, entry{name: rest})
		}
	}
	for k := range f.folders {
		rest, ok := childOf(k, prefix)
		if !ok {
			continue
		}
		name := strings.TrimSuffix(rest, "/")
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		entries = append(entries, entry{name: name, folder: true})
	}
	sort.Slice(entries, func(i, j int) bool {
		if f.reverseList {
			return entries[i].name > entries[j].name
		}
		return entries[i].name < entries[j].name
	})

	items := make([]metadata.Item, 0, len(entries))
	for _, e := range entries {
		child, err := path.Child(e.name, e.folder)
		if err != nil {
			return nil, err
		}
		if e.folder {
			items = append(items, &metadata.Folder{Name: e.name, Path: child, Provider: f.name})
		} else {
			items = append(items, f.fileMeta(child, f.files[child.Key()]))
		}
	}
	return items, nil
}

func (f *fakeProvider) Download(ctx context.Context, path paths.Path, opts provider.DownloadOptions) (*provider.Download, error) {
	if f.failDownload != "" && path.Key() == f.failDownload {
		return nil, errdefs.ProviderError("%s cannot stream %q", f.name, path.String())
	}
	content, ok := f.files[path.Key()]
	if !ok {
		return nil, errdefs.NotFound("no file at %q", path.String())
	}
	size := int64(len(content))
	if f.hideSize {
		size = streams.SizeUnknown
	}
	return &provider.Download{Stream: streams.NewReader(strings.NewReader(string(content)), size)}, nil
}

func (f *fakeProvider) Upload(ctx context.Context, s streams.Stream, path paths.Path, opts provider.UploadOptions) (*metadata.File, bool, error) {
	f.lastUploadSize = s.Size()
	if f.requireSize && s.Size() < 0 {
		return nil, false, errdefs.InvalidArgument("%s uploads require a declared length", f.name)
	}
	data, err := io.ReadAll(s)
	if err != nil {
		return nil, false, err
	}
	key := path.Key()
	_, existed := f.files[key]
	if existed && opts.Conflict == provider.ConflictWarn {
		return nil, false, errdefs.NamingConflict("file %q already exists", path.Name())
	}
	f.files[key] = data
	f.uploads++
	return f.fileMeta(path, data), !existed, nil
}

func (f *fakeProvider) Delete(ctx context.Context, path paths.Path, confirm bool) error {
	if f.failDelete {
		return errdefs.ProviderError("%s rejects deletes", f.name)
	}
	key := path.Key()
	f.deleted = append(f.deleted, key)
	if path.IsFolder() {
		if !path.IsRoot() && !f.folders[key] {
			return errdefs.NotFound("no folder at %q", path.String())
		}
		f.removeSubtree(path)
		return nil
	}
	if _, ok := f.files[key]; !ok {
		return errdefs.NotFound("no file at %q", path.String())
	}
	delete(f.files, key)
	return nil
}

func (f *fakeProvider) removeSubtree(path paths.Path) {
	if path.IsFolder() {
		prefix := path.Key()
		for k := range f.files {
			if strings.HasPrefix(k, prefix) {
				delete(f.files, k)
			}
		}
		for k := range f.folders {
			if strings.HasPrefix(k, prefix) {
				delete(f.folders, k)
			}
		}
		return
	}
	delete(f.files, path.Key())
}

func (f *fakeProvider) CreateFolder(ctx context.Context, path paths.Path) (*metadata.Folder, error) {
	key := path.Key()
	if f.folders[key] {
		return nil, errdefs.NamingConflict("folder %q already exists", path.Name())
	}
	f.folders[key] = true
	return &metadata.Folder{Name: path.Name(), Path: path, Provider: f.name}, nil
}

func (f *fakeProvider) Revisions(ctx context.Context, path paths.Path) ([]metadata.Revision, error) {
	if _, ok := f.files[path.Key()]; !ok {
		return nil, errdefs.NotFound("no file at %q", path.String())
	}
	return []metadata.Revision{{Version: "current", Modified: time.Now()}}, nil
}

func (f *fakeProvider) CanIntraCopy(other provider.Provider, path paths.Path) bool {
	o, ok := other.(*fakeProvider)
	return ok && f.intra && o.name == f.name
}

func (f *fakeProvider) CanIntraMove(other provider.Provider, path paths.Path) bool {
	return f.CanIntraCopy(other, path)
}

func (f *fakeProvider) copyTo(o *fakeProvider, src, dst paths.Path) (metadata.Item, bool, error) {
	if src.IsFolder() {
		existed := o.folders[dst.Key()]
		o.folders[dst.Key()] = true
		for k := range f.folders {
			if rest, ok := childOf(k, src.Key()); ok {
				o.folders[dst.Key()+rest] = true
			}
		}
		for k, v := range f.files {
			if rest, ok := childOf(k, src.Key()); ok {
				o.files[dst.Key()+rest] = append([]byte{}, v...)
			}
		}
		return &metadata.Folder{Name: dst.Name(), Path: dst, Provider: o.name}, !existed, nil
	}
	content, ok := f.files[src.Key()]
	if !ok {
		return nil, false, errdefs.NotFound("no file at %q", src.String())
	}
	_, existed := o.files[dst.Key()]
	o.files[dst.Key()] = append([]byte{}, content...)
	return o.fileMeta(dst, content), !existed, nil
}

func (f *fakeProvider) IntraCopy(ctx context.Context, other provider.Provider, src, dst paths.Path) (metadata.Item, bool, error) {
	f.intraCopies++
	return f.copyTo(other.(*fakeProvider), src, dst)
}

func (f *fakeProvider) IntraMove(ctx context.Context, other provider.Provider, src, dst paths.Path) (metadata.Item, bool, error) {
	f.intraMoves++
	item, created, err := f.copyTo(other.(*fakeProvider), src, dst)
	if err != nil {
		return nil, false, err
	}
	f.removeSubtree(src)
	return item, created, nil
}

func (f *fakeProvider) CanDuplicateNames() bool { return !f.noDupNames }

func (f *fakeProvider) SharesStorageRoot(other provider.Provider) bool {
	o, ok := other.(*fakeProvider)
	return ok && o.root == f.root
}

func (f *fakeProvider) RequiresKnownSize() bool { return f.requireSize }

var (
	_ provider.Provider          = (*fakeProvider)(nil)
	_ provider.KnownSizeRequirer = (*fakeProvider)(nil)
)

func mustPath(t *testing.T, raw string) paths.Path {
	t.Helper()
	p, err := paths.New(raw)
	require.NoError(t, err)
	return p
}

func TestEngine_CopyFileBetweenProviders(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.mkdir("docs/")
	src.put("docs/report.txt", "quarterly numbers")
	dst := newFakeProvider("beta")
	eng := New(Options{})

	res, err := eng.Copy(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/docs/report.txt"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictWarn,
	})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Empty(t, res.Warning)
	file, ok := res.Item.(*metadata.File)
	require.True(t, ok)
	assert.Equal(t, "/report.txt", file.Path.String())
	assert.Equal(t, "quarterly numbers", string(dst.files["report.txt"]))
	assert.Contains(t, src.files, "docs/report.txt", "copy leaves the source alone")
}

func TestEngine_CopyConflictWarn(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.put("report.txt", "new")
	dst := newFakeProvider("beta")
	dst.put("report.txt", "old")

	_, err := New(Options{}).Copy(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/report.txt"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictWarn,
	})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindNamingConflict, errdefs.KindOf(err))
	assert.Equal(t, "old", string(dst.files["report.txt"]), "existing entity untouched")
}

func TestEngine_CopyConflictKeep_SkipsTakenSuffixes(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.put("report.txt", "new")
	dst := newFakeProvider("beta")
	dst.put("report.txt", "old")
	dst.put("report (1).txt", "older")

	res, err := New(Options{}).Copy(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/report.txt"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictKeep,
	})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, "/report (2).txt", res.Item.ItemPath().String())
	assert.Equal(t, "new", string(dst.files["report (2).txt"]))
	assert.Equal(t, "old", string(dst.files["report.txt"]))
}

func TestEngine_CopyConflictReplace(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.put("report.txt", "new")
	dst := newFakeProvider("beta")
	dst.put("report.txt", "old")

	res, err := New(Options{}).Copy(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/report.txt"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictReplace,
	})
	require.NoError(t, err)

	assert.False(t, res.Created, "replacing an existing entity is not a create")
	assert.Equal(t, "new", string(dst.files["report.txt"]))
}

func TestEngine_CopyRename(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.put("report.txt", "content")
	dst := newFakeProvider("beta")

	res, err := New(Options{}).Copy(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/report.txt"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Rename:     "renamed.txt",
		Conflict:   provider.ConflictWarn,
	})
	require.NoError(t, err)
	assert.Equal(t, "/renamed.txt", res.Item.ItemPath().String())
	assert.Contains(t, dst.files, "renamed.txt")
}

func TestEngine_MoveRemovesSource(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.put("report.txt", "content")
	dst := newFakeProvider("beta")

	res, err := New(Options{}).Move(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/report.txt"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictWarn,
	})
	require.NoError(t, err)

	assert.Empty(t, res.Warning)
	assert.NotContains(t, src.files, "report.txt", "move removes the source after the copy verifies")
	assert.Equal(t, "content", string(dst.files["report.txt"]))
}

func TestEngine_MoveReportsPartialWhenSourceSurvives(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.put("report.txt", "content")
	src.failDelete = true
	dst := newFakeProvider("beta")

	res, err := New(Options{}).Move(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/report.txt"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictWarn,
	})
	require.NoError(t, err, "a verified copy with failed cleanup still succeeds")

	assert.Contains(t, res.Warning, "was not removed")
	assert.Equal(t, "content", string(dst.files["report.txt"]))
	assert.Contains(t, src.files, "report.txt")
}

func TestEngine_MoveOntoItselfIsNoOp(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("alpha")
	p.mkdir("docs/")
	p.put("docs/report.txt", "content")

	res, err := New(Options{}).Move(context.Background(), Request{
		Source:     p,
		SourcePath: mustPath(t, "/docs/report.txt"),
		Dest:       p,
		DestFolder: mustPath(t, "/docs/"),
		Conflict:   provider.ConflictReplace,
	})
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, "/docs/report.txt", res.Item.ItemPath().String())
	assert.Zero(t, p.uploads, "no bytes move")
	assert.Empty(t, p.deleted, "nothing is deleted")
}

func TestEngine_FolderCopyRecursesChildren(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.mkdir("docs/")
	src.mkdir("docs/sub/")
	src.put("docs/a.txt", "alpha file")
	src.put("docs/sub/b.txt", "beta file")
	dst := newFakeProvider("beta")

	res, err := New(Options{}).Copy(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/docs/"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictWarn,
	})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, "/docs/", res.Item.ItemPath().String())
	require.Len(t, res.Children, 2, "immediate children only")
	assert.Equal(t, "alpha file", string(dst.files["docs/a.txt"]))
	assert.Equal(t, "beta file", string(dst.files["docs/sub/b.txt"]))
	assert.True(t, dst.folders["docs/sub/"])
}

func TestEngine_FolderCopyMergesOnReplace(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.mkdir("docs/")
	src.put("docs/a.txt", "new a")
	dst := newFakeProvider("beta")
	dst.mkdir("docs/")
	dst.put("docs/a.txt", "old a")
	dst.put("docs/keep.txt", "survives")

	res, err := New(Options{}).Copy(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/docs/"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictReplace,
	})
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, "new a", string(dst.files["docs/a.txt"]), "children overwrite")
	assert.Equal(t, "survives", string(dst.files["docs/keep.txt"]))
}

func TestEngine_FolderIntoItselfRejected(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("alpha")
	p.mkdir("docs/")
	eng := New(Options{})

	_, err := eng.Copy(context.Background(), Request{
		Source:     p,
		SourcePath: mustPath(t, "/docs/"),
		Dest:       p,
		DestFolder: mustPath(t, "/docs/"),
		Conflict:   provider.ConflictWarn,
	})
	require.Error(t, err, "a folder cannot land inside its own subtree")
	assert.Equal(t, errdefs.KindInvalidArgument, errdefs.KindOf(err))

	_, err = eng.Copy(context.Background(), Request{
		Source:     p,
		SourcePath: mustPath(t, "/docs/"),
		Dest:       p,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictReplace,
	})
	require.Error(t, err, "a folder cannot replace itself")
	assert.Equal(t, errdefs.KindInvalidArgument, errdefs.KindOf(err))
}

func TestEngine_HashMismatchRemovesBadCopy(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.put("report.txt", "content")
	dst := newFakeProvider("beta")
	dst.corruptHash = true

	_, err := New(Options{}).Copy(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/report.txt"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictWarn,
	})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindHashMismatch, errdefs.KindOf(err))
	assert.NotContains(t, dst.files, "report.txt", "the unverified copy is removed")
}

func TestEngine_MoveKeepsSourceOnHashMismatch(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.put("report.txt", "content")
	dst := newFakeProvider("beta")
	dst.corruptHash = true

	_, err := New(Options{}).Move(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/report.txt"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictWarn,
	})
	require.Error(t, err)
	assert.Contains(t, src.files, "report.txt", "the source outlives a failed verification")
}

func TestEngine_SpoolsForKnownSizeDestinations(t *testing.T) {
	t.Parallel()

	src := newFakeProvider("alpha")
	src.put("report.txt", "content of unknown length")
	src.hideSize = true
	dst := newFakeProvider("beta")
	dst.requireSize = true

	_, err := New(Options{}).Copy(context.Background(), Request{
		Source:     src,
		SourcePath: mustPath(t, "/report.txt"),
		Dest:       dst,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictWarn,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len("content of unknown length")), dst.lastUploadSize,
		"the stream reaches the destination with its length declared")
}

func TestEngine_IntraMovePreferred(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("alpha")
	p.intra = true
	p.mkdir("docs/")
	p.put("docs/report.txt", "content")

	res, err := New(Options{}).Move(context.Background(), Request{
		Source:     p,
		SourcePath: mustPath(t, "/docs/report.txt"),
		Dest:       p,
		DestFolder: mustPath(t, "/"),
		Conflict:   provider.ConflictWarn,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, p.intraMoves)
	assert.Zero(t, p.uploads, "native move bypasses the streaming path")
	assert.Equal(t, "/report.txt", res.Item.ItemPath().String())
	assert.NotContains(t, p.files, "docs/report.txt")
}

func TestEngine_RootSourceRejected(t *testing.T) {
	t.Parallel()

	p := newFakeProvider("alpha")
	_, err := New(Options{}).Copy(context.Background(), Request{
		Source:     p,
		SourcePath: paths.Root(),
		Dest:       p,
		DestFolder: mustPath(t, "/docs/"),
		Conflict:   provider.ConflictWarn,
	})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindInvalidArgument, errdefs.KindOf(err))
}
