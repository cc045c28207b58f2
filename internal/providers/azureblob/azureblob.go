// Package azureblob implements the provider contract over an Azure Blob
// Storage container.
//
// The adapter authenticates with a shared key pair or a ready-made SAS URL,
// maps entities onto blob names below an optional prefix, and uploads
// through staged blocks so sources of unknown length need no spooling.
package azureblob

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/rs/zerolog"

	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/logging"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/provider"
	"github.com/portagehq/portage/internal/streams"
)

// Name is the provider kind this adapter registers under.
const Name = "azureblob"

const (
	// uploadBlockSize bounds the memory each in-flight upload stages at a
	// time.
	uploadBlockSize = 4 << 20

	copyPollInterval = 500 * time.Millisecond
	copyPollAttempts = 60
)

func init() {
	provider.Register(Name, func(ctx context.Context, bundle provider.Bundle) (provider.Provider, error) {
		return New(Options{
			AccountName: bundle.Credential("account_name"),
			AccountKey:  bundle.Credential("account_key"),
			SASURL:      bundle.Credential("sas_url"),
			Container:   bundle.Setting("container"),
			Prefix:      bundle.Setting("prefix"),
			HTTPClient:  provider.HTTPClient(),
		})
	})
}

// Options carries the grant material an adapter instance is built from.
type Options struct {
	AccountName string
	AccountKey  string
	// SASURL is a full service URL carrying a sas token. It replaces the
	// shared key pair when set.
	SASURL     string
	Container  string
	Prefix     string
	HTTPClient *http.Client
}

// Provider serves one container, optionally below a blob name prefix.
type Provider struct {
	client    *azblob.Client
	account   string
	container string
	prefix    string
	log       zerolog.Logger
}

// New builds an adapter from a shared key pair or a SAS URL.
func New(opts Options) (*Provider, error) {
	if opts.Container == "" {
		return nil, errdefs.InvalidArgument("azureblob provider requires a %q setting", "container")
	}

	var clientOpts *azblob.ClientOptions
	if opts.HTTPClient != nil {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{Transport: opts.HTTPClient},
		}
	}

	var (
		client  *azblob.Client
		account string
		err     error
	)
	switch {
	case opts.SASURL != "":
		client, err = azblob.NewClientWithNoCredential(opts.SASURL, clientOpts)
		account = accountFromURL(opts.SASURL)
	case opts.AccountName != "" && opts.AccountKey != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindInvalidArgument, err, "invalid azure shared key")
		}
		serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", opts.AccountName)
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, clientOpts)
		account = opts.AccountName
	default:
		return nil, errdefs.InvalidArgument("azureblob provider requires account_name and account_key credentials or a sas_url")
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindProviderError, err, "could not build azure client")
	}

	return &Provider{
		client:    client,
		account:   account,
		container: opts.Container,
		prefix:    normalizePrefix(opts.Prefix),
		log:       logging.Component("azureblob"),
	}, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// accountFromURL extracts the storage account from a service URL host like
// "myaccount.blob.core.windows.net".
func accountFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host, _, found := strings.Cut(u.Hostname(), ".")
	if !found {
		return ""
	}
	return host
}

func (p *Provider) Name() string { return Name }

// BlobName maps a gateway path onto the blob name, folder tag included.
func (p *Provider) BlobName(path paths.Path) string {
	return p.prefix + path.Key()
}

func (p *Provider) containerClient() *container.Client {
	return p.client.ServiceClient().NewContainerClient(p.container)
}

func (p *Provider) blobClient(name string) *blob.Client {
	return p.containerClient().NewBlobClient(name)
}

func (p *Provider) blockClient(name string) *blockblob.Client {
	return p.containerClient().NewBlockBlobClient(name)
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
	if path.IsFolder() {
		ok, err := p.folderExists(ctx, path)
		if err != nil {
			return paths.Path{}, err
		}
		if !ok {
			return paths.Path{}, errdefs.NotFound("could not retrieve folder %q", path.String())
		}
		return path, nil
	}
	if _, err := p.blobClient(p.BlobName(path)).GetProperties(ctx, nil); err != nil {
		return paths.Path{}, normalize(err, "could not retrieve file %q", path.String())
	}
	return path, nil
}

func (p *Provider) Metadata(ctx context.Context, path paths.Path, opts provider.MetadataOptions) (metadata.Item, error) {
	if path.IsFolder() {
		if path.IsRoot() {
			return p.folderMeta(path), nil
		}
		ok, err := p.folderExists(ctx, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errdefs.NotFound("could not retrieve folder %q", path.String())
		}
		return p.folderMeta(path), nil
	}
	if err := checkVersion(opts.Version); err != nil {
		return nil, err
	}
	props, err := p.blobClient(p.BlobName(path)).GetProperties(ctx, nil)
	if err != nil {
		return nil, normalize(err, "could not retrieve file %q", path.String())
	}
	return p.fileMetaFromProps(path, props), nil
}

func (p *Provider) List(ctx context.Context, path paths.Path) ([]metadata.Item, error) {
	if !path.IsFolder() {
		return nil, errdefs.InvalidArgument("cannot list file %q", path.String())
	}
	folderName := p.BlobName(path)

	var items []metadata.Item
	seen := false
	pager := p.containerClient().NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix: to.Ptr(folderName),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, normalize(err, "could not retrieve folder %q", path.String())
		}
		if page.Segment == nil {
			continue
		}
		for _, prefix := range page.Segment.BlobPrefixes {
			seen = true
			name := childName(folderName, strVal(prefix.Name))
			if name == "" {
				continue
			}
			child, err := path.Child(name, true)
			if err != nil {
				continue
			}
			items = append(items, p.folderMeta(child))
		}
		for _, item := range page.Segment.BlobItems {
			seen = true
			blobName := strVal(item.Name)
			if blobName == folderName {
				// The folder's own marker blob.
				continue
			}
			name := childName(folderName, blobName)
			if name == "" {
				continue
			}
			child, err := path.Child(name, false)
			if err != nil {
				continue
			}
			items = append(items, p.fileMetaFromItem(child, item))
		}
	}
	if !seen && !path.IsRoot() {
		return nil, errdefs.NotFound("could not retrieve folder %q", path.String())
	}
	return items, nil
}

// Download always streams; this backend issues no signed URLs.
func (p *Provider) Download(ctx context.Context, path paths.Path, opts provider.DownloadOptions) (*provider.Download, error) {
	if !path.IsFile() {
		return nil, errdefs.InvalidArgument("no file specified for download")
	}
	if err := checkVersion(opts.Version); err != nil {
		return nil, err
	}
	name := opts.DisplayName
	if name == "" {
		name = path.Name()
	}

	var dlOpts *azblob.DownloadStreamOptions
	if opts.Range != nil {
		count := int64(blockblob.CountToEnd)
		if opts.Range.End >= opts.Range.Start {
			count = opts.Range.End - opts.Range.Start + 1
		}
		dlOpts = &azblob.DownloadStreamOptions{
			Range: azblob.HTTPRange{Offset: opts.Range.Start, Count: count},
		}
	}
	resp, err := p.blobClient(p.BlobName(path)).DownloadStream(ctx, dlOpts)
	if err != nil {
		return nil, normalize(err, "could not retrieve file %q", path.String())
	}
	size := streams.SizeUnknown
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	return &provider.Download{
		Stream:      streams.NewReadCloser(resp.Body, size),
		DisplayName: name,
	}, nil
}

func (p *Provider) Upload(ctx context.Context, s streams.Stream, path paths.Path, opts provider.UploadOptions) (*metadata.File, bool, error) {
	if !path.IsFile() {
		return nil, false, errdefs.InvalidArgument("cannot upload to folder path %q", path.String())
	}
	name := p.BlobName(path)

	created := true
	_, err := p.blobClient(name).GetProperties(ctx, nil)
	switch {
	case err == nil:
		if opts.Conflict != provider.ConflictReplace {
			return nil, false, errdefs.NamingConflict("cannot complete action: file %q already exists in this location", path.Name()).
				With("name", path.Name())
		}
		created = false
	case !isNotFound(err):
		return nil, false, normalize(err, "could not check %q before upload", path.String())
	}

	hashed, err := streams.NewHashStream(s, "md5", "sha256")
	if err != nil {
		return nil, false, err
	}

	// Stage fixed-size blocks so the source length never needs to be known
	// up front. Uncommitted blocks of a failed upload age out on their own.
	blockClient := p.blockClient(name)
	buf := make([]byte, uploadBlockSize)
	var ids []string
	for i := 0; ; i++ {
		n, readErr := io.ReadFull(hashed, buf)
		if n > 0 {
			id := blockID(i)
			if _, err := blockClient.StageBlock(ctx, id, &readSeekCloser{bytes.NewReader(buf[:n])}, nil); err != nil {
				return nil, false, normalize(err, "could not write %q", path.String())
			}
			ids = append(ids, id)
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			if errdefs.IsKind(readErr, errdefs.KindUploadIncomplete) {
				return nil, false, readErr
			}
			return nil, false, errdefs.Wrap(errdefs.KindUnexpected, readErr, "could not read upload for %q", path.String())
		}
	}
	if declared := s.Size(); declared >= 0 && hashed.BytesRead() != declared {
		return nil, false, errdefs.UploadIncomplete("upload of %q ended after %d of %d bytes", path.Name(), hashed.BytesRead(), declared)
	}

	sums := hashed.Sums()
	commitOpts := &blockblob.CommitBlockListOptions{}
	if md5sum, err := hex.DecodeString(sums["md5"]); err == nil {
		commitOpts.HTTPHeaders = &blob.HTTPHeaders{BlobContentMD5: md5sum}
	}
	if _, err := blockClient.CommitBlockList(ctx, ids, commitOpts); err != nil {
		return nil, false, normalize(err, "could not finalise %q", path.String())
	}

	props, err := p.blobClient(name).GetProperties(ctx, nil)
	if err != nil {
		return nil, false, normalize(err, "could not retrieve file %q", path.String())
	}
	meta := p.fileMetaFromProps(path, props)
	meta.Hashes = sums
	return meta, created, nil
}

func (p *Provider) Delete(ctx context.Context, path paths.Path, confirm bool) error {
	if path.IsRoot() {
		if !confirm {
			return errdefs.InvalidArgument("confirm_delete=1 is required for deleting root provider folder")
		}
		_, err := p.deletePrefix(ctx, p.BlobName(path))
		return err
	}
	if path.IsFile() {
		if _, err := p.blobClient(p.BlobName(path)).Delete(ctx, nil); err != nil {
			return normalize(err, "could not delete %q", path.String())
		}
		return nil
	}
	deleted, err := p.deletePrefix(ctx, p.BlobName(path))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return errdefs.NotFound("could not delete folder %q", path.String())
	}
	return nil
}

// deletePrefix removes every blob below prefix one by one; the blob API has
// no bulk delete.
func (p *Provider) deletePrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return deleted, normalize(err, "could not list %q for deletion", prefix)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			name := strVal(item.Name)
			if _, err := p.blobClient(name).Delete(ctx, nil); err != nil && !isNotFound(err) {
				return deleted, normalize(err, "could not delete %q", name)
			}
			deleted++
		}
	}
	return deleted, nil
}

// CreateFolder writes the zero-byte trailing-slash marker. An implicit
// folder gains a marker and is not treated as a conflict.
func (p *Provider) CreateFolder(ctx context.Context, path paths.Path) (*metadata.Folder, error) {
	if !path.IsFolder() || path.IsRoot() {
		return nil, errdefs.InvalidArgument("cannot create folder at %q", path.String())
	}
	name := p.BlobName(path)

	_, err := p.blobClient(name).GetProperties(ctx, nil)
	if err == nil {
		return nil, errdefs.NamingConflict("cannot create folder %q, a file or folder already exists with that name", path.Name()).
			With("name", path.Name())
	}
	if !isNotFound(err) {
		return nil, normalize(err, "could not check folder %q", path.String())
	}

	if _, err := p.blockClient(name).Upload(ctx, &readSeekCloser{bytes.NewReader(nil)}, nil); err != nil {
		return nil, normalize(err, "could not create folder %q", path.String())
	}
	return p.folderMeta(path), nil
}

// Revisions reports the single current revision; the gateway does not reach
// into blob snapshots.
func (p *Provider) Revisions(ctx context.Context, path paths.Path) ([]metadata.Revision, error) {
	if !path.IsFile() {
		return nil, errdefs.InvalidArgument("revisions require a file path")
	}
	props, err := p.blobClient(p.BlobName(path)).GetProperties(ctx, nil)
	if err != nil {
		return nil, normalize(err, "could not retrieve file %q", path.String())
	}
	return []metadata.Revision{{Version: "latest", Modified: timeVal(props.LastModified)}}, nil
}

// CanIntraCopy allows server-side copies between mounts of the same storage
// account for files only.
func (p *Provider) CanIntraCopy(other provider.Provider, path paths.Path) bool {
	o, ok := other.(*Provider)
	return ok && o.account == p.account && p.account != "" && path.IsFile()
}

func (p *Provider) CanIntraMove(other provider.Provider, path paths.Path) bool {
	return p.CanIntraCopy(other, path)
}

func (p *Provider) IntraCopy(ctx context.Context, other provider.Provider, src, dst paths.Path) (metadata.Item, bool, error) {
	dest, ok := other.(*Provider)
	if !ok {
		return nil, false, errdefs.NotSupported("intra copy requires an azureblob destination")
	}
	destName := dest.BlobName(dst)

	created := true
	if _, err := dest.blobClient(destName).GetProperties(ctx, nil); err == nil {
		created = false
	}

	srcURL := p.blobClient(p.BlobName(src)).URL()
	resp, err := dest.blobClient(destName).StartCopyFromURL(ctx, srcURL, nil)
	if err != nil {
		return nil, false, normalize(err, "could not copy %q", src.String())
	}
	if err := dest.waitForCopy(ctx, destName, resp.CopyStatus); err != nil {
		return nil, false, err
	}
	item, err := dest.Metadata(ctx, dst, provider.MetadataOptions{})
	return item, created, err
}

// waitForCopy polls a pending server-side copy. Same-account copies almost
// always finish synchronously, so the loop rarely runs.
func (p *Provider) waitForCopy(ctx context.Context, name string, status *blob.CopyStatusType) error {
	for attempt := 0; ; attempt++ {
		if status != nil {
			switch *status {
			case blob.CopyStatusTypeSuccess:
				return nil
			case blob.CopyStatusTypePending:
			default:
				return errdefs.ProviderError("server-side copy of %q ended with status %q", name, string(*status))
			}
		}
		if attempt >= copyPollAttempts {
			return errdefs.ProviderError("server-side copy of %q still pending", name)
		}
		p.log.Debug().Str("blob", name).Int("attempt", attempt).Msg("waiting for server-side copy")
		select {
		case <-ctx.Done():
			return errdefs.Wrap(errdefs.KindServiceUnavailable, ctx.Err(), "server-side copy of %q interrupted", name)
		case <-time.After(copyPollInterval):
		}
		props, err := p.blobClient(name).GetProperties(ctx, nil)
		if err != nil {
			return normalize(err, "could not poll copy of %q", name)
		}
		status = props.CopyStatus
	}
}

func (p *Provider) IntraMove(ctx context.Context, other provider.Provider, src, dst paths.Path) (metadata.Item, bool, error) {
	item, created, err := p.IntraCopy(ctx, other, src, dst)
	if err != nil {
		return nil, false, err
	}
	if err := p.Delete(ctx, src, false); err != nil {
		return nil, false, err
	}
	return item, created, nil
}

func (p *Provider) CanDuplicateNames() bool { return true }

func (p *Provider) SharesStorageRoot(other provider.Provider) bool {
	o, ok := other.(*Provider)
	return ok && o.account == p.account && o.container == p.container && o.prefix == p.prefix
}

func (p *Provider) folderExists(ctx context.Context, path paths.Path) (bool, error) {
	pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
		Prefix:     to.Ptr(p.BlobName(path)),
		MaxResults: to.Ptr(int32(1)),
	})
	if !pager.More() {
		return false, nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return false, normalize(err, "could not retrieve folder %q", path.String())
	}
	return page.Segment != nil && len(page.Segment.BlobItems) > 0, nil
}

func (p *Provider) folderMeta(path paths.Path) *metadata.Folder {
	return &metadata.Folder{
		Name:     path.Name(),
		Path:     path,
		Provider: Name,
	}
}

func (p *Provider) fileMetaFromProps(path paths.Path, props blob.GetPropertiesResponse) *metadata.File {
	return &metadata.File{
		Name:        path.Name(),
		Path:        path,
		Provider:    Name,
		Size:        i64Val(props.ContentLength),
		ContentType: strVal(props.ContentType),
		Modified:    timeVal(props.LastModified),
		Created:     timeVal(props.CreationTime),
		ETag:        etagVal(props.ETag),
		Hashes:      hashesFromMD5(props.ContentMD5),
	}
}

func (p *Provider) fileMetaFromItem(path paths.Path, item *container.BlobItem) *metadata.File {
	meta := &metadata.File{
		Name:     path.Name(),
		Path:     path,
		Provider: Name,
	}
	if item.Properties != nil {
		meta.Size = i64Val(item.Properties.ContentLength)
		meta.ContentType = strVal(item.Properties.ContentType)
		meta.Modified = timeVal(item.Properties.LastModified)
		meta.Created = timeVal(item.Properties.CreationTime)
		meta.ETag = etagVal(item.Properties.ETag)
		meta.Hashes = hashesFromMD5(item.Properties.ContentMD5)
	}
	return meta
}

// checkVersion admits the only revision this adapter serves.
func checkVersion(version string) error {
	if version == "" || strings.EqualFold(version, "latest") {
		return nil
	}
	return errdefs.NotFound("no revision %q", version)
}

func childName(folderName, full string) string {
	return strings.TrimSuffix(strings.TrimPrefix(full, folderName), "/")
}

// blockID renders the fixed-width base64 block identifier the block list
// API requires.
func blockID(n int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("block-%010d", n)))
}

type readSeekCloser struct {
	*bytes.Reader
}

func (*readSeekCloser) Close() error { return nil }

func hashesFromMD5(sum []byte) map[string]string {
	if len(sum) == 0 {
		return nil
	}
	return map[string]string{"md5": hex.EncodeToString(sum)}
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func i64Val(i *int64) int64 {
	if i == nil {
		return 0
	}
	return *i
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func etagVal(e *azcore.ETag) string {
	if e == nil {
		return ""
	}
	return strings.Trim(string(*e), `"`)
}

func isNotFound(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound)
}

// normalize maps SDK errors onto the gateway taxonomy.
func normalize(err error, format string, args ...any) error {
	switch {
	case isNotFound(err):
		return errdefs.Wrap(errdefs.KindNotFound, err, format, args...)
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.InvalidAuthenticationInfo):
		return errdefs.Wrap(errdefs.KindUnauthorized, err, format, args...)
	case bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.InsufficientAccountPermissions):
		return errdefs.Wrap(errdefs.KindForbidden, err, format, args...)
	case bloberror.HasCode(err, bloberror.BlobAlreadyExists):
		return errdefs.Wrap(errdefs.KindNamingConflict, err, format, args...)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return errdefs.Wrap(errdefs.KindNotFound, err, format, args...)
		case http.StatusUnauthorized:
			return errdefs.Wrap(errdefs.KindUnauthorized, err, format, args...)
		case http.StatusForbidden:
			return errdefs.Wrap(errdefs.KindForbidden, err, format, args...)
		}
	}
	return errdefs.Wrap(errdefs.KindProviderError, err, format, args...)
}

var (
	_ provider.Provider = (*Provider)(nil)
)
