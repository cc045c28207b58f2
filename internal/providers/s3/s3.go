// Package s3 implements the provider contract over an Amazon S3 bucket or
// an S3-compatible endpoint.
//
// Entities map onto object keys below an optional prefix; folders are the
// usual zero-byte keys with a trailing slash plus whatever implicit folders
// the delimiter listing reveals. Downloads answer with a short-lived signed
// URL unless the caller forces a byte stream.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/logging"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/provider"
	"github.com/portagehq/portage/internal/streams"
)

// Name is the provider kind this adapter registers under.
const Name = "s3"

const (
	// signedURLExpiry bounds how long a download redirect stays usable.
	signedURLExpiry = 100 * time.Second

	// nonchunkedUploadLimit is the size above which uploads switch to the
	// multipart API.
	nonchunkedUploadLimit int64 = 128 << 20

	// uploadPartSize is the multipart part size. S3 rejects parts under
	// 5 MiB except the last.
	uploadPartSize int64 = 64 << 20

	// deleteBatchSize is the DeleteObjects request cap.
	deleteBatchSize = 1000

	defaultRegion = "us-east-1"
)

func init() {
	provider.Register(Name, func(ctx context.Context, bundle provider.Bundle) (provider.Provider, error) {
		return New(ctx, Options{
			AccessKey:    bundle.Credential("access_key"),
			SecretKey:    bundle.Credential("secret_key"),
			SessionToken: bundle.Credential("session_token"),
			Bucket:       bundle.Setting("bucket"),
			Prefix:       bundle.Setting("prefix"),
			Region:       bundle.Setting("region"),
			Endpoint:     bundle.Setting("endpoint"),
			HTTPClient:   provider.HTTPClient(),
		})
	})
}

// Options carries the grant material an adapter instance is built from.
type Options struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	Bucket       string
	Prefix       string
	Region       string
	// Endpoint switches the client to an S3-compatible service and forces
	// path-style addressing.
	Endpoint   string
	HTTPClient *http.Client
}

// Provider serves one bucket, optionally below a key prefix.
type Provider struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	log     zerolog.Logger
}

// New builds an adapter from static credentials.
func New(ctx context.Context, opts Options) (*Provider, error) {
	if opts.Bucket == "" {
		return nil, errdefs.InvalidArgument("s3 provider requires a %q setting", "bucket")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, errdefs.InvalidArgument("s3 provider requires access_key and secret_key credentials")
	}
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			opts.SessionToken,
		)),
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(opts.HTTPClient))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindProviderError, err, "could not load aws config")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Provider{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		prefix:  NormalizePrefix(opts.Prefix),
		log:     logging.Component("s3"),
	}, nil
}

// NormalizePrefix canonicalises a key prefix: no leading slash, one trailing
// slash when non-empty.
func NormalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (p *Provider) Name() string { return Name }

// Key maps a gateway path onto the object key, folder tag included.
func (p *Provider) Key(path paths.Path) string {
	return p.prefix + path.Key()
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
	if _, err := p.head(ctx, path, ""); err != nil {
		return paths.Path{}, err
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
	head, err := p.head(ctx, path, versionID(opts.Version))
	if err != nil {
		return nil, err
	}
	return p.fileMetaFromHead(path, head), nil
}

func (p *Provider) List(ctx context.Context, path paths.Path) ([]metadata.Item, error) {
	if !path.IsFolder() {
		return nil, errdefs.InvalidArgument("cannot list file %q", path.String())
	}
	folderKey := p.Key(path)

	var items []metadata.Item
	seen := false
	pager := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(folderKey),
		Delimiter: aws.String("/"),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, normalize(err, "could not retrieve folder %q", path.String())
		}
		for _, cp := range page.CommonPrefixes {
			seen = true
			name := childName(folderKey, aws.ToString(cp.Prefix))
			if name == "" {
				continue
			}
			child, err := path.Child(name, true)
			if err != nil {
				continue
			}
			items = append(items, p.folderMeta(child))
		}
		for _, obj := range page.Contents {
			seen = true
			key := aws.ToString(obj.Key)
			if key == folderKey {
				// The folder's own marker object.
				continue
			}
			name := childName(folderKey, key)
			if name == "" {
				continue
			}
			child, err := path.Child(name, false)
			if err != nil {
				continue
			}
			items = append(items, p.fileMetaFromObject(child, obj))
		}
	}
	if !seen && !path.IsRoot() {
		return nil, errdefs.NotFound("could not retrieve folder %q", path.String())
	}
	return items, nil
}

// Download answers with a signed URL unless the caller forced a byte stream
// or asked for a range, both of which the gateway serves itself.
func (p *Provider) Download(ctx context.Context, path paths.Path, opts provider.DownloadOptions) (*provider.Download, error) {
	if !path.IsFile() {
		return nil, errdefs.InvalidArgument("no file specified for download")
	}
	name := opts.DisplayName
	if name == "" {
		name = path.Name()
	}
	version := versionID(opts.Version)

	if !opts.Direct && opts.Range == nil {
		in := &s3.GetObjectInput{
			Bucket:                     aws.String(p.bucket),
			Key:                        aws.String(p.Key(path)),
			ResponseContentDisposition: aws.String(metadata.Disposition(name)),
		}
		if version != "" {
			in.VersionId = aws.String(version)
		}
		signed, err := p.presign.PresignGetObject(ctx, in, s3.WithPresignExpires(signedURLExpiry))
		if err != nil {
			return nil, normalize(err, "could not sign download of %q", path.String())
		}
		return &provider.Download{RedirectURL: signed.URL, DisplayName: name}, nil
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.Key(path)),
	}
	if version != "" {
		in.VersionId = aws.String(version)
	}
	if opts.Range != nil {
		in.Range = aws.String(rangeHeader(*opts.Range))
	}
	out, err := p.client.GetObject(ctx, in)
	if err != nil {
		return nil, normalize(err, "could not retrieve file %q", path.String())
	}
	size := streams.SizeUnknown
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &provider.Download{
		Stream:      streams.NewReadCloser(out.Body, size),
		DisplayName: name,
	}, nil
}

func (p *Provider) Upload(ctx context.Context, s streams.Stream, path paths.Path, opts provider.UploadOptions) (*metadata.File, bool, error) {
	if !path.IsFile() {
		return nil, false, errdefs.InvalidArgument("cannot upload to folder path %q", path.String())
	}
	if s.Size() < 0 {
		return nil, false, errdefs.LengthRequired("s3 uploads require a known content length")
	}
	key := p.Key(path)

	created := true
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
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

	if s.Size() <= nonchunkedUploadLimit {
		out, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(p.bucket),
			Key:           aws.String(key),
			Body:          hashed,
			ContentLength: aws.Int64(s.Size()),
		})
		if err != nil {
			return nil, false, normalize(err, "could not write %q", path.String())
		}
		// Single-part etags are the content md5, which catches corruption
		// in transit.
		sums := hashed.Sums()
		if etag := strings.Trim(aws.ToString(out.ETag), `"`); isMD5(etag) && etag != sums["md5"] {
			return nil, false, errdefs.HashMismatch("upload of %q landed with md5 %s, expected %s", path.Name(), etag, sums["md5"])
		}
	} else {
		if err := p.multipartUpload(ctx, hashed, key, s.Size()); err != nil {
			return nil, false, err
		}
	}

	head, err := p.head(ctx, path, "")
	if err != nil {
		return nil, false, err
	}
	meta := p.fileMetaFromHead(path, head)
	meta.Hashes = hashed.Sums()
	return meta, created, nil
}

// multipartUpload streams the source in sequential parts. Any failure aborts
// the upload so unfinished parts do not accrue storage.
func (p *Provider) multipartUpload(ctx context.Context, src streams.Stream, key string, total int64) error {
	create, err := p.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return normalize(err, "could not start chunked upload of %q", key)
	}
	uploadID := create.UploadId

	var parts []types.CompletedPart
	var sent int64
	for number := int32(1); sent < total; number++ {
		size := uploadPartSize
		if remaining := total - sent; remaining < size {
			size = remaining
		}
		part, err := p.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(p.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(number),
			Body:          streams.NewCutoffStream(src, size),
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			p.abortMultipart(ctx, key, uploadID)
			return normalize(err, "could not upload part %d of %q", number, key)
		}
		parts = append(parts, types.CompletedPart{ETag: part.ETag, PartNumber: aws.Int32(number)})
		sent += size
	}

	_, err = p.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(p.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		p.abortMultipart(ctx, key, uploadID)
		return normalize(err, "could not finish chunked upload of %q", key)
	}
	return nil
}

func (p *Provider) abortMultipart(ctx context.Context, key string, uploadID *string) {
	// The abort must go out even when the upload died to a cancelled
	// context.
	ctx = context.WithoutCancel(ctx)
	_, err := p.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("could not abort chunked upload, parts may linger")
	}
}

func (p *Provider) Delete(ctx context.Context, path paths.Path, confirm bool) error {
	if path.IsRoot() {
		if !confirm {
			return errdefs.InvalidArgument("confirm_delete=1 is required for deleting root provider folder")
		}
		_, err := p.deletePrefix(ctx, p.Key(path))
		return err
	}
	if path.IsFile() {
		_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(p.Key(path)),
		})
		if err != nil {
			return normalize(err, "could not delete %q", path.String())
		}
		return nil
	}
	deleted, err := p.deletePrefix(ctx, p.Key(path))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return errdefs.NotFound("could not delete folder %q", path.String())
	}
	return nil
}

// deletePrefix removes every key below prefix in DeleteObjects batches and
// reports how many went away.
func (p *Provider) deletePrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	var batch []types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(p.bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return normalize(err, "could not delete objects under %q", prefix)
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	pager := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return deleted, normalize(err, "could not list %q for deletion", prefix)
		}
		for _, obj := range page.Contents {
			batch = append(batch, types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == deleteBatchSize {
				if err := flush(); err != nil {
					return deleted, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// CreateFolder writes the zero-byte trailing-slash marker. An implicit
// folder, one visible only through its children, gains a marker and is not
// treated as a conflict.
func (p *Provider) CreateFolder(ctx context.Context, path paths.Path) (*metadata.Folder, error) {
	if !path.IsFolder() || path.IsRoot() {
		return nil, errdefs.InvalidArgument("cannot create folder at %q", path.String())
	}
	key := p.Key(path)

	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil, errdefs.NamingConflict("cannot create folder %q, a file or folder already exists with that name", path.Name()).
			With("name", path.Name())
	}
	if !isNotFound(err) {
		return nil, normalize(err, "could not check folder %q", path.String())
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return nil, normalize(err, "could not create folder %q", path.String())
	}
	return p.folderMeta(path), nil
}

func (p *Provider) Revisions(ctx context.Context, path paths.Path) ([]metadata.Revision, error) {
	if !path.IsFile() {
		return nil, errdefs.InvalidArgument("revisions require a file path")
	}
	key := p.Key(path)

	var revisions []metadata.Revision
	in := &s3.ListObjectVersionsInput{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(key),
	}
	for {
		out, err := p.client.ListObjectVersions(ctx, in)
		if err != nil {
			return nil, normalize(err, "could not retrieve revisions of %q", path.String())
		}
		for _, v := range out.Versions {
			// The prefix listing also returns keys that merely share the
			// prefix.
			if aws.ToString(v.Key) != key {
				continue
			}
			version := aws.ToString(v.VersionId)
			if aws.ToBool(v.IsLatest) {
				version = "Latest"
			}
			rev := metadata.Revision{Version: version, Modified: aws.ToTime(v.LastModified)}
			if etag := strings.Trim(aws.ToString(v.ETag), `"`); isMD5(etag) {
				rev.Extra = map[string]any{"md5": etag}
			}
			revisions = append(revisions, rev)
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		in.KeyMarker = out.NextKeyMarker
		in.VersionIdMarker = out.NextVersionIdMarker
	}
	if len(revisions) == 0 {
		return nil, errdefs.NotFound("could not retrieve file %q", path.String())
	}
	return revisions, nil
}

// CanIntraCopy allows server-side copies between s3 mounts for files only;
// folder copies fan out through the gateway.
func (p *Provider) CanIntraCopy(other provider.Provider, path paths.Path) bool {
	_, ok := other.(*Provider)
	return ok && path.IsFile()
}

func (p *Provider) CanIntraMove(other provider.Provider, path paths.Path) bool {
	return p.CanIntraCopy(other, path)
}

func (p *Provider) IntraCopy(ctx context.Context, other provider.Provider, src, dst paths.Path) (metadata.Item, bool, error) {
	dest, ok := other.(*Provider)
	if !ok {
		return nil, false, errdefs.NotSupported("intra copy requires an s3 destination")
	}
	created := true
	if _, err := dest.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(dest.bucket),
		Key:    aws.String(dest.Key(dst)),
	}); err == nil {
		created = false
	}

	_, err := dest.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dest.bucket),
		Key:        aws.String(dest.Key(dst)),
		CopySource: aws.String(copySource(p.bucket, p.Key(src))),
	})
	if err != nil {
		return nil, false, normalize(err, "could not copy %q", src.String())
	}
	item, err := dest.Metadata(ctx, dst, provider.MetadataOptions{})
	return item, created, err
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
	return ok && o.bucket == p.bucket && o.prefix == p.prefix
}

// RequiresKnownSize makes the transfer engine spool unknown-size sources
// before they reach Upload.
func (p *Provider) RequiresKnownSize() bool { return true }

func (p *Provider) head(ctx context.Context, path paths.Path, version string) (*s3.HeadObjectOutput, error) {
	in := &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.Key(path)),
	}
	if version != "" {
		in.VersionId = aws.String(version)
	}
	out, err := p.client.HeadObject(ctx, in)
	if err != nil {
		return nil, normalize(err, "could not retrieve file %q", path.String())
	}
	return out, nil
}

func (p *Provider) folderExists(ctx context.Context, path paths.Path) (bool, error) {
	out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(p.Key(path)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, normalize(err, "could not retrieve folder %q", path.String())
	}
	return aws.ToInt32(out.KeyCount) > 0, nil
}

func (p *Provider) folderMeta(path paths.Path) *metadata.Folder {
	return &metadata.Folder{
		Name:     path.Name(),
		Path:     path,
		Provider: Name,
	}
}

func (p *Provider) fileMetaFromHead(path paths.Path, head *s3.HeadObjectOutput) *metadata.File {
	etag := strings.Trim(aws.ToString(head.ETag), `"`)
	meta := &metadata.File{
		Name:        path.Name(),
		Path:        path,
		Provider:    Name,
		Size:        aws.ToInt64(head.ContentLength),
		ContentType: aws.ToString(head.ContentType),
		Modified:    aws.ToTime(head.LastModified),
		ETag:        etag,
		Hashes:      hashesFromETag(etag),
	}
	if v := aws.ToString(head.VersionId); v != "" {
		meta.Extra = map[string]any{"version_id": v}
	}
	return meta
}

func (p *Provider) fileMetaFromObject(path paths.Path, obj types.Object) *metadata.File {
	etag := strings.Trim(aws.ToString(obj.ETag), `"`)
	return &metadata.File{
		Name:     path.Name(),
		Path:     path,
		Provider: Name,
		Size:     aws.ToInt64(obj.Size),
		Modified: aws.ToTime(obj.LastModified),
		ETag:     etag,
		Hashes:   hashesFromETag(etag),
	}
}

// childName extracts the immediate child name from a delimiter listing
// entry, tolerating the trailing slash on common prefixes.
func childName(folderKey, full string) string {
	return strings.TrimSuffix(strings.TrimPrefix(full, folderKey), "/")
}

// versionID maps the public revision token onto a VersionId parameter. The
// "Latest" token and the empty string both mean the current version.
func versionID(version string) string {
	if version == "" || strings.EqualFold(version, "latest") {
		return ""
	}
	return version
}

func rangeHeader(r provider.ByteRange) string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// copySource renders the URL-encoded "bucket/key" form CopyObject wants.
func copySource(bucket, key string) string {
	u := url.URL{Path: "/" + bucket + "/" + key}
	return strings.TrimPrefix(u.EscapedPath(), "/")
}

// isMD5 reports whether an etag is a plain content digest. Multipart uploads
// produce "<md5-of-md5s>-<parts>" tags, which must not feed hash
// verification.
func isMD5(etag string) bool {
	if len(etag) != 32 {
		return false
	}
	for _, r := range etag {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// hashesFromETag surfaces a plain etag as the md5 hash.
func hashesFromETag(etag string) map[string]string {
	if !isMD5(etag) {
		return nil
	}
	return map[string]string{"md5": strings.ToLower(etag)}
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "NoSuchVersion":
			return true
		}
	}
	return false
}

// normalize maps SDK errors onto the gateway taxonomy.
func normalize(err error, format string, args ...any) error {
	if isNotFound(err) {
		return errdefs.Wrap(errdefs.KindNotFound, err, format, args...)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AllAccessDisabled":
			return errdefs.Wrap(errdefs.KindForbidden, err, format, args...)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "TokenRefreshRequired":
			return errdefs.Wrap(errdefs.KindUnauthorized, err, format, args...)
		}
	}
	return errdefs.Wrap(errdefs.KindProviderError, err, format, args...)
}

var (
	_ provider.Provider          = (*Provider)(nil)
	_ provider.KnownSizeRequirer = (*Provider)(nil)
)
