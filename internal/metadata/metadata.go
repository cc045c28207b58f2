// Package metadata defines the fixed-schema descriptions of files, folders
// and revisions that provider adapters return, plus their JSON-API wire
// shape.
//
// The schema is closed: callers never reach into backend payloads directly.
// Anything provider-specific travels in the Extra map and is passed through
// untouched.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/portagehq/portage/internal/paths"
)

// SizeUnknown marks a file whose backend does not report a byte size.
const SizeUnknown int64 = -1

// Kind discriminates the metadata variant.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Item is the file-or-folder variant returned by provider metadata calls.
type Item interface {
	ItemKind() Kind
	ItemName() string
	ItemPath() paths.Path
	ItemProvider() string
}

// File describes a single file entity.
type File struct {
	Name        string
	Path        paths.Path
	Provider    string
	Size        int64
	ContentType string
	Modified    time.Time
	Created     time.Time
	ETag        string
	Hashes      map[string]string // lowercase algorithm name -> lowercase hex
	Extra       map[string]any
}

func (f *File) ItemKind() Kind { return KindFile }
func (f *File) ItemName() string { return f.Name }
func (f *File) ItemPath() paths.Path { return f.Path }
func (f *File) ItemProvider() string { return f.Provider }

// Folder describes a folder entity. Children are fetched separately.
type Folder struct {
	Name     string
	Path     paths.Path
	Provider string
	Extra    map[string]any
}

func (f *Folder) ItemKind() Kind { return KindFolder }
func (f *Folder) ItemName() string { return f.Name }
func (f *Folder) ItemPath() paths.Path { return f.Path }
func (f *Folder) ItemProvider() string { return f.Provider }

// Revision describes one historical version of a file, newest first in
// provider listings.
type Revision struct {
	Version  string
	Modified time.Time
	Author   string
	Extra    map[string]any
}

// JSONAPI is the response envelope member for a single entity.
type JSONAPI struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]any    `json:"attributes"`
	Links      map[string]string `json:"links,omitempty"`
}

// ToJSONAPI shapes an item for the wire. The id is the provider name joined
// with the canonical path; etags are salted with the provider name so raw
// backend validators never leak.
func ToJSONAPI(item Item, resource, baseURL string) JSONAPI {
	p := item.ItemPath()
	attrs := map[string]any{
		"kind":         string(item.ItemKind()),
		"name":         item.ItemName(),
		"path":         p.String(),
		"materialized": p.String(),
		"provider":     item.ItemProvider(),
	}

	entity := EntityURL(baseURL, resource, item.ItemProvider(), p)
	links := map[string]string{
		"self":   entity,
		"move":   entity,
		"delete": entity,
	}

	switch v := item.(type) {
	case *File:
		if v.Size >= 0 {
			attrs["size"] = v.Size
		} else {
			attrs["size"] = nil
		}
		attrs["contentType"] = v.ContentType
		attrs["modified"] = timeOrNil(v.Modified)
		attrs["created"] = timeOrNil(v.Created)
		attrs["etag"] = SaltETag(v.Provider, v.ETag)
		if len(v.Hashes) > 0 {
			attrs["hashes"] = v.Hashes
		}
		attrs["extra"] = orEmpty(v.Extra)
		links["download"] = entity
		links["upload"] = entity + "?kind=file"
		return JSONAPI{
			ID:         v.Provider + p.String(),
			Type:       "files",
			Attributes: attrs,
			Links:      links,
		}
	case *Folder:
		attrs["size"] = nil
		attrs["extra"] = orEmpty(v.Extra)
		links["new_folder"] = entity + "?kind=folder"
		links["upload"] = entity + "?kind=file"
		return JSONAPI{
			ID:         v.Provider + p.String(),
			Type:       "folders",
			Attributes: attrs,
			Links:      links,
		}
	default:
		return JSONAPI{ID: item.ItemProvider() + p.String(), Attributes: attrs}
	}
}

// RevisionJSONAPI shapes one revision entry; revision lists have no links.
func RevisionJSONAPI(rev Revision) JSONAPI {
	attrs := map[string]any{
		"version":  rev.Version,
		"modified": timeOrNil(rev.Modified),
		"extra":    orEmpty(rev.Extra),
	}
	if rev.Author != "" {
		attrs["author"] = rev.Author
	}
	return JSONAPI{
		ID:         rev.Version,
		Type:       "file_versions",
		Attributes: attrs,
	}
}

// EntityURL renders the absolute action URL for an entity, escaping each
// path segment while preserving the load-bearing trailing slash.
func EntityURL(baseURL, resource, provider string, p paths.Path) string {
	out := baseURL + "/v1/resources/" + url.PathEscape(resource) +
		"/providers/" + url.PathEscape(provider)
	for _, part := range p.Parts()[1:] {
		out += "/" + url.PathEscape(part.Name())
	}
	if p.IsFolder() {
		out += "/"
	}
	return out
}

// Disposition renders a Content-Disposition attachment value carrying the
// display name in the RFC 5987 encoded form, which survives names outside
// ASCII.
func Disposition(name string) string {
	return "attachment; filename*=UTF-8''" + url.PathEscape(name)
}

// SaltETag hashes a backend etag together with the provider name. Identical
// content on different backends therefore presents distinct public etags,
// and backend validator formats stay private.
func SaltETag(provider, etag string) string {
	if etag == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(provider + "::" + etag))
	return hex.EncodeToString(sum[:])
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
