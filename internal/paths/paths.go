// Package paths implements the gateway path model.
//
// A Path is an immutable, ordered sequence of named parts tagged as a file or
// a folder. The tag is part of identity: two sibling entries with the same
// name but different tags are distinct entities. The trailing slash in the
// string form carries the tag and every serialisation preserves it.
//
// Parts may carry an opaque backend identifier for providers that address
// entities by id rather than by name. Two Paths are equal only if their part
// sequences (name and id) and their tags are identical.
package paths

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/portagehq/portage/internal/errdefs"
)

// invisibleRunes are zero-width and formatting characters rejected in part
// names. Names containing them are indistinguishable on screen from their
// clean form, which makes conflict handling and audit trails unreliable.
var invisibleRunes = []rune{
	'​', // zero-width space
	'‌', // zero-width non-joiner
	'‍', // zero-width joiner
	'\uFEFF', // zero-width no-break space
	'­', // soft hyphen
	'⁠', // word joiner
}

// Part is one named level of a Path.
type Part struct {
	name string
	id   string
}

// NewPart builds a Part with an optional backend identifier.
func NewPart(name, id string) Part { return Part{name: name, id: id} }

// Name returns the human name of the part.
func (p Part) Name() string { return p.name }

// ID returns the opaque backend identifier, or "" when the backend is
// name-addressed.
func (p Part) ID() string { return p.id }

// Ext returns the extension of the part name including the dot, or "".
// A bare dotfile such as ".profile" has no extension.
func (p Part) Ext() string {
	ext := filepath.Ext(p.name)
	if ext == p.name {
		return ""
	}
	return ext
}

// Path is an immutable gateway path. The zero value is not valid; use New,
// NewWithIDs or Root.
type Path struct {
	parts  []Part // parts[0] is the root part with name ""
	folder bool
}

// Root returns the provider root: the empty path, always a folder.
func Root() Path {
	return Path{parts: []Part{{}}, folder: true}
}

// New parses a raw path string. The path must begin with "/"; a trailing "/"
// tags it as a folder. Empty segments and "."/".." traversal are rejected
// with InvalidPath.
func New(raw string) (Path, error) {
	return NewWithIDs(raw, nil)
}

// NewWithKind parses raw and additionally enforces the expected tag: a raw
// folder string for a file kind (or the reverse) fails with InvalidPath.
func NewWithKind(raw string, folder bool) (Path, error) {
	p, err := New(raw)
	if err != nil {
		return Path{}, err
	}
	if p.folder != folder {
		want := "file"
		if folder {
			want = "folder"
		}
		return Path{}, errdefs.InvalidPath("path %q does not match expected kind %s", raw, want)
	}
	return p, nil
}

// NewWithIDs parses raw and attaches backend identifiers to the parts,
// aligned from the root. Missing trailing ids stay empty.
func NewWithIDs(raw string, ids []string) (Path, error) {
	if raw == "" || raw[0] != '/' {
		return Path{}, errdefs.InvalidPath("path %q must start with /", raw)
	}

	folder := strings.HasSuffix(raw, "/")
	trimmed := strings.TrimPrefix(raw, "/")
	if folder {
		trimmed = strings.TrimSuffix(trimmed, "/")
	}

	parts := []Part{{}}
	if trimmed != "" {
		for _, seg := range strings.Split(trimmed, "/") {
			if err := ValidateName(seg); err != nil {
				return Path{}, err
			}
			parts = append(parts, Part{name: seg})
		}
	}
	if len(parts) == 1 && !folder {
		return Path{}, errdefs.InvalidPath("the root path is always a folder")
	}

	if len(ids) > len(parts) {
		return Path{}, errdefs.InvalidPath("path %q carries %d ids for %d parts", raw, len(ids), len(parts))
	}
	for i := range ids {
		parts[i].id = ids[i]
	}

	return Path{parts: parts, folder: folder}, nil
}

// ValidateName rejects segment names that cannot name a single entity:
// empty strings, path separators, traversal tokens, control bytes and
// invisible formatting characters.
func ValidateName(name string) error {
	switch name {
	case "":
		return errdefs.InvalidPath("path contains an empty segment")
	case ".", "..":
		return errdefs.InvalidPath("path may not contain traversal segment %q", name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return errdefs.InvalidPath("name %q contains a path separator or NUL", name)
	}
	for _, r := range invisibleRunes {
		if strings.ContainsRune(name, r) {
			return errdefs.InvalidPath("name %q contains an invisible character", name)
		}
	}
	return nil
}

// IsRoot reports whether the path is the provider root.
func (p Path) IsRoot() bool { return len(p.parts) == 1 }

// IsFolder reports the folder tag.
func (p Path) IsFolder() bool { return p.folder }

// IsFile reports the file tag.
func (p Path) IsFile() bool { return !p.folder }

// Name returns the leaf name; "" for the root.
func (p Path) Name() string { return p.parts[len(p.parts)-1].name }

// ID returns the leaf backend identifier, or "".
func (p Path) ID() string { return p.parts[len(p.parts)-1].id }

// Ext returns the leaf extension including the dot, or "".
func (p Path) Ext() string { return p.parts[len(p.parts)-1].Ext() }

// Parts returns a copy of the part sequence including the root part.
func (p Path) Parts() []Part {
	out := make([]Part, len(p.parts))
	copy(out, p.parts)
	return out
}

// Depth returns the number of named parts below the root.
func (p Path) Depth() int { return len(p.parts) - 1 }

// String renders the canonical form: a leading "/", part names joined by
// "/", and a trailing "/" exactly when the path is a folder.
func (p Path) String() string {
	if p.IsRoot() {
		return "/"
	}
	var b strings.Builder
	for _, part := range p.parts[1:] {
		b.WriteByte('/')
		b.WriteString(part.name)
	}
	if p.folder {
		b.WriteByte('/')
	}
	return b.String()
}

// Key returns the string form without the leading slash, the shape object
// stores use for keys. The folder tag still renders as a trailing slash.
func (p Path) Key() string {
	return strings.TrimPrefix(p.String(), "/")
}

// Parent returns the containing folder. The root's parent is the root.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return p
	}
	parts := make([]Part, len(p.parts)-1)
	copy(parts, p.parts[:len(p.parts)-1])
	return Path{parts: parts, folder: true}
}

// Child appends a part to a folder path. Appending to a file fails with
// InvalidPath.
func (p Path) Child(name string, folder bool) (Path, error) {
	return p.ChildWithID(name, "", folder)
}

// ChildWithID appends an id-bearing part to a folder path.
func (p Path) ChildWithID(name, id string, folder bool) (Path, error) {
	if !p.folder {
		return Path{}, errdefs.InvalidPath("cannot add child %q to file path %q", name, p.String())
	}
	if err := ValidateName(name); err != nil {
		return Path{}, err
	}
	parts := make([]Part, len(p.parts), len(p.parts)+1)
	copy(parts, p.parts)
	parts = append(parts, Part{name: name, id: id})
	return Path{parts: parts, folder: folder}, nil
}

// Rename returns a copy with the leaf renamed. The leaf id and the tag are
// preserved, as are all ancestor identifiers.
func (p Path) Rename(name string) Path {
	parts := make([]Part, len(p.parts))
	copy(parts, p.parts)
	parts[len(parts)-1].name = name
	return Path{parts: parts, folder: p.folder}
}

// WithID returns a copy with the leaf identifier set.
func (p Path) WithID(id string) Path {
	parts := make([]Part, len(p.parts))
	copy(parts, p.parts)
	parts[len(parts)-1].id = id
	return Path{parts: parts, folder: p.folder}
}

// WithKind returns a copy tagged as the given kind. The root stays a folder.
func (p Path) WithKind(folder bool) Path {
	if p.IsRoot() {
		return p
	}
	parts := make([]Part, len(p.parts))
	copy(parts, p.parts)
	return Path{parts: parts, folder: folder}
}

// Equal reports value equality: same tag and pairwise identical part names
// and identifiers.
func (p Path) Equal(other Path) bool {
	if p.folder != other.folder || len(p.parts) != len(other.parts) {
		return false
	}
	for i := range p.parts {
		if p.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether other sits strictly inside the receiver's
// subtree, by name. Only folders have descendants.
func (p Path) IsAncestorOf(other Path) bool {
	if !p.folder || len(other.parts) <= len(p.parts) {
		return false
	}
	for i := range p.parts[1:] {
		if other.parts[i+1].name != p.parts[i+1].name {
			return false
		}
	}
	return true
}

// CountedName renders a conflict-suffixed variant of name: count 2 turns
// "report.txt" into "report (2).txt". Folder names take the suffix at the
// end. Dotfiles without an extension are treated as extensionless.
func CountedName(name string, count int, folder bool) string {
	suffix := " (" + strconv.Itoa(count) + ")"
	if folder {
		return name + suffix
	}
	ext := Part{name: name}.Ext()
	return strings.TrimSuffix(name, ext) + suffix + ext
}
