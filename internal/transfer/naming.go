package transfer

import (
	"context"

	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/provider"
)

// maxRenameAttempts caps the linear search for a free disambiguated name
// under the keep policy.
const maxRenameAttempts = 100

// ResolveDestination derives the destination path for an entity named name
// landing in destFolder and applies the conflict policy against what is
// already there. It returns the path to write to and, under replace, the
// entity being replaced (nil when the slot is free).
func ResolveDestination(ctx context.Context, dst provider.Provider, destFolder paths.Path, name string, folder bool, conflict provider.Conflict) (paths.Path, metadata.Item, error) {
	destPath, err := destFolder.Child(name, folder)
	if err != nil {
		return paths.Path{}, nil, err
	}

	exists, item, err := destExists(ctx, dst, destPath)
	if err != nil {
		return paths.Path{}, nil, err
	}
	if !exists {
		return destPath, nil, nil
	}

	switch conflict {
	case provider.ConflictReplace:
		return destPath, item, nil
	case provider.ConflictKeep:
		for n := 1; n <= maxRenameAttempts; n++ {
			candidate := destPath.Rename(paths.CountedName(name, n, folder))
			taken, _, err := destExists(ctx, dst, candidate)
			if err != nil {
				return paths.Path{}, nil, err
			}
			if !taken {
				return candidate, nil, nil
			}
		}
		return paths.Path{}, nil, errdefs.NamingConflict(
			"no free name found for %q after %d attempts", name, maxRenameAttempts).With("name", name)
	default:
		return paths.Path{}, nil, errdefs.NamingConflict(
			"cannot complete action: %s %q already exists in this location", kindWord(folder), name).With("name", name)
	}
}

// destExists probes for an entity at path. On backends that cannot hold a
// file and a folder under one name, a sibling of the opposite kind also
// counts as taken.
func destExists(ctx context.Context, p provider.Provider, path paths.Path) (bool, metadata.Item, error) {
	exists, item, err := provider.Exists(ctx, p, path)
	if err != nil || exists {
		return exists, item, err
	}
	if p.CanDuplicateNames() || path.IsRoot() {
		return false, nil, nil
	}
	return provider.Exists(ctx, p, path.WithKind(!path.IsFolder()))
}

func kindWord(folder bool) string {
	if folder {
		return "folder"
	}
	return "file"
}
