// Package providers pulls in every storage adapter so importing one package
// registers them all.
package providers

import (
	_ "github.com/portagehq/portage/internal/providers/azureblob"
	_ "github.com/portagehq/portage/internal/providers/filesystem"
	_ "github.com/portagehq/portage/internal/providers/s3"
)
