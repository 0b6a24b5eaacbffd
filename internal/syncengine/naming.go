package syncengine

import (
	"strings"

	"github.com/MichelGerding/remote-iracing-setups/internal/catalog"
	"github.com/MichelGerding/remote-iracing-setups/internal/protocol"
)

// ArtifactSuffix selects which remote files are mirrored. The match is
// case-sensitive.
const ArtifactSuffix = ".sto"

// IsSetupFile reports whether a remote file name should be mirrored.
func IsSetupFile(fileName string) bool {
	return strings.HasSuffix(fileName, ArtifactSuffix)
}

// ArtifactKey returns the storage key <car>/<track>/<file> for a. The file
// segment is the sanitized display name, or the remote file name when the
// service sends no display name.
func ArtifactKey(cat *catalog.Catalog, a protocol.Artifact) string {
	name := a.DisplayName
	if name == "" {
		name = a.FileName
	}
	return cat.CarName(a.CarID) + "/" + cat.TrackName(a.TrackID) + "/" + catalog.Sanitize(name)
}
