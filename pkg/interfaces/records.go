package interfaces

import (
	"context"

	"liveroom/pkg/types"
)

// ArtifactStore is the boundary toward the record persistence layer
// FUNCTIONAL DISCOVERY: Every call answers with a types.Result; the transport
// layer only treats Success == false as failure
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, artifact types.Artifact) types.Result[types.Artifact]
	GetArtifact(ctx context.Context, sessionID, teamID string) types.Result[types.Artifact]
	ListArtifacts(ctx context.Context, sessionID string) types.Result[[]types.Artifact]
}
