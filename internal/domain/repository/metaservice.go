package repository

import (
	"context"

	"github.com/hszk-dev/streamgw/internal/domain/model"
)

// MetaService is the external metadata catalog collaborator (spec 6):
// GET /meta/{kind}/{externalId} -> {meta:{name, year, originalTitle?}}.
type MetaService interface {
	GetMetadata(ctx context.Context, key model.MediaKey) (model.Metadata, error)
}
