// Package vectorutils builds a vector.Driver from configuration.
package vectorutils

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/mnemo/pkg/vector"
	"github.com/papercomputeco/mnemo/pkg/vector/chroma"
	"github.com/papercomputeco/mnemo/pkg/vector/qdrant"
	"github.com/papercomputeco/mnemo/pkg/vector/sqlitevec"
)

type NewVectorDriverOpts struct {
	// ProviderType is one of "sqlitevec", "chroma" or "qdrant".
	ProviderType string

	// Target is a file path for sqlitevec, a URL for chroma and a host for qdrant.
	Target     string
	Port       int
	APIKey     string
	Collection string
	Dimensions uint
	Logger     *slog.Logger
}

func NewVectorDriver(ctx context.Context, o *NewVectorDriverOpts) (vector.Driver, error) {
	switch o.ProviderType {
	case "sqlitevec":
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     o.Target,
			Dimensions: o.Dimensions,
			Logger:     o.Logger,
		})
	case "chroma":
		return chroma.NewDriver(chroma.Config{
			URL:            o.Target,
			CollectionName: o.Collection,
		}, o.Logger)
	case "qdrant":
		return qdrant.NewDriver(ctx, qdrant.Config{
			Host:           o.Target,
			Port:           o.Port,
			APIKey:         o.APIKey,
			CollectionName: o.Collection,
			Dimensions:     uint64(o.Dimensions),
			Logger:         o.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}
