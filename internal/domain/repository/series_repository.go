package repository

import (
	"context"

	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
)

// SeriesRepository persiste los carriles de numeración. Las escrituras son condicionales
// para que la asignación pueda hacerse como compare-and-swap optimista.
type SeriesRepository interface {
	// Get devuelve nil, nil si el carril aún no existe.
	Get(ctx context.Context, companyID, docTypeCode string) (*entity.DocumentSeries, error)
	// Create inserta el carril si no existe. false indica que otro proceso lo creó antes.
	Create(ctx context.Context, series *entity.DocumentSeries) (bool, error)
	// CompareAndSwap escribe next solo si el carril sigue igual a prev. false = conflicto.
	CompareAndSwap(ctx context.Context, prev, next entity.DocumentSeries) (bool, error)
}
