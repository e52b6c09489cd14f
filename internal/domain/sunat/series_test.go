package sunat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/facturador-sunat/internal/domain"
	"github.com/jhoicas/facturador-sunat/internal/domain/entity"
	"github.com/jhoicas/facturador-sunat/internal/domain/sunat"
)

func TestFirstSeries_PorTipo(t *testing.T) {
	f, err := sunat.FirstSeries("01")
	require.NoError(t, err)
	assert.Equal(t, "F001", f)

	b, err := sunat.FirstSeries("03")
	require.NoError(t, err)
	assert.Equal(t, "B001", b)

	_, err = sunat.FirstSeries("07")
	assert.ErrorIs(t, err, domain.ErrBuildValidation)
}

func TestAdvance_Incrementa(t *testing.T) {
	next, err := sunat.Advance(entity.DocumentSeries{Series: "F001", LastCorrelative: 41})
	require.NoError(t, err)
	assert.Equal(t, "F001", next.Series)
	assert.Equal(t, 42, next.LastCorrelative)
}

// Al llegar a 9999 se crea la serie siguiente y el primer número es 0001.
func TestAdvance_RolloverDeSerie(t *testing.T) {
	next, err := sunat.Advance(entity.DocumentSeries{Series: "F001", LastCorrelative: 9999})
	require.NoError(t, err)
	assert.Equal(t, "F002", next.Series)
	assert.Equal(t, 1, next.LastCorrelative)
	assert.Equal(t, "F002-0001", sunat.FormatDocumentID(next.Series, next.LastCorrelative))

	next, err = sunat.Advance(entity.DocumentSeries{Series: "B009", LastCorrelative: 9999})
	require.NoError(t, err)
	assert.Equal(t, "B010", next.Series)
}

func TestAdvance_SeriesAgotadas(t *testing.T) {
	_, err := sunat.Advance(entity.DocumentSeries{Series: "F999", LastCorrelative: 9999})
	assert.ErrorIs(t, err, domain.ErrSeriesExhausted)
}

func TestFormatYParseDocumentID(t *testing.T) {
	assert.Equal(t, "F001-0001", sunat.FormatDocumentID("F001", 1))
	assert.Equal(t, "B002-9999", sunat.FormatDocumentID("B002", 9999))

	s, n, err := sunat.ParseDocumentID("F003-0120")
	require.NoError(t, err)
	assert.Equal(t, "F003", s)
	assert.Equal(t, 120, n)

	for _, bad := range []string{"F0030120", "F03-0001", "F003-0000", "F003-abc"} {
		_, _, err := sunat.ParseDocumentID(bad)
		assert.Error(t, err, bad)
	}
}
