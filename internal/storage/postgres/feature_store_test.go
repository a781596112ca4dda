package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

var featureTestColumns = []string{
	"product_feature_id", "feature_code", "feature_name", "feature_description",
	"feature_embedding", "parent_id_fk", "hierarchy_level",
}

func TestListFeaturesParsesEmbeddings(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewFeatureStore(mock)

	rows := pgxmock.NewRows(featureTestColumns).
		AddRow(int64(1), "BT", "bluetooth", ptr("wireless pairing"),
			ptr("[0.1,0.2,0.3]"), (*int64)(nil), 1).
		AddRow(int64(2), "BT_PAIR", "pairing", (*string)(nil),
			(*string)(nil), ptr(int64(1)), 2)

	mock.ExpectQuery("SELECT product_feature_id").
		WillReturnRows(rows)

	features, err := store.ListFeatures(context.Background())
	require.NoError(t, err)
	require.Len(t, features, 2)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, features[0].Embedding)
	require.Empty(t, features[1].Embedding)
	require.Equal(t, int64(1), *features[1].ParentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListFeaturesMalformedEmbeddingIsError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewFeatureStore(mock)

	rows := pgxmock.NewRows(featureTestColumns).
		AddRow(int64(1), "BT", "bluetooth", (*string)(nil),
			ptr("not-json"), (*int64)(nil), 1)

	mock.ExpectQuery("SELECT product_feature_id").
		WillReturnRows(rows)

	_, err = store.ListFeatures(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
