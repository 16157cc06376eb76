package search

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

// Snapshot rows created by backfill, or by purchases without a
// supplier, carry a NULL last_supplier_id. The scan destination must
// accept that without erroring.
func TestSnapshotSupplierScanAcceptsNull(t *testing.T) {
	m := pgtype.NewMap()

	var supplierID *int64
	require.NoError(t, m.Scan(pgtype.Int8OID, pgx.TextFormatCode, nil, &supplierID))
	require.Nil(t, supplierID)

	require.NoError(t, m.Scan(pgtype.Int8OID, pgx.TextFormatCode, []byte("42"), &supplierID))
	require.NotNil(t, supplierID)
	require.EqualValues(t, 42, *supplierID)
}
