package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

func TestRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLedgerStoreWithPool(mock, "subqueries")
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return now }

	res := vamdc.SubQueryResult{
		Descriptor: vamdc.QueryDescriptor{
			SpeciesID:   "XLYOFNOQVPJJNP-UHFFFAOYSA-N",
			NodeAddress: "http://vald.example.org/tap/",
			LambdaMin:   0,
			LambdaMax:   5,
			MaxClosed:   true,
			Depth:       1,
		},
		Counters:   vamdc.Counters{vamdc.CounterRadiative: 42},
		Token:      "vald-1",
		Rows:       []vamdc.Row{{TransitionID: "a"}, {TransitionID: "b"}},
		Payload:    &vamdc.PayloadRef{URI: "file:///stage/VALD_vald-1.xsams"},
		StatusCode: 200,
		Duration:   1500 * time.Millisecond,
	}

	mock.ExpectExec("INSERT INTO subqueries").
		WithArgs(
			"req-1",
			res.Descriptor.NodeAddress,
			res.Descriptor.SpeciesID,
			0.0,
			5.0,
			false,
			true,
			1,
			false,
			false,
			"vald-1",
			[]byte(`{"VAMDC-COUNT-RADIATIVE":42}`),
			2,
			"file:///stage/VALD_vald-1.xsams",
			200,
			int64(1500),
			"",
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Record(context.Background(), "req-1", res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLedgerStoreWithPool(mock, "")
	require.NoError(t, err)

	args := make([]any, 18)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO " + DefaultTable).
		WithArgs(args...).
		WillReturnError(errors.New("relation does not exist"))
	failed := vamdc.FailedResult(vamdc.QueryDescriptor{LambdaMin: 1, LambdaMax: 2}, errors.New("timeout"))
	err = store.Record(context.Background(), "req-2", failed)
	require.ErrorContains(t, err, "insert ledger row")
	require.ErrorContains(t, err, "relation does not exist")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordValidation(t *testing.T) {
	t.Parallel()

	var nilStore *LedgerStore
	require.Error(t, nilStore.Record(context.Background(), "id", vamdc.SubQueryResult{}))

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewLedgerStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.Record(context.Background(), "", vamdc.SubQueryResult{}))
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewLedgerStoreWithPool(mock, "bad;drop")
	require.Error(t, err)
	_, err = NewLedgerStoreWithPool(nil, "ok")
	require.Error(t, err)
	_, err = NewLedgerStore(context.Background(), LedgerStoreConfig{})
	require.Error(t, err)
}
