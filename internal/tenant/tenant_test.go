package tenant

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-voice/pkg/logger"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 123-4567": "+15551234567",
		"555.123.4567":      "555.123.4567",
		"":                  "",
		"  ( ) - ":          "",
		"+15551234567":      "+15551234567",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), "input %q", in)
	}
}

func newMockResolver(t *testing.T) (*Resolver, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewResolver(NewPostgresStore(db), 0, logger.Discard()), mock, db
}

func TestResolver_ResolveNormalizesBeforeLookup(t *testing.T) {
	r, mock, db := newMockResolver(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT tenant_id\nFROM phone_mappings")).
		WithArgs("+15551234567").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("rest-1"))

	tid, ok := r.Resolve(context.Background(), "+1 (555) 123-4567")
	assert.True(t, ok)
	assert.Equal(t, "rest-1", tid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_NoRowsIsNotFound(t *testing.T) {
	r, mock, db := newMockResolver(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM phone_mappings")).
		WithArgs("+15550000000").
		WillReturnError(sql.ErrNoRows)

	_, ok := r.Resolve(context.Background(), "+15550000000")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_DatastoreErrorIsNotFound(t *testing.T) {
	r, mock, db := newMockResolver(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM phone_mappings")).
		WillReturnError(errors.New("connection reset"))

	_, ok := r.Resolve(context.Background(), "+15550000000")
	assert.False(t, ok)
}

func TestResolver_EmptyPhoneSkipsLookup(t *testing.T) {
	r, mock, db := newMockResolver(t)
	defer db.Close()

	_, ok := r.Resolve(context.Background(), " ( ) ")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_MapUpsertsNormalized(t *testing.T) {
	r, mock, db := newMockResolver(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO phone_mappings")).
		WithArgs("+15551234567", "rest-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.Map(context.Background(), "+1 555-123-4567", "rest-2"))
	assert.NoError(t, mock.ExpectationsWereMet())

	err := r.Map(context.Background(), "", "rest-2")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

type fakePhones map[string]string

func (f fakePhones) Resolve(_ context.Context, phone string) (string, bool) {
	v, ok := f[NormalizePhone(phone)]
	return v, ok
}

func TestChain_Priority(t *testing.T) {
	c := NewChain(fakePhones{"+15551234567": "from-phone"})
	ctx := context.Background()

	tid, src := c.Resolve(ctx, Signals{Header: "h", Query: "q", Metadata: "m", Phone: "+15551234567"})
	assert.Equal(t, "h", tid)
	assert.Equal(t, SourceHeader, src)

	tid, src = c.Resolve(ctx, Signals{Header: "  ", Query: "q", Metadata: "m"})
	assert.Equal(t, "q", tid)
	assert.Equal(t, SourceQuery, src)

	tid, src = c.Resolve(ctx, Signals{Metadata: "m", Phone: "+15551234567"})
	assert.Equal(t, "m", tid)
	assert.Equal(t, SourceMetadata, src)

	tid, src = c.Resolve(ctx, Signals{Phone: "+1 (555) 123-4567"})
	assert.Equal(t, "from-phone", tid)
	assert.Equal(t, SourcePhone, src)

	tid, src = c.Resolve(ctx, Signals{Phone: "+19999999999"})
	assert.Empty(t, tid)
	assert.Equal(t, SourceNone, src)
}
