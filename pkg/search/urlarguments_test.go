package search_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/search"
	"github.com/erprx/datastore/pkg/suuid"
)

type fakeHasher struct{}

func (fakeHasher) HashIdentity(_ context.Context, identity string) ([]byte, error) {
	return []byte("hashed:" + identity), nil
}

var taskParams = []search.Parameter{
	{NameURL: "kvnr", NameDB: "kvnr_hashed", Kind: search.KindHashedIdentity},
	{NameURL: "authored-on", NameDB: "authored_on", Kind: search.KindDate},
	{NameURL: "status", NameDB: "status", Kind: search.KindTaskStatus},
	{NameURL: "identifier", NameDB: "prescription_id", Kind: search.KindPrescriptionId},
}

func TestParseIgnoresUnknownParameters(t *testing.T) {
	ua := search.New(taskParams, "")
	err := ua.Parse(context.Background(), []search.KV{{Key: "bogus", Value: "whatever"}}, fakeHasher{})
	require.NoError(t, err)

	where, args := ua.WhereSQL(1)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestParseEmptyParameterNameRejected(t *testing.T) {
	ua := search.New(taskParams, "")
	err := ua.Parse(context.Background(), []search.KV{{Key: "", Value: "x"}}, fakeHasher{})
	require.Error(t, err)
}

func TestHashedIdentitySearchRendersEquality(t *testing.T) {
	ua := search.New(taskParams, "")
	err := ua.Parse(context.Background(), []search.KV{{Key: "kvnr", Value: "X123456789"}}, fakeHasher{})
	require.NoError(t, err)

	where, args := ua.WhereSQL(1)
	assert.Contains(t, where, "kvnr_hashed = $1")
	require.Len(t, args, 1)
	assert.Equal(t, []byte("hashed:X123456789"), args[0])
}

func TestDateEqPrefixRendersHalfOpenInterval(t *testing.T) {
	ua := search.New(taskParams, "")
	err := ua.Parse(context.Background(), []search.KV{{Key: "authored-on", Value: "eq2024-03-17"}}, fakeHasher{})
	require.NoError(t, err)

	where, args := ua.WhereSQL(1)
	assert.Contains(t, where, "authored_on >= $1 AND authored_on < $2")
	require.Len(t, args, 2)
}

func TestDateGtAndSaAreEquivalent(t *testing.T) {
	for _, prefix := range []string{"gt", "sa"} {
		ua := search.New(taskParams, "")
		err := ua.Parse(context.Background(), []search.KV{{Key: "authored-on", Value: prefix + "2024-03-17"}}, fakeHasher{})
		require.NoError(t, err)

		where, args := ua.WhereSQL(1)
		assert.Contains(t, where, "authored_on >= $1")
		require.Len(t, args, 1)
	}
}

func TestTaskStatusSearchRendersNumericEquality(t *testing.T) {
	ua := search.New(taskParams, "")
	err := ua.Parse(context.Background(), []search.KV{{Key: "status", Value: "ready"}}, fakeHasher{})
	require.NoError(t, err)

	where, args := ua.WhereSQL(1)
	assert.Contains(t, where, "status = $1")
	require.Len(t, args, 1)
	assert.Equal(t, 1, args[0]) // TaskStatusReady
}

func TestUnknownTaskStatusRejected(t *testing.T) {
	ua := search.New(taskParams, "")
	err := ua.Parse(context.Background(), []search.KV{{Key: "status", Value: "bogus-status"}}, fakeHasher{})
	require.Error(t, err)
}

func TestSortDescendingPrefix(t *testing.T) {
	ua := search.New(taskParams, "")
	err := ua.Parse(context.Background(), []search.KV{{Key: search.SortKey, Value: "-authored-on"}}, fakeHasher{})
	require.NoError(t, err)
	assert.Equal(t, "authored_on DESC", ua.OrderBySQL())
}

func TestDefaultSortAppliedWhenNoneGiven(t *testing.T) {
	ua := search.New(taskParams, "authored-on")
	err := ua.Parse(context.Background(), nil, fakeHasher{})
	require.NoError(t, err)
	assert.Equal(t, "authored_on ASC", ua.OrderBySQL())
}

func TestOffsetAndIdPagingMutuallyExclusive(t *testing.T) {
	ua := search.New(taskParams, "")
	id, err := suuid.New(mustParseTime(t, "2024-03-17T10:00:00Z"))
	require.NoError(t, err)

	err = ua.Parse(context.Background(), []search.KV{
		{Key: search.OffsetKey, Value: "10"},
		{Key: search.IDKey, Value: "gt" + id.String()},
	}, fakeHasher{})
	require.Error(t, err)
}

func TestIdPagingBracketsByDay(t *testing.T) {
	ua := search.New(taskParams, "")
	id, err := suuid.New(mustParseTime(t, "2024-03-17T10:00:00Z"))
	require.NoError(t, err)

	err = ua.Parse(context.Background(), []search.KV{
		{Key: search.IDKey, Value: "gt" + id.String()},
	}, fakeHasher{})
	require.NoError(t, err)

	where, args := ua.WhereSQL(1)
	assert.Contains(t, where, "id >= $1")
	require.Len(t, args, 1)
}

func TestPrescriptionIdSearchNormalizes(t *testing.T) {
	ua := search.New(taskParams, "")
	err := ua.Parse(context.Background(), []search.KV{{Key: "identifier", Value: "160-42"}}, fakeHasher{})
	require.NoError(t, err)

	where, args := ua.WhereSQL(1)
	assert.Contains(t, where, "prescription_id = $1")
	require.Len(t, args, 1)
	assert.Equal(t, "42", args[0])
}

func TestLimitOffsetSQLOverFetchAddsOne(t *testing.T) {
	ua := search.New(taskParams, "")
	err := ua.Parse(context.Background(), []search.KV{{Key: search.CountKey, Value: "5"}}, fakeHasher{})
	require.NoError(t, err)

	assert.Equal(t, "LIMIT 5 OFFSET 0", ua.LimitOffsetSQL(false))
	assert.Equal(t, "LIMIT 6 OFFSET 0", ua.LimitOffsetSQL(true))
}

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed
}
