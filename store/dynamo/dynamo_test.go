package dynamo

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/kasuganosora/gamewiki/server/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory table set. Scan pages through two items at a
// time so the paginator is exercised.
type fakeClient struct {
	mu      sync.Mutex
	tables  map[string]map[string]map[string]types.AttributeValue
	hashKey map[string]string
	scans   int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tables:  make(map[string]map[string]map[string]types.AttributeValue),
		hashKey: make(map[string]string),
	}
}

func keyOf(key map[string]types.AttributeValue) string {
	for _, v := range key {
		return v.(*types.AttributeValueMemberS).Value
	}
	return ""
}

func (f *fakeClient) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("exists")}
	}
	f.tables[name] = make(map[string]map[string]types.AttributeValue)
	f.hashKey[name] = aws.ToString(in.KeySchema[0].AttributeName)
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.tables[aws.ToString(in.TableName)][keyOf(in.Key)]}, nil
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.TableName)
	hk := f.hashKey[name]
	f.tables[name][in.Item[hk].(*types.AttributeValueMemberS).Value] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[aws.ToString(in.TableName)]
	k := keyOf(in.Key)
	old := t[k]
	delete(t, k)
	return &dynamodb.DeleteItemOutput{Attributes: old}, nil
}

func (f *fakeClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	t := f.tables[aws.ToString(in.TableName)]
	codes := make([]string, 0, len(t))
	for k := range t {
		codes = append(codes, k)
	}
	sort.Strings(codes)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := keyOf(in.ExclusiveStartKey)
		start = sort.SearchStrings(codes, after) + 1
	}
	end := start + 2
	if end > len(codes) {
		end = len(codes)
	}
	out := &dynamodb.ScanOutput{Count: int32(end - start)}
	if in.Select != types.SelectCount {
		for _, c := range codes[start:end] {
			out.Items = append(out.Items, t[c])
		}
	}
	if end < len(codes) {
		hk := f.hashKey[aws.ToString(in.TableName)]
		out.LastEvaluatedKey = map[string]types.AttributeValue{hk: &types.AttributeValueMemberS{Value: codes[end-1]}}
	}
	return out, nil
}

func newTestStore(t *testing.T) (*Store, *fakeClient) {
	t.Helper()
	fc := newFakeClient()
	s := New(fc, "wiki_", map[string]string{"items": "itemCode", "maps": "mapCode"})
	var clock int64
	s.now = func() int64 { clock++; return clock }
	require.NoError(t, s.EnsureTables(context.Background()))
	return s, fc
}

func TestEnsureTables_Idempotent(t *testing.T) {
	s, fc := newTestStore(t)
	require.NoError(t, s.EnsureTables(context.Background()))
	assert.Len(t, fc.tables, 2)
	assert.Equal(t, "itemCode", fc.hashKey["wiki_items"])
}

func TestPutListOrder(t *testing.T) {
	s, fc := newTestStore(t)
	ctx := context.Background()

	for _, code := range []string{"Z", "A", "M", "B", "C"} {
		require.NoError(t, s.Put(ctx, "items", "itemCode", entity.Entity{"itemCode": code, "name": "n" + code}))
	}
	// re-put keeps the original insertion slot
	require.NoError(t, s.Put(ctx, "items", "itemCode", entity.Entity{"itemCode": "Z", "name": "updated"}))

	fc.scans = 0
	list, err := s.List(ctx, "items")
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, 3, fc.scans, "five items in pages of two")

	var codes []string
	for _, e := range list {
		codes = append(codes, e.Key("itemCode"))
		assert.NotContains(t, e, createdAttr)
	}
	assert.Equal(t, []string{"Z", "A", "M", "B", "C"}, codes)
	assert.Equal(t, "updated", list[0]["name"])
}

func TestGet_NumericKeyStoredAsString(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "maps", "mapCode", entity.Entity{"mapCode": float64(12), "tiles": []any{float64(1), float64(2)}, "isNew": true}))
	got, err := s.Get(ctx, "maps", "12")
	require.NoError(t, err)
	assert.Equal(t, "12", got["mapCode"])
	assert.Equal(t, []any{float64(1), float64(2)}, got["tiles"])
	assert.NotContains(t, got, entity.NewMarker)
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "items", "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "items", "itemCode", entity.Entity{"itemCode": "A"}))

	require.NoError(t, s.Delete(ctx, "items", "A"))
	assert.ErrorIs(t, s.Delete(ctx, "items", "A"), store.ErrNotFound)
}

func TestCount(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, code := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, "items", "itemCode", entity.Entity{"itemCode": code}))
	}
	n, err := s.Count(ctx, "items")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestUnknownResource(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.List(context.Background(), "guilds")
	assert.ErrorContains(t, err, "unknown resource")
}

func TestPutMissingKey(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Put(context.Background(), "items", "itemCode", entity.Entity{"name": "x"})
	assert.ErrorIs(t, err, store.ErrMissingKey)
}
