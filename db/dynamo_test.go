package db

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo is an in-memory table that interprets the handful of update
// expressions the session store issues.
type fakeDynamo struct {
	created bool
	items   map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if f.created {
		return nil, &types.ResourceInUseException{}
	}
	f.created = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item := f.items[keyOf(params.Key)]
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	key := keyOf(params.Key)
	item := f.items[key]
	if item == nil {
		item = map[string]types.AttributeValue{
			"tenant_id": &types.AttributeValueMemberS{Value: key},
		}
		f.items[key] = item
	}

	expr := *params.UpdateExpression
	set := expr
	if i := strings.Index(expr, " REMOVE "); i >= 0 {
		set = expr[:i]
		for _, attr := range strings.Split(expr[i+len(" REMOVE "):], ",") {
			delete(item, resolveName(strings.TrimSpace(attr), params.ExpressionAttributeNames))
		}
	}

	set = strings.TrimPrefix(set, "SET ")
	for _, assign := range strings.Split(set, ",") {
		parts := strings.SplitN(assign, "=", 2)
		name := resolveName(strings.TrimSpace(parts[0]), params.ExpressionAttributeNames)
		placeholder := strings.TrimSpace(parts[1])
		item[name] = params.ExpressionAttributeValues[placeholder]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		out = append(out, item)
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

func keyOf(key map[string]types.AttributeValue) string {
	return key["tenant_id"].(*types.AttributeValueMemberS).Value
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		return names[name]
	}
	return name
}

func TestSessionStoreInitIsIdempotent(t *testing.T) {
	store := NewSessionStore(newFakeDynamo())

	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, store.Init(context.Background()), "existing table is not an error")
}

func TestSessionStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewSessionStore(newFakeDynamo())
	ctx := context.Background()

	creds := []byte(`{"jid":"5511999999999.0:1@s.whatsapp.net"}`)
	require.NoError(t, store.Save(ctx, "acme", creds))

	got, err := store.Load(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, creds, got)

	row, err := store.Get(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "acme", row.TenantID)
	assert.NotEmpty(t, row.UpdatedAt)
}

func TestSessionStoreLoadAbsentTenant(t *testing.T) {
	store := NewSessionStore(newFakeDynamo())

	got, err := store.Load(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)

	row, err := store.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestSessionStoreSetStatusKeepsPendingQR(t *testing.T) {
	store := NewSessionStore(newFakeDynamo())
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "acme", "awaiting_pairing", "qr-challenge-1"))

	row, err := store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "awaiting_pairing", row.Status)
	assert.Equal(t, "qr-challenge-1", row.QRCode)
}

func TestSessionStoreSetStatusClearsQROnConnect(t *testing.T) {
	store := NewSessionStore(newFakeDynamo())
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "acme", "awaiting_pairing", "qr-challenge-1"))
	require.NoError(t, store.SetStatus(ctx, "acme", "connected", "qr-challenge-1"))

	row, err := store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "connected", row.Status)
	assert.Empty(t, row.QRCode, "a connected session never exposes a stale challenge")
}

func TestSessionStoreSetStatusLeavesCredentials(t *testing.T) {
	store := NewSessionStore(newFakeDynamo())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "acme", []byte("creds")))
	require.NoError(t, store.SetStatus(ctx, "acme", "disconnected", ""))

	got, err := store.Load(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []byte("creds"), got, "status updates must not touch the credential blob")
}

func TestSessionStoreClear(t *testing.T) {
	store := NewSessionStore(newFakeDynamo())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "acme", []byte("creds")))
	require.NoError(t, store.SetStatus(ctx, "acme", "awaiting_pairing", "qr-1"))
	require.NoError(t, store.Clear(ctx, "acme"))

	row, err := store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "disconnected", row.Status)
	assert.Empty(t, row.QRCode)
	assert.Nil(t, row.SessionData)
}

func TestSessionStoreAll(t *testing.T) {
	store := NewSessionStore(newFakeDynamo())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "acme", []byte("a")))
	require.NoError(t, store.Save(ctx, "globex", []byte("b")))

	rows, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byTenant := map[string][]byte{}
	for _, r := range rows {
		byTenant[r.TenantID] = r.SessionData
	}
	assert.Equal(t, []byte("a"), byTenant["acme"])
	assert.Equal(t, []byte("b"), byTenant["globex"])
}
