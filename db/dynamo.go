package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// SessionsTable holds one row per tenant. The row is the single source of
// truth for reconnection; in-process state is a cache of it.
var SessionsTable = "wabridge_sessions"

// SessionRow mirrors the persisted state shape for one tenant.
type SessionRow struct {
	TenantID    string `dynamodbav:"tenant_id" json:"tenant_id"`
	Status      string `dynamodbav:"status" json:"status"`
	QRCode      string `dynamodbav:"qr_code,omitempty" json:"qr_code,omitempty"`
	SessionData []byte `dynamodbav:"session_data,omitempty" json:"-"`
	UpdatedAt   string `dynamodbav:"updated_at" json:"updated_at"`
}

// DynamoAPI is the slice of the DynamoDB client the session store uses.
type DynamoAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// SessionStore persists per-tenant credentials and connection status in
// DynamoDB. All writes are last-write-wins upserts.
type SessionStore struct {
	client DynamoAPI
}

func NewSessionStore(client DynamoAPI) *SessionStore {
	return &SessionStore{client: client}
}

// Init creates the sessions table if it does not exist yet.
func (s *SessionStore) Init(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(SessionsTable),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("tenant_id"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("tenant_id"),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			log.Debug().Str("table", SessionsTable).Msg("table already exists")
			return nil
		}
		return fmt.Errorf("failed to create table %s: %w", SessionsTable, err)
	}
	log.Info().Str("table", SessionsTable).Msg("created table")
	return nil
}

// Load fetches the persisted credential blob for a tenant. A missing row or
// missing blob is not an error; only transport failures are.
func (s *SessionStore) Load(ctx context.Context, tenantID string) ([]byte, error) {
	row, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return row.SessionData, nil
}

// Get returns the full session row, or nil when the tenant has none.
func (s *SessionStore) Get(ctx context.Context, tenantID string) (*SessionRow, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(SessionsTable),
		Key:       sessionKey(tenantID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get session for %s: %w", tenantID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var row SessionRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session for %s: %w", tenantID, err)
	}
	return &row, nil
}

// Save upserts the credential blob, leaving status and QR untouched. Called
// on every credential-rotation event, so it must be cheap and idempotent.
func (s *SessionStore) Save(ctx context.Context, tenantID string, creds []byte) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(SessionsTable),
		Key:              sessionKey(tenantID),
		UpdateExpression: aws.String("SET session_data = :sd, updated_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sd":  &types.AttributeValueMemberB{Value: creds},
			":now": nowAttr(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to save session for %s: %w", tenantID, err)
	}
	return nil
}

// SetStatus upserts the connection status. The QR challenge is stored only
// while one is pending; it is removed whenever the status is connected or no
// challenge is supplied.
func (s *SessionStore) SetStatus(ctx context.Context, tenantID, status, qr string) error {
	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(SessionsTable),
		Key:                      sessionKey(tenantID),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
	}

	if qr != "" && status != "connected" {
		input.UpdateExpression = aws.String("SET #st = :st, qr_code = :qr, updated_at = :now")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":st":  &types.AttributeValueMemberS{Value: status},
			":qr":  &types.AttributeValueMemberS{Value: qr},
			":now": nowAttr(),
		}
	} else {
		input.UpdateExpression = aws.String("SET #st = :st, updated_at = :now REMOVE qr_code")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":st":  &types.AttributeValueMemberS{Value: status},
			":now": nowAttr(),
		}
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("failed to set status for %s: %w", tenantID, err)
	}
	return nil
}

// Clear wipes credentials and QR challenge and marks the tenant
// disconnected. Called on logout.
func (s *SessionStore) Clear(ctx context.Context, tenantID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(SessionsTable),
		Key:                      sessionKey(tenantID),
		UpdateExpression:         aws.String("SET #st = :st, updated_at = :now REMOVE session_data, qr_code"),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st":  &types.AttributeValueMemberS{Value: "disconnected"},
			":now": nowAttr(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to clear session for %s: %w", tenantID, err)
	}
	return nil
}

// All lists every session row, used to restore connections at startup.
func (s *SessionStore) All(ctx context.Context) ([]SessionRow, error) {
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(SessionsTable),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	var rows []SessionRow
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions: %w", err)
	}
	return rows, nil
}

func sessionKey(tenantID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"tenant_id": &types.AttributeValueMemberS{Value: tenantID},
	}
}

func nowAttr() types.AttributeValue {
	return &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339)}
}
