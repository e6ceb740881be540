package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/docpick/internal/model"
)

// PendingTTL bounds how long a user may sit on the consent screen.
const PendingTTL = 15 * time.Minute

var ErrStateCollision = errors.New("authorization state already exists")

// PendingStore holds in-flight authorizations between the redirect to the
// provider and its callback. Take is single use: a state can be redeemed once.
type PendingStore interface {
	Save(ctx context.Context, p model.PendingAuthorization) error
	// Take removes and returns the authorization for state. It returns
	// nil, nil when the state is unknown or expired.
	Take(ctx context.Context, state string) (*model.PendingAuthorization, error)
}

// PendingDynamoAPI is the subset of *dynamodb.Client used by DynamoPendingStore.
type PendingDynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoPendingStore keeps pending authorizations in a table with TTL on expires_at.
type DynamoPendingStore struct {
	client    PendingDynamoAPI
	tableName string
	now       func() time.Time
}

func NewDynamoPendingStore(client PendingDynamoAPI, tableName string) *DynamoPendingStore {
	return &DynamoPendingStore{client: client, tableName: tableName, now: time.Now}
}

func (s *DynamoPendingStore) Save(ctx context.Context, p model.PendingAuthorization) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pending authorization: %w", err)
	}

	// "state" is a DynamoDB reserved word.
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#s)"),
		ExpressionAttributeNames: map[string]string{"#s": "state"},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStateCollision
		}
		return fmt.Errorf("failed to save pending authorization: %w", err)
	}
	return nil
}

func (s *DynamoPendingStore) Take(ctx context.Context, state string) (*model.PendingAuthorization, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"state": &types.AttributeValueMemberS{Value: state},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take pending authorization: %w", err)
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}

	var p model.PendingAuthorization
	if err := attributevalue.UnmarshalMap(out.Attributes, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending authorization: %w", err)
	}
	// TTL deletion is lazy, so expired rows can still be returned.
	if p.ExpiresAt < s.now().Unix() {
		return nil, nil
	}
	return &p, nil
}

// MemoryPendingStore implements PendingStore in process memory for DEV_MODE and tests.
type MemoryPendingStore struct {
	mu      sync.Mutex
	pending map[string]model.PendingAuthorization
	now     func() time.Time
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{
		pending: make(map[string]model.PendingAuthorization),
		now:     time.Now,
	}
}

func (m *MemoryPendingStore) Save(_ context.Context, p model.PendingAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	for k, v := range m.pending {
		if v.ExpiresAt < now {
			delete(m.pending, k)
		}
	}
	if _, ok := m.pending[p.State]; ok {
		return ErrStateCollision
	}
	m.pending[p.State] = p
	return nil
}

func (m *MemoryPendingStore) Take(_ context.Context, state string) (*model.PendingAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[state]
	if !ok {
		return nil, nil
	}
	delete(m.pending, state)
	if p.ExpiresAt < m.now().Unix() {
		return nil, nil
	}
	return &p, nil
}

func expiresAt(now time.Time) int64 {
	return now.Add(PendingTTL).Unix()
}
