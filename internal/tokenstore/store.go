// Package tokenstore persists OAuth tokens per user and provider.
//
// Both tokens are sealed with a crypto.Encryptor before they reach
// DynamoDB. Reads never fail loudly: a missing, unreadable or undecryptable
// record is reported as "no token" and logged.
package tokenstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/jun/docpick/internal/crypto"
	"github.com/jun/docpick/internal/logging"
	"github.com/jun/docpick/internal/model"
)

// TokenStore is the contract consumed by connectors and sources.
type TokenStore interface {
	Get(ctx context.Context, userID string, p model.Provider) *model.ProviderToken
	Put(ctx context.Context, userID string, tok model.ProviderToken) error
	Clear(ctx context.Context, userID string, p model.Provider)
	IsAccessValid(ctx context.Context, userID string, p model.Provider) bool
	IsRefreshValid(ctx context.Context, userID string, p model.Provider) bool
}

// DynamoDBAPI is the subset of *dynamodb.Client used by Store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// record is the DynamoDB item. Timestamps are Unix seconds; zero means unset.
type record struct {
	UserID                string         `dynamodbav:"user_id"`
	Provider              model.Provider `dynamodbav:"provider"`
	EncryptedAccessToken  string         `dynamodbav:"encrypted_access_token"`
	EncryptedRefreshToken string         `dynamodbav:"encrypted_refresh_token,omitempty"`
	IssuedAt              int64          `dynamodbav:"issued_at"`
	ExpiresAt             int64          `dynamodbav:"expires_at"`
	RefreshExpiresAt      int64          `dynamodbav:"refresh_expires_at,omitempty"`
	UpdatedAt             time.Time      `dynamodbav:"updated_at"`
}

// Store implements TokenStore on DynamoDB, or on an in-memory map when
// constructed with a nil client.
type Store struct {
	db    DynamoDBAPI
	table string
	enc   crypto.Encryptor
	now   func() time.Time

	// In-memory fallback
	mu      sync.RWMutex
	records map[string]record
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for validity checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(db DynamoDBAPI, table string, enc crypto.Encryptor, opts ...Option) *Store {
	s := &Store{
		db:      db,
		table:   table,
		enc:     enc,
		now:     time.Now,
		records: make(map[string]record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func scope(userID string, p model.Provider) string {
	return userID + "/" + string(p)
}

func key(userID string, p model.Provider) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id":  &types.AttributeValueMemberS{Value: userID},
		"provider": &types.AttributeValueMemberS{Value: string(p)},
	}
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

// Put replaces the record for (userID, tok.Provider).
func (s *Store) Put(ctx context.Context, userID string, tok model.ProviderToken) error {
	sc := scope(userID, tok.Provider)
	access, err := s.enc.Encrypt(ctx, tok.AccessToken, sc)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.enc.Encrypt(ctx, tok.RefreshToken, sc)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	rec := record{
		UserID:                userID,
		Provider:              tok.Provider,
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		IssuedAt:              unix(tok.IssuedAt),
		ExpiresAt:             unix(tok.ExpiresAt),
		RefreshExpiresAt:      unix(tok.RefreshExpiresAt),
		UpdatedAt:             s.now().UTC(),
	}

	if s.db == nil {
		s.mu.Lock()
		s.records[sc] = rec
		s.mu.Unlock()
		return nil
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save token to DynamoDB: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, userID string, p model.Provider) (*record, error) {
	if s.db == nil {
		s.mu.RLock()
		rec, ok := s.records[scope(userID, p)]
		s.mu.RUnlock()
		if !ok {
			return nil, nil
		}
		return &rec, nil
	}

	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       key(userID, p),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return &rec, nil
}

// Get returns the stored token or nil.
func (s *Store) Get(ctx context.Context, userID string, p model.Provider) *model.ProviderToken {
	log := logging.WithContext(ctx).With(zap.String("user_id", userID), zap.String("provider", string(p)))

	rec, err := s.load(ctx, userID, p)
	if err != nil {
		log.Warn("token read failed", zap.Error(err))
		return nil
	}
	if rec == nil {
		return nil
	}

	sc := scope(userID, p)
	access, err := s.enc.Decrypt(ctx, rec.EncryptedAccessToken, sc)
	if err != nil {
		log.Warn("access token decrypt failed", zap.Error(err))
		return nil
	}
	refresh, err := s.enc.Decrypt(ctx, rec.EncryptedRefreshToken, sc)
	if err != nil {
		log.Warn("refresh token decrypt failed", zap.Error(err))
		return nil
	}

	return &model.ProviderToken{
		Provider:         p,
		AccessToken:      access,
		RefreshToken:     refresh,
		IssuedAt:         fromUnix(rec.IssuedAt),
		ExpiresAt:        fromUnix(rec.ExpiresAt),
		RefreshExpiresAt: fromUnix(rec.RefreshExpiresAt),
	}
}

// Clear removes the record. Failures are logged only.
func (s *Store) Clear(ctx context.Context, userID string, p model.Provider) {
	if s.db == nil {
		s.mu.Lock()
		delete(s.records, scope(userID, p))
		s.mu.Unlock()
		return
	}
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key(userID, p),
	})
	if err != nil {
		logging.WithContext(ctx).Warn("token clear failed",
			zap.String("user_id", userID), zap.String("provider", string(p)), zap.Error(err))
	}
}

func (s *Store) IsAccessValid(ctx context.Context, userID string, p model.Provider) bool {
	tok := s.Get(ctx, userID, p)
	return tok != nil && tok.AccessValid(s.now())
}

func (s *Store) IsRefreshValid(ctx context.Context, userID string, p model.Provider) bool {
	tok := s.Get(ctx, userID, p)
	return tok != nil && tok.RefreshValid(s.now())
}
