// Package profile stores each user's saved sync configuration together with
// the encrypted host credential.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hashicorp/go-hclog"

	"github.com/skillre/mindmap-qoder/internal/clock"
	"github.com/skillre/mindmap-qoder/internal/crypto"
)

// ErrNotFound is returned when no profile exists for a user.
var ErrNotFound = errors.New("profile not found")

// DefaultAutoSaveSeconds is the interval stored for new profiles.
const DefaultAutoSaveSeconds = 30

// Profile is the persisted record.
type Profile struct {
	UserID              string    `json:"userId" dynamodbav:"user_id"`
	Login               string    `json:"login" dynamodbav:"login"`
	Owner               string    `json:"owner" dynamodbav:"owner"`
	Repo                string    `json:"repo" dynamodbav:"repo"`
	Branch              string    `json:"branch" dynamodbav:"branch"`
	AutoSaveSeconds     int       `json:"autoSaveSeconds" dynamodbav:"auto_save_seconds"`
	UpdatedAt           time.Time `json:"updatedAt" dynamodbav:"updated_at"`
	EncryptedCredential string    `json:"-" dynamodbav:"encrypted_credential"`
}

// Settings is the user-editable part of a profile. Empty fields are left
// unchanged by UpdateConfig.
type Settings struct {
	Owner           string `json:"owner"`
	Repo            string `json:"repo"`
	Branch          string `json:"branch"`
	AutoSaveSeconds int    `json:"autoSaveSeconds"`
}

// DynamoAPI is the subset of *dynamodb.Client used by Store.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Config configures a Store.
type Config struct {
	// Client is optional; a nil client keeps profiles in memory.
	Client    DynamoAPI
	TableName string
	Cipher    crypto.Encryptor
	Clock     clock.Clock
	Logger    hclog.Logger
}

// Store persists profiles in DynamoDB or, without a client, in memory.
type Store struct {
	client    DynamoAPI
	tableName string
	cipher    crypto.Encryptor
	clock     clock.Clock
	logger    hclog.Logger

	// In-memory fallback
	profiles map[string]Profile
	mu       sync.RWMutex
}

// TableName returns the configured table, PROFILES_TABLE or "MindmapProfiles".
func TableName() string {
	if t := os.Getenv("PROFILES_TABLE"); t != "" {
		return t
	}
	return "MindmapProfiles"
}

// NewStore creates a Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Cipher == nil {
		return nil, errors.New("profile: cipher is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = TableName()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &Store{
		client:    cfg.Client,
		tableName: cfg.TableName,
		cipher:    cfg.Cipher,
		clock:     cfg.Clock,
		logger:    cfg.Logger.Named("profile"),
		profiles:  make(map[string]Profile),
	}, nil
}

// Save encrypts credential and stores it for userID. Existing settings are
// kept; login is refreshed.
func (s *Store) Save(ctx context.Context, userID, login, credential string) (*Profile, error) {
	if userID == "" {
		return nil, errors.New("profile: user id is required")
	}
	encrypted, err := s.cipher.Encrypt(ctx, credential, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	p := Profile{UserID: userID, Branch: "main", AutoSaveSeconds: DefaultAutoSaveSeconds}
	existing, err := s.Get(ctx, userID)
	switch {
	case err == nil:
		p = *existing
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	p.Login = login
	p.EncryptedCredential = encrypted
	p.UpdatedAt = s.clock.Now().UTC()

	if err := s.put(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Debug("credential stored", "user", userID)
	return &p, nil
}

// Get returns the profile for userID or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*Profile, error) {
	if s.client == nil {
		s.mu.RLock()
		p, ok := s.profiles[userID]
		s.mu.RUnlock()
		if !ok {
			return nil, ErrNotFound
		}
		return &p, nil
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(userID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var p Profile
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

// UpdateConfig merges settings into the stored profile.
func (s *Store) UpdateConfig(ctx context.Context, userID string, settings Settings) (*Profile, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings.Owner != "" {
		p.Owner = settings.Owner
	}
	if settings.Repo != "" {
		p.Repo = settings.Repo
	}
	if settings.Branch != "" {
		p.Branch = settings.Branch
	}
	if settings.AutoSaveSeconds > 0 {
		p.AutoSaveSeconds = settings.AutoSaveSeconds
	}
	p.UpdatedAt = s.clock.Now().UTC()
	if err := s.put(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes the profile. Deleting a missing profile is not an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if s.client == nil {
		s.mu.Lock()
		delete(s.profiles, userID)
		s.mu.Unlock()
		return nil
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(userID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// Credential returns the decrypted credential stored for userID.
func (s *Store) Credential(ctx context.Context, userID string) (string, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.EncryptedCredential == "" {
		return "", ErrNotFound
	}
	credential, err := s.cipher.Decrypt(ctx, p.EncryptedCredential, userID)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return credential, nil
}

func (s *Store) put(ctx context.Context, p Profile) error {
	if s.client == nil {
		s.mu.Lock()
		s.profiles[p.UserID] = p
		s.mu.Unlock()
		return nil
	}
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save profile to DynamoDB: %w", err)
	}
	return nil
}

func key(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}
