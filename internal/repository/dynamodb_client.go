package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"periodpal/internal/domain"
)

const (
	skState            = "STATE#v2"
	skSettings         = "SETTINGS#v1"
	stateSchema        = 2
	defaultTTLDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client wraps a DynamoDB table holding one conversation blob and one settings
// record per device.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*Client)

// WithTTL sets how long an idle conversation is retained.
func WithTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, ttl: defaultTTLDuration, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// devicePK returns the DynamoDB partition key for a device.
func devicePK(deviceID string) string {
	return "DEVICE#" + deviceID
}

// stateBlob is the versioned JSON payload stored in the blob attribute.
type stateBlob struct {
	Messages []domain.Message `json:"messages"`
	Language string           `json:"language"`
}

// LoadConversation reads the conversation blob for a device. A record that
// exists but cannot be decoded is reported as domain.ErrCorruptState together
// with its version, so the caller can overwrite it.
func (c *Client) LoadConversation(ctx context.Context, deviceID string) (domain.ConversationState, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(deviceID, skState),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: LoadConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationState{}, domain.ErrNotFound
	}

	// A record without a usable version is reported as version 0; the
	// first-write condition in SaveConversation lets it be overwritten.
	version, err := int64Attr(out.Item, "version")
	if err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: LoadConversation decode version: %v: %w", err, domain.ErrCorruptState)
	}
	state := domain.ConversationState{Version: version}

	schema, err := int64Attr(out.Item, "schemaVersion")
	if err != nil || schema != stateSchema {
		return state, fmt.Errorf("repository: LoadConversation schema %d: %w", schema, domain.ErrCorruptState)
	}
	raw, err := strAttr(out.Item, "blob")
	if err != nil {
		return state, fmt.Errorf("repository: LoadConversation: %v: %w", err, domain.ErrCorruptState)
	}
	var blob stateBlob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return state, fmt.Errorf("repository: LoadConversation unmarshal: %v: %w", err, domain.ErrCorruptState)
	}

	state.Messages = blob.Messages
	state.Language = blob.Language
	return state, nil
}

// firstWriteCondition also admits records whose version is missing or not a
// number, so a corrupt slot can be reset.
const firstWriteCondition = "attribute_not_exists(PK) OR attribute_not_exists(version) OR NOT attribute_type(version, :number) OR version = :expected"

// SaveConversation overwrites the conversation blob if the stored version
// still equals expectedVersion (zero meaning no usable record yet). The record is
// written with version expectedVersion+1. Losing the race yields
// domain.ErrVersionConflict.
func (c *Client) SaveConversation(ctx context.Context, deviceID string, state domain.ConversationState, expectedVersion int64) error {
	if strings.TrimSpace(deviceID) == "" {
		return errors.New("repository: SaveConversation: device ID is required")
	}
	raw, err := json.Marshal(stateBlob{Messages: state.Messages, Language: state.Language})
	if err != nil {
		return fmt.Errorf("repository: SaveConversation marshal: %w", err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":            &types.AttributeValueMemberS{Value: devicePK(deviceID)},
			"SK":            &types.AttributeValueMemberS{Value: skState},
			"schemaVersion": &types.AttributeValueMemberN{Value: strconv.Itoa(stateSchema)},
			"version":       &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion+1, 10)},
			"language":      &types.AttributeValueMemberS{Value: state.Language},
			"messageCount":  &types.AttributeValueMemberN{Value: strconv.Itoa(len(state.Messages))},
			"blob":          &types.AttributeValueMemberS{Value: string(raw)},
			"updatedAt":     &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
			"ttl":           &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
		},
	}
	in.ExpressionAttributeValues = map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
	}
	if expectedVersion == 0 {
		in.ConditionExpression = aws.String(firstWriteCondition)
		in.ExpressionAttributeValues[":number"] = &types.AttributeValueMemberS{Value: "N"}
	} else {
		in.ConditionExpression = aws.String("version = :expected")
	}

	if _, err := c.api.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: SaveConversation expected version %d: %w", expectedVersion, domain.ErrVersionConflict)
		}
		return fmt.Errorf("repository: SaveConversation: %w", err)
	}
	return nil
}

// LoadSettings reads the region/language selection for a device.
func (c *Client) LoadSettings(ctx context.Context, deviceID string) (domain.Settings, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(deviceID, skSettings),
	})
	if err != nil {
		return domain.Settings{}, fmt.Errorf("repository: LoadSettings get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Settings{}, domain.ErrNotFound
	}
	region, err := strAttr(out.Item, "region")
	if err != nil {
		return domain.Settings{}, fmt.Errorf("repository: LoadSettings: %w", err)
	}
	language, err := strAttr(out.Item, "language")
	if err != nil {
		return domain.Settings{}, fmt.Errorf("repository: LoadSettings: %w", err)
	}
	return domain.Settings{Region: region, Language: language}, nil
}

// SaveSettings writes or replaces the settings record for a device.
func (c *Client) SaveSettings(ctx context.Context, deviceID string, s domain.Settings) error {
	if strings.TrimSpace(deviceID) == "" {
		return errors.New("repository: SaveSettings: device ID is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: devicePK(deviceID)},
			"SK":        &types.AttributeValueMemberS{Value: skSettings},
			"region":    &types.AttributeValueMemberS{Value: s.Region},
			"language":  &types.AttributeValueMemberS{Value: s.Language},
			"updatedAt": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSettings: %w", err)
	}
	return nil
}

// ttlValue returns the Unix expiry timestamp for a record written now.
func (c *Client) ttlValue() int64 {
	return c.now().Add(c.ttl).Unix()
}

func key(deviceID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: devicePK(deviceID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
