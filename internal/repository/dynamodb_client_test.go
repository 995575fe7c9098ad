package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"periodpal/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

var fixedNow = time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo, opts ...Option) *Client {
	t.Helper()
	c, err := New(db, "test-table", opts...)
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func stateItem(t *testing.T, version int64, schema string, blob any) map[string]types.AttributeValue {
	t.Helper()
	item := map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: "DEVICE#dev-1"},
		"SK":            &types.AttributeValueMemberS{Value: skState},
		"version":       &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
		"schemaVersion": &types.AttributeValueMemberN{Value: schema},
	}
	switch b := blob.(type) {
	case string:
		item["blob"] = &types.AttributeValueMemberS{Value: b}
	case nil:
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		item["blob"] = &types.AttributeValueMemberS{Value: string(raw)}
	}
	return item
}

func TestLoadConversation_HappyPath(t *testing.T) {
	blob := stateBlob{
		Language: "hi",
		Messages: []domain.Message{
			{ID: "m1", Text: "What is a menstrual cup?", Sender: domain.SenderUser, Language: "en"},
			{ID: "m2", Text: "A reusable cup.", Sender: domain.SenderAssistant, Language: "en"},
		},
	}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: stateItem(t, 4, "2", blob)}}
	c := mustNewClient(t, db)

	state, err := c.LoadConversation(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, int64(4), state.Version)
	require.Equal(t, "hi", state.Language)
	require.Len(t, state.Messages, 2)
	require.Equal(t, "m1", state.Messages[0].ID)
	require.Equal(t, domain.SenderAssistant, state.Messages[1].Sender)

	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "DEVICE#dev-1", db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skState, db.lastGetInput.Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestLoadConversation_NotFound(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, err := c.LoadConversation(context.Background(), "dev-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadConversation_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, err := c.LoadConversation(context.Background(), "dev-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "LoadConversation")
	require.NotErrorIs(t, err, domain.ErrCorruptState)
}

func TestLoadConversation_CorruptBlobKeepsVersion(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: stateItem(t, 7, "2", "{not json")}}
	c := mustNewClient(t, db)
	state, err := c.LoadConversation(context.Background(), "dev-1")
	require.ErrorIs(t, err, domain.ErrCorruptState)
	require.Equal(t, int64(7), state.Version)
	require.Empty(t, state.Messages)
}

func TestLoadConversation_UnknownSchemaIsCorrupt(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: stateItem(t, 2, "1", stateBlob{Language: "en"})}}
	c := mustNewClient(t, db)
	state, err := c.LoadConversation(context.Background(), "dev-1")
	require.ErrorIs(t, err, domain.ErrCorruptState)
	require.Equal(t, int64(2), state.Version)
}

func TestLoadConversation_MissingBlobIsCorrupt(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: stateItem(t, 1, "2", nil)}}
	c := mustNewClient(t, db)
	_, err := c.LoadConversation(context.Background(), "dev-1")
	require.ErrorIs(t, err, domain.ErrCorruptState)
}

func TestLoadConversation_UnusableVersionIsCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		version types.AttributeValue
	}{
		{"string", &types.AttributeValueMemberS{Value: "bad"}},
		{"fractional", &types.AttributeValueMemberN{Value: "1.5"}},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := stateItem(t, 3, "2", stateBlob{Language: "en"})
			if tt.version == nil {
				delete(item, "version")
			} else {
				item["version"] = tt.version
			}
			db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
			c := mustNewClient(t, db)
			state, err := c.LoadConversation(context.Background(), "dev-1")
			require.ErrorIs(t, err, domain.ErrCorruptState)
			require.Contains(t, err.Error(), "decode version")
			require.Zero(t, state.Version)
		})
	}
}

func TestSaveConversation_FirstWrite(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db, WithTTL(48*time.Hour))
	state := domain.ConversationState{
		Language: "en",
		Messages: []domain.Message{{ID: "m1", Text: "hi", Sender: domain.SenderUser}},
	}

	err := c.SaveConversation(context.Background(), "dev-1", state, 0)
	require.NoError(t, err)

	in := db.lastPutInput
	require.Equal(t, "attribute_not_exists(PK) OR attribute_not_exists(version) OR NOT attribute_type(version, :number) OR version = :expected", *in.ConditionExpression)
	require.Equal(t, "0", in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "N", in.ExpressionAttributeValues[":number"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "1", in.Item["version"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "2", in.Item["schemaVersion"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "1", in.Item["messageCount"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, strconv.FormatInt(fixedNow.Add(48*time.Hour).Unix(), 10), in.Item["ttl"].(*types.AttributeValueMemberN).Value)

	var blob stateBlob
	require.NoError(t, json.Unmarshal([]byte(in.Item["blob"].(*types.AttributeValueMemberS).Value), &blob))
	require.Equal(t, "en", blob.Language)
	require.Equal(t, "hi", blob.Messages[0].Text)
}

func TestSaveConversation_ConditionalOnVersion(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	err := c.SaveConversation(context.Background(), "dev-1", domain.ConversationState{Language: "hi"}, 5)
	require.NoError(t, err)
	require.Equal(t, "version = :expected", *db.lastPutInput.ConditionExpression)
	require.NotContains(t, db.lastPutInput.ExpressionAttributeValues, ":number")
	require.Equal(t, "5", db.lastPutInput.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "6", db.lastPutInput.Item["version"].(*types.AttributeValueMemberN).Value)
}

func TestSaveConversation_ConditionFailedIsConflict(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: new(string)}}
	c := mustNewClient(t, db)
	err := c.SaveConversation(context.Background(), "dev-1", domain.ConversationState{}, 3)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestSaveConversation_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	c := mustNewClient(t, db)
	err := c.SaveConversation(context.Background(), "dev-1", domain.ConversationState{}, 3)
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveConversation")
	require.NotErrorIs(t, err, domain.ErrVersionConflict)
}

func TestSaveConversation_MissingDeviceID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveConversation(context.Background(), " ", domain.ConversationState{}, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestLoadSettings_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: "DEVICE#dev-1"},
		"SK":       &types.AttributeValueMemberS{Value: skSettings},
		"region":   &types.AttributeValueMemberS{Value: "india"},
		"language": &types.AttributeValueMemberS{Value: "hi"},
	}}}
	c := mustNewClient(t, db)
	s, err := c.LoadSettings(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Equal(t, domain.Settings{Region: "india", Language: "hi"}, s)
	require.Equal(t, skSettings, db.lastGetInput.Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestLoadSettings_NotFoundAndMalformed(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, err := c.LoadSettings(context.Background(), "dev-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"region": &types.AttributeValueMemberS{Value: "india"},
	}}})
	_, err = c.LoadSettings(context.Background(), "dev-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "language")
}

func TestSaveSettings(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.SaveSettings(context.Background(), "dev-1", domain.Settings{Region: "nepal", Language: "ne"}))
	require.Equal(t, "nepal", db.lastPutInput.Item["region"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "ne", db.lastPutInput.Item["language"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "2026-10-01T09:30:00Z", db.lastPutInput.Item["updatedAt"].(*types.AttributeValueMemberS).Value)

	db.putErr = errors.New("internal server error")
	err := c.SaveSettings(context.Background(), "dev-1", domain.Settings{Region: "usa", Language: "en"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveSettings")
}

func TestDevicePK(t *testing.T) {
	require.Equal(t, "DEVICE#my-phone", devicePK("my-phone"))
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
