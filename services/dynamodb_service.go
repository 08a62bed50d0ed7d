package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fivelines/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoTimeLayout is fixed width so the range key sorts chronologically.
const dynamoTimeLayout = "2006-01-02T15:04:05.000000000Z"

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoConversationStore keeps conversations in a table keyed by UserID
// (hash) and CreatedAt (range).
type DynamoConversationStore struct {
	client DynamoDBAPI
	table  string
	now    func() time.Time
}

var _ ConversationStore = (*DynamoConversationStore)(nil)

func NewDynamoConversationStore(client DynamoDBAPI, table string) *DynamoConversationStore {
	return &DynamoConversationStore{client: client, table: table, now: time.Now}
}

// NewDynamoDBClient builds a client from the default AWS config chain. A
// non-empty endpoint points it at DynamoDB Local with dummy credentials.
func NewDynamoDBClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint}, nil
		})
		opts = append(opts,
			config.WithEndpointResolverWithOptions(resolver),
			config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
				Value: aws.Credentials{AccessKeyID: "dummy", SecretAccessKey: "dummy", SessionToken: "dummy"},
			}),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// EnsureTable creates the table if it is missing.
func (s *DynamoConversationStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("UserID"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("CreatedAt"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("UserID"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("CreatedAt"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *DynamoConversationStore) CreateConversation(ctx context.Context, c models.Conversation) (models.Conversation, error) {
	c = prepareConversation(c, s.now())
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                conversationToItem(c),
		ConditionExpression: aws.String("attribute_not_exists(UserID)"),
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("put conversation: %w", err)
	}
	return c, nil
}

func (s *DynamoConversationStore) ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("UserID = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(clampHistoryLimit(limit))),
	})
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}

	conversations := make([]models.Conversation, 0, len(result.Items))
	for _, item := range result.Items {
		c, err := itemToConversation(item)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, nil
}

func conversationToItem(c models.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"UserID":       &types.AttributeValueMemberS{Value: c.UserID},
		"CreatedAt":    &types.AttributeValueMemberS{Value: c.CreatedAt.UTC().Format(dynamoTimeLayout)},
		"ID":           &types.AttributeValueMemberS{Value: c.ID},
		"UserInput":    &types.AttributeValueMemberS{Value: c.UserInput},
		"AIResponse":   &types.AttributeValueMemberS{Value: string(c.AIResponse)},
		"PromptType":   &types.AttributeValueMemberS{Value: string(c.PromptType)},
		"TokensUsed":   &types.AttributeValueMemberN{Value: strconv.Itoa(c.TokensUsed)},
		"InputTokens":  &types.AttributeValueMemberN{Value: strconv.Itoa(c.InputTokens)},
		"OutputTokens": &types.AttributeValueMemberN{Value: strconv.Itoa(c.OutputTokens)},
	}
}

func itemToConversation(item map[string]types.AttributeValue) (models.Conversation, error) {
	str := func(key string) string {
		if v, ok := item[key].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	num := func(key string) (int, error) {
		v, ok := item[key].(*types.AttributeValueMemberN)
		if !ok {
			return 0, nil
		}
		n, err := strconv.Atoi(v.Value)
		if err != nil {
			return 0, fmt.Errorf("conversation attribute %s: %w", key, err)
		}
		return n, nil
	}

	createdAt, err := time.Parse(dynamoTimeLayout, str("CreatedAt"))
	if err != nil {
		return models.Conversation{}, fmt.Errorf("conversation attribute CreatedAt: %w", err)
	}
	c := models.Conversation{
		ID:         str("ID"),
		UserID:     str("UserID"),
		UserInput:  str("UserInput"),
		PromptType: models.PromptType(str("PromptType")),
		CreatedAt:  createdAt,
	}
	if raw := str("AIResponse"); raw != "" {
		c.AIResponse = json.RawMessage(raw)
	}
	if c.TokensUsed, err = num("TokensUsed"); err != nil {
		return models.Conversation{}, err
	}
	if c.InputTokens, err = num("InputTokens"); err != nil {
		return models.Conversation{}, err
	}
	if c.OutputTokens, err = num("OutputTokens"); err != nil {
		return models.Conversation{}, err
	}
	return c, nil
}
