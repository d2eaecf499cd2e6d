package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/types"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the store.
// *dynamodb.Client satisfies it; tests substitute an in-memory fake.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// dynamoItem is one stored key. The table has partition key "bucket" (S)
// and sort key "key" (S).
type dynamoItem struct {
	Bucket string `dynamodbav:"bucket"`
	Key    string `dynamodbav:"key"`
	Value  []byte `dynamodbav:"value"`
}

// DynamoDB is a Store backed by a DynamoDB table.
//
// Reads are strongly consistent. A missing table surfaces as
// *types.StoreOpenError, since no operation can succeed until it exists.
type DynamoDB struct {
	client DynamoDBAPI
	table  string
	bucket string
	closed atomic.Bool
}

var _ backsync.Store = (*DynamoDB)(nil)

// DynamoDBOption configures a DynamoDB store.
type DynamoDBOption func(*DynamoDB)

// WithDynamoDBBucket sets the partition key value used by the store.
// Default: "backsync"
func WithDynamoDBBucket(bucket string) DynamoDBOption {
	return func(d *DynamoDB) {
		d.bucket = bucket
	}
}

// NewDynamoDB creates a store on an existing table.
//
// Parameters:
//   - client: A DynamoDB client (e.g., dynamodb.NewFromConfig(cfg))
//   - table: Table name
//   - opts: Optional configuration options
//
// Returns:
//   - *DynamoDB: A new DynamoDB store
func NewDynamoDB(client DynamoDBAPI, table string, opts ...DynamoDBOption) *DynamoDB {
	d := &DynamoDB{client: client, table: table, bucket: "backsync"}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// NewDynamoDBFromEnv loads the default AWS configuration (environment,
// shared config files, instance role) and creates a store on table.
//
// Parameters:
//   - ctx: Context for loading credentials
//   - region: AWS region; empty uses the region from the environment
//   - table: Table name
//   - opts: Optional configuration options
//
// Returns:
//   - *DynamoDB: A new DynamoDB store
//   - error: Error if the AWS configuration cannot be loaded
func NewDynamoDBFromEnv(ctx context.Context, region, table string, opts ...DynamoDBOption) (*DynamoDB, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("backsync: failed to load AWS config: %w", err)
	}

	return NewDynamoDB(dynamodb.NewFromConfig(cfg), table, opts...), nil
}

func (d *DynamoDB) itemKey(key string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"bucket": &ddbtypes.AttributeValueMemberS{Value: d.bucket},
		"key":    &ddbtypes.AttributeValueMemberS{Value: key},
	}
}

// wrapErr converts a missing table into a StoreOpenError.
func (d *DynamoDB) wrapErr(op string, err error) error {
	var notFound *ddbtypes.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &types.StoreOpenError{Store: "dynamodb:" + d.table, Cause: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("backsync: dynamodb %s: %s: %w", op, apiErr.ErrorCode(), err)
	}

	return fmt.Errorf("backsync: dynamodb %s: %w", op, err)
}

// Get loads the value stored under key.
func (d *DynamoDB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if d.closed.Load() {
		return nil, false, types.ErrStoreClosed
	}

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, d.wrapErr("get item", err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, fmt.Errorf("backsync: unmarshal item: %w", err)
	}
	if item.Value == nil {
		item.Value = []byte{}
	}

	return item.Value, true, nil
}

// Put stores value under key.
func (d *DynamoDB) Put(ctx context.Context, key string, value []byte) error {
	if d.closed.Load() {
		return types.ErrStoreClosed
	}

	item, err := attributevalue.MarshalMap(dynamoItem{Bucket: d.bucket, Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("backsync: marshal item: %w", err)
	}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return d.wrapErr("put item", err)
	}

	return nil
}

// Delete removes key.
func (d *DynamoDB) Delete(ctx context.Context, key string) error {
	if d.closed.Load() {
		return types.ErrStoreClosed
	}

	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       d.itemKey(key),
	}); err != nil {
		return d.wrapErr("delete item", err)
	}

	return nil
}

// Keys returns every key of the bucket in sort-key order.
func (d *DynamoDB) Keys(ctx context.Context) ([]string, error) {
	if d.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("#b = :b"),
		ProjectionExpression:   aws.String("#k"),
		ExpressionAttributeNames: map[string]string{
			"#b": "bucket",
			"#k": "key",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":b": &ddbtypes.AttributeValueMemberS{Value: d.bucket},
		},
		ConsistentRead: aws.Bool(true),
	}

	keys := make([]string, 0)
	for {
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, d.wrapErr("query", err)
		}

		for _, raw := range out.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("backsync: unmarshal key: %w", err)
			}
			keys = append(keys, item.Key)
		}

		if len(out.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Close marks the store as closed.
func (d *DynamoDB) Close() error {
	d.closed.Store(true)

	return nil
}
