package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is a small in-memory DynamoDB for the store's key schema
// (partition "bucket", sort "key"). Query pages results pageSize at a time.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]map[string]ddbtypes.AttributeValue
	pageSize int
	missing  bool

	queryCalls int
}

var _ DynamoDBAPI = (*fakeDynamo)(nil)

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		items:    map[string]map[string]map[string]ddbtypes.AttributeValue{},
		pageSize: 2,
	}
}

func attrS(av ddbtypes.AttributeValue) string {
	if s, ok := av.(*ddbtypes.AttributeValueMemberS); ok {
		return s.Value
	}

	return ""
}

func (f *fakeDynamo) tableErr() error {
	if f.missing {
		msg := "Requested resource not found"
		return &ddbtypes.ResourceNotFoundException{Message: &msg}
	}

	return nil
}

func (f *fakeDynamo) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tableErr(); err != nil {
		return nil, err
	}

	item := f.items[attrS(params.Key["bucket"])][attrS(params.Key["key"])]

	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tableErr(); err != nil {
		return nil, err
	}
	if params.Item == nil {
		return nil, errors.New("nil item")
	}

	bucket := attrS(params.Item["bucket"])
	if f.items[bucket] == nil {
		f.items[bucket] = map[string]map[string]ddbtypes.AttributeValue{}
	}
	f.items[bucket][attrS(params.Item["key"])] = params.Item

	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tableErr(); err != nil {
		return nil, err
	}

	delete(f.items[attrS(params.Key["bucket"])], attrS(params.Key["key"]))

	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if err := f.tableErr(); err != nil {
		return nil, err
	}

	bucket := attrS(params.ExpressionAttributeValues[":b"])
	keys := make([]string, 0, len(f.items[bucket]))
	for k := range f.items[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		last := attrS(params.ExclusiveStartKey["key"])
		start = sort.SearchStrings(keys, last) + 1
	}

	out := &dynamodb.QueryOutput{}
	end := min(start+f.pageSize, len(keys))
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, map[string]ddbtypes.AttributeValue{
			"key": &ddbtypes.AttributeValueMemberS{Value: k},
		})
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]ddbtypes.AttributeValue{
			"bucket": &ddbtypes.AttributeValueMemberS{Value: bucket},
			"key":    &ddbtypes.AttributeValueMemberS{Value: keys[end-1]},
		}
	}

	return out, nil
}
