package dynamodb

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// keyComparison matches the comparisons emitted by the expression builder, e.g. "#0 = :0".
var keyComparison = regexp.MustCompile(`(#\w+)\s*(=|<=|>=|<|>)\s*(:\w+)`)

type mockTable struct {
	partitionKey string
	sortKey      string
	items        map[string]map[string]types.AttributeValue
}

func (t *mockTable) itemKey(item map[string]types.AttributeValue) string {
	key := getStringValue(item[t.partitionKey])
	if t.sortKey != "" {
		key += "\x00" + getStringValue(item[t.sortKey])
	}
	return key
}

// MockDynamoDBClient is a simple in-memory mock implementation of Client for testing.
// Tables must be declared with DefineTable so that key conditions can be evaluated.
type MockDynamoDBClient struct {
	mu     sync.RWMutex
	tables map[string]*mockTable

	// Error injection for testing error scenarios
	PutItemError error
	GetItemError error
	QueryError   error
	ScanError    error

	// Call tracking for test assertions
	PutItemCalls int
	GetItemCalls int
	QueryCalls   int
	ScanCalls    int
}

// NewMockDynamoDBClient creates a new mock DynamoDB client for testing.
func NewMockDynamoDBClient() *MockDynamoDBClient {
	return &MockDynamoDBClient{tables: make(map[string]*mockTable)}
}

// DefineTable declares a table and its key schema. sortKey may be empty.
func (m *MockDynamoDBClient) DefineTable(name, partitionKey, sortKey string) *MockDynamoDBClient {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[name] = &mockTable{
		partitionKey: partitionKey,
		sortKey:      sortKey,
		items:        make(map[string]map[string]types.AttributeValue),
	}
	return m
}

func (m *MockDynamoDBClient) table(name *string) (*mockTable, error) {
	table, ok := m.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not defined: " + aws.ToString(name))}
	}
	return table, nil
}

// PutItem stores an item, honouring attribute_not_exists conditions.
func (m *MockDynamoDBClient) PutItem(
	_ context.Context,
	params *dynamodb.PutItemInput,
	_ ...func(*dynamodb.Options),
) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PutItemCalls++

	if m.PutItemError != nil {
		return nil, m.PutItemError
	}

	table, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	if _, ok := params.Item[table.partitionKey]; !ok {
		return nil, fmt.Errorf("item is missing partition key %q", table.partitionKey)
	}

	key := table.itemKey(params.Item)
	if strings.Contains(aws.ToString(params.ConditionExpression), "attribute_not_exists") {
		if _, exists := table.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}

	table.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

// GetItem retrieves an item by its full key.
func (m *MockDynamoDBClient) GetItem(
	_ context.Context,
	params *dynamodb.GetItemInput,
	_ ...func(*dynamodb.Options),
) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetItemCalls++

	if m.GetItemError != nil {
		return nil, m.GetItemError
	}

	table, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}

	return &dynamodb.GetItemOutput{Item: table.items[table.itemKey(params.Key)]}, nil
}

// Query evaluates the key condition against the table, ordered by sort key.
func (m *MockDynamoDBClient) Query(
	_ context.Context,
	params *dynamodb.QueryInput,
	_ ...func(*dynamodb.Options),
) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.QueryCalls++

	if m.QueryError != nil {
		return nil, m.QueryError
	}

	table, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}

	type comparison struct {
		attr  string
		op    string
		value types.AttributeValue
	}
	var comparisons []comparison
	for _, match := range keyComparison.FindAllStringSubmatch(aws.ToString(params.KeyConditionExpression), -1) {
		comparisons = append(comparisons, comparison{
			attr:  params.ExpressionAttributeNames[match[1]],
			op:    match[2],
			value: params.ExpressionAttributeValues[match[3]],
		})
	}

	var items []map[string]types.AttributeValue
	for _, item := range table.items {
		matches := true
		for _, c := range comparisons {
			if !compareAttribute(item[c.attr], c.op, c.value) {
				matches = false
				break
			}
		}
		if matches {
			items = append(items, item)
		}
	}

	forward := params.ScanIndexForward == nil || *params.ScanIndexForward
	sort.Slice(items, func(a, b int) bool {
		less := attributeLess(items[a][table.sortKey], items[b][table.sortKey])
		if forward {
			return less
		}
		return attributeLess(items[b][table.sortKey], items[a][table.sortKey])
	})

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}

	return &dynamodb.QueryOutput{Items: items, Count: safeInt32Count(len(items))}, nil
}

// Scan returns every item in the table.
func (m *MockDynamoDBClient) Scan(
	_ context.Context,
	params *dynamodb.ScanInput,
	_ ...func(*dynamodb.Options),
) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ScanCalls++

	if m.ScanError != nil {
		return nil, m.ScanError
	}

	table, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]types.AttributeValue, 0, len(table.items))
	for _, item := range table.items {
		items = append(items, item)
	}

	return &dynamodb.ScanOutput{Items: items, Count: safeInt32Count(len(items))}, nil
}

// ResetCallCounts resets all call counters to zero.
func (m *MockDynamoDBClient) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PutItemCalls = 0
	m.GetItemCalls = 0
	m.QueryCalls = 0
	m.ScanCalls = 0
}

// getStringValue extracts a string value from an AttributeValue.
func getStringValue(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	default:
		return ""
	}
}

func attributeLess(a, b types.AttributeValue) bool {
	an, aIsNum := a.(*types.AttributeValueMemberN)
	bn, bIsNum := b.(*types.AttributeValueMemberN)
	if aIsNum && bIsNum {
		af, _ := strconv.ParseFloat(an.Value, 64)
		bf, _ := strconv.ParseFloat(bn.Value, 64)
		return af < bf
	}
	return getStringValue(a) < getStringValue(b)
}

func compareAttribute(actual types.AttributeValue, op string, expected types.AttributeValue) bool {
	if actual == nil || expected == nil {
		return false
	}
	switch op {
	case "=":
		return !attributeLess(actual, expected) && !attributeLess(expected, actual)
	case "<":
		return attributeLess(actual, expected)
	case "<=":
		return !attributeLess(expected, actual)
	case ">":
		return attributeLess(expected, actual)
	case ">=":
		return !attributeLess(actual, expected)
	default:
		return false
	}
}
