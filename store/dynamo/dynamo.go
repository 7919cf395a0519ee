// Package dynamo keeps each wiki resource in its own DynamoDB table, hashed
// on the resource's id field.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/kasuganosora/gamewiki/server/store"
)

// createdAttr orders List results; it is stripped before entities leave
// the store.
const createdAttr = "_wikiCreated"

// Client is the subset of *dynamodb.Client the store uses.
type Client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// NewClient builds a DynamoDB client from the default AWS credential chain.
// A non-empty endpoint points it at DynamoDB Local or LocalStack.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Store implements store.TableStore over DynamoDB.
type Store struct {
	client Client
	prefix string
	keys   map[string]string // resource → id field
	now    func() int64
}

// New returns a store for the given resources. keys maps each resource to
// its id field, which is also the table's hash key.
func New(client Client, prefix string, keys map[string]string) *Store {
	return &Store{client: client, prefix: prefix, keys: keys, now: func() int64 { return time.Now().UnixNano() }}
}

func (s *Store) table(resource string) string { return s.prefix + resource }

func (s *Store) keyField(resource string) (string, error) {
	f, ok := s.keys[resource]
	if !ok {
		return "", fmt.Errorf("dynamo: unknown resource %q", resource)
	}
	return f, nil
}

func (s *Store) key(resource, code string) (map[string]types.AttributeValue, error) {
	f, err := s.keyField(resource)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{f: &types.AttributeValueMemberS{Value: code}}, nil
}

// EnsureTables creates any missing resource table with on-demand billing.
func (s *Store) EnsureTables(ctx context.Context) error {
	for resource, field := range s.keys {
		_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(s.table(resource)),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(field), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(field), KeyType: types.KeyTypeHash},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("dynamo: create table %s: %w", s.table(resource), err)
		}
	}
	return nil
}

type ordered struct {
	created int64
	code    string
	e       entity.Entity
}

func (s *Store) decode(item map[string]types.AttributeValue, field string) (ordered, error) {
	var e entity.Entity
	if err := attributevalue.UnmarshalMap(item, &e); err != nil {
		return ordered{}, fmt.Errorf("dynamo: decode: %w", err)
	}
	var created int64
	if n, ok := item[createdAttr].(*types.AttributeValueMemberN); ok {
		created, _ = strconv.ParseInt(n.Value, 10, 64)
	}
	delete(e, createdAttr)
	return ordered{created: created, code: e.Key(field), e: e}, nil
}

// List scans the whole table and orders by first insertion.
func (s *Store) List(ctx context.Context, resource string) ([]entity.Entity, error) {
	field, err := s.keyField(resource)
	if err != nil {
		return nil, err
	}
	var rows []ordered
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table(resource)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: scan %s: %w", resource, err)
		}
		for _, item := range page.Items {
			row, err := s.decode(item, field)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].created != rows[j].created {
			return rows[i].created < rows[j].created
		}
		return rows[i].code < rows[j].code
	})
	out := make([]entity.Entity, len(rows))
	for i, r := range rows {
		out[i] = r.e
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, resource, code string) (entity.Entity, error) {
	key, err := s.key(resource, code)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table(resource)),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: get %s/%s: %w", resource, code, err)
	}
	if len(out.Item) == 0 {
		return nil, store.ErrNotFound
	}
	row, err := s.decode(out.Item, s.keys[resource])
	if err != nil {
		return nil, err
	}
	return row.e, nil
}

// Put writes the entity with its key coerced to a string attribute. An
// existing item keeps its original insertion stamp.
func (s *Store) Put(ctx context.Context, resource, idField string, e entity.Entity) error {
	if f, ok := s.keys[resource]; ok {
		idField = f
	}
	code := e.Key(idField)
	if code == "" {
		return store.ErrMissingKey
	}
	key := map[string]types.AttributeValue{idField: &types.AttributeValueMemberS{Value: code}}

	created := s.now()
	prev, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.table(resource)),
		Key:                  key,
		ProjectionExpression: aws.String("#c"),
		ExpressionAttributeNames: map[string]string{
			"#c": createdAttr,
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo: put %s/%s: %w", resource, code, err)
	}
	if n, ok := prev.Item[createdAttr].(*types.AttributeValueMemberN); ok {
		if v, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
			created = v
		}
	}

	item, err := attributevalue.MarshalMap(e.Without(entity.NewMarker))
	if err != nil {
		return fmt.Errorf("dynamo: encode: %w", err)
	}
	item[idField] = key[idField]
	item[createdAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(created, 10)}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table(resource)),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamo: put %s/%s: %w", resource, code, err)
	}
	return nil
}

// Delete reports ErrNotFound when DynamoDB returned no old item.
func (s *Store) Delete(ctx context.Context, resource, code string) error {
	key, err := s.key(resource, code)
	if err != nil {
		return err
	}
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table(resource)),
		Key:          key,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("dynamo: delete %s/%s: %w", resource, code, err)
	}
	if len(out.Attributes) == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Count(ctx context.Context, resource string) (int64, error) {
	if _, err := s.keyField(resource); err != nil {
		return 0, err
	}
	var n int64
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table(resource)),
		Select:    types.SelectCount,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("dynamo: count %s: %w", resource, err)
		}
		n += int64(page.Count)
	}
	return n, nil
}
