package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/tokengate/internal/domain"
)

// WhitelistRepo provides typed DynamoDB operations for the whitelist table.
type WhitelistRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewWhitelistRepo(client *dynamodb.Client, tableName string) *WhitelistRepo {
	return &WhitelistRepo{client: client, tableName: tableName}
}

func (r *WhitelistRepo) Put(ctx context.Context, w *domain.WhitelistEntry) error {
	item, err := attributevalue.MarshalMap(w)
	if err != nil {
		return fmt.Errorf("marshal whitelist entry: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *WhitelistRepo) Get(ctx context.Context, groupID string) (*domain.WhitelistEntry, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("group_id", groupID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("whitelist entry not found: %w", domain.ErrNotFound)
	}
	var w domain.WhitelistEntry
	if err := attributevalue.UnmarshalMap(out.Item, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WhitelistRepo) Scan(ctx context.Context) ([]domain.WhitelistEntry, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
	if err != nil {
		return nil, err
	}
	var entries []domain.WhitelistEntry
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
