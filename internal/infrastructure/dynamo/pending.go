package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/tokengate/internal/domain"
)

// PendingRequestRepo provides typed DynamoDB operations for the pending
// whitelist requests table.
type PendingRequestRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewPendingRequestRepo(client *dynamodb.Client, tableName string) *PendingRequestRepo {
	return &PendingRequestRepo{client: client, tableName: tableName}
}

func (r *PendingRequestRepo) Put(ctx context.Context, p *domain.PendingWhitelistRequest) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal pending request: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *PendingRequestRepo) Get(ctx context.Context, groupID string) (*domain.PendingWhitelistRequest, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("group_id", groupID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("pending request not found: %w", domain.ErrNotFound)
	}
	var p domain.PendingWhitelistRequest
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PendingRequestRepo) Scan(ctx context.Context) ([]domain.PendingWhitelistRequest, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
	if err != nil {
		return nil, err
	}
	var pending []domain.PendingWhitelistRequest
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// HardDelete removes a pending request once it has been approved or rejected.
func (r *PendingRequestRepo) HardDelete(ctx context.Context, groupID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("group_id", groupID),
	})
	return err
}
