package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/tokengate/internal/domain"
)

// GroupRepo provides typed DynamoDB operations for the groups table.
type GroupRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewGroupRepo(client *dynamodb.Client, tableName string) *GroupRepo {
	return &GroupRepo{client: client, tableName: tableName}
}

func (r *GroupRepo) Put(ctx context.Context, g *domain.GroupConfig) error {
	item, err := attributevalue.MarshalMap(g)
	if err != nil {
		return fmt.Errorf("marshal group config: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *GroupRepo) Get(ctx context.Context, groupID string) (*domain.GroupConfig, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("group_id", groupID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("group config not found: %w", domain.ErrNotFound)
	}
	var g domain.GroupConfig
	if err := attributevalue.UnmarshalMap(out.Item, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Scan returns every configured group. The table holds one item per gated
// group, so a full scan stays small.
func (r *GroupRepo) Scan(ctx context.Context) ([]domain.GroupConfig, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
	if err != nil {
		return nil, err
	}
	var groups []domain.GroupConfig
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *GroupRepo) Update(ctx context.Context, groupID string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("group_id", groupID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}

// HardDelete permanently removes a group configuration.
func (r *GroupRepo) HardDelete(ctx context.Context, groupID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("group_id", groupID),
	})
	return err
}
