package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tokengate/internal/domain"
)

// LinkRepo provides typed DynamoDB operations for the verification links table.
type LinkRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewLinkRepo(client *dynamodb.Client, tableName string) *LinkRepo {
	return &LinkRepo{client: client, tableName: tableName}
}

func (r *LinkRepo) Put(ctx context.Context, l *domain.VerificationLink) error {
	item, err := attributevalue.MarshalMap(l)
	if err != nil {
		return fmt.Errorf("marshal link: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *LinkRepo) GetByToken(ctx context.Context, token string) (*domain.VerificationLink, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("token", token),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("link not found: %w", domain.ErrNotFound)
	}
	var l domain.VerificationLink
	if err := attributevalue.UnmarshalMap(out.Item, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// GetByGroup looks up the verification link minted for a group via GSI.
func (r *LinkRepo) GetByGroup(ctx context.Context, groupID string) (*domain.VerificationLink, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("group_id-index"),
		KeyConditionExpression: aws.String("group_id = :gid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gid": &types.AttributeValueMemberS{Value: groupID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("link not found: %w", domain.ErrNotFound)
	}
	var l domain.VerificationLink
	if err := attributevalue.UnmarshalMap(out.Items[0], &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// HardDelete removes a link, invalidating its token immediately.
func (r *LinkRepo) HardDelete(ctx context.Context, token string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("token", token),
	})
	return err
}
