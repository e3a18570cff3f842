package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tokengate/internal/domain"
)

// InviteRepo provides typed DynamoDB operations for the invites table.
// PK: group_id, SK: user_id
type InviteRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewInviteRepo(client *dynamodb.Client, tableName string) *InviteRepo {
	return &InviteRepo{client: client, tableName: tableName}
}

func (r *InviteRepo) Put(ctx context.Context, inv *domain.InviteRecord) error {
	item, err := attributevalue.MarshalMap(inv)
	if err != nil {
		return fmt.Errorf("marshal invite: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *InviteRepo) Get(ctx context.Context, groupID, userID string) (*domain.InviteRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("group_id", groupID, "user_id", userID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("invite not found: %w", domain.ErrNotFound)
	}
	var inv domain.InviteRecord
	if err := attributevalue.UnmarshalMap(out.Item, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Claim flips a pending invite to claimed. The conditional write makes the
// claim first-wins: a second claim of the same invite returns ErrConflict.
func (r *InviteRepo) Claim(ctx context.Context, groupID, userID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      compositeKey("group_id", groupID, "user_id", userID),
		UpdateExpression:         aws.String("SET #s = :claimed"),
		ConditionExpression:      aws.String("#s = :pending"),
		ExpressionAttributeNames: map[string]string{"#s": fieldStatus},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":claimed": &types.AttributeValueMemberS{Value: string(domain.InviteClaimed)},
			":pending": &types.AttributeValueMemberS{Value: string(domain.InvitePending)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("invite already claimed or revoked: %w", domain.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *InviteRepo) UpdateStatus(ctx context.Context, groupID, userID string, status domain.InviteStatus) error {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldStatus: string(status)})
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey("group_id", groupID, "user_id", userID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}
