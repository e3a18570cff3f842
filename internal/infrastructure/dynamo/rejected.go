package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tokengate/internal/domain"
)

// RejectedGroupRepo provides typed DynamoDB operations for the rejected
// groups table.
type RejectedGroupRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewRejectedGroupRepo(client *dynamodb.Client, tableName string) *RejectedGroupRepo {
	return &RejectedGroupRepo{client: client, tableName: tableName}
}

func (r *RejectedGroupRepo) Get(ctx context.Context, groupID string) (*domain.RejectedGroup, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("group_id", groupID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("rejected group not found: %w", domain.ErrNotFound)
	}
	var g domain.RejectedGroup
	if err := attributevalue.UnmarshalMap(out.Item, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *RejectedGroupRepo) Scan(ctx context.Context) ([]domain.RejectedGroup, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
	if err != nil {
		return nil, err
	}
	var groups []domain.RejectedGroup
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// RecordRejection bumps the strike counter by exactly one and refreshes the
// bookkeeping fields in a single atomic update, creating the item on first
// strike. Returns the item as it stands after the increment so the caller
// can decide whether the strike limit was hit.
func (r *RejectedGroupRepo) RecordRejection(ctx context.Context, groupID, groupName, adminID string, now time.Time) (*domain.RejectedGroup, error) {
	ts, err := attributevalue.Marshal(now)
	if err != nil {
		return nil, fmt.Errorf("marshal rejection time: %w", err)
	}
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              strKey("group_id", groupID),
		UpdateExpression: aws.String("SET #n = :n, #a = :a, #lt = :t, #ft = if_not_exists(#ft, :t) ADD #c :one"),
		ExpressionAttributeNames: map[string]string{
			"#n":  fieldGroupName,
			"#a":  fieldLastAdminID,
			"#lt": fieldLastRejectedAt,
			"#ft": fieldFirstRejectedAt,
			"#c":  fieldRejectionCount,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n":   &types.AttributeValueMemberS{Value: groupName},
			":a":   &types.AttributeValueMemberS{Value: adminID},
			":t":   ts,
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, err
	}
	var g domain.RejectedGroup
	if err := attributevalue.UnmarshalMap(out.Attributes, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// MarkBlocked flips the permanent block flag. The flag only ever moves from
// false to true.
func (r *RejectedGroupRepo) MarkBlocked(ctx context.Context, groupID string) error {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldBlocked: true})
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
