package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tokengate/internal/domain"
)

// UserRecordRepo provides typed DynamoDB operations for the user records table.
// PK: group_id, SK: user_id
type UserRecordRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewUserRecordRepo(client *dynamodb.Client, tableName string) *UserRecordRepo {
	return &UserRecordRepo{client: client, tableName: tableName}
}

func (r *UserRecordRepo) Put(ctx context.Context, u *domain.UserRecord) error {
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal user record: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *UserRecordRepo) Get(ctx context.Context, groupID, userID string) (*domain.UserRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("group_id", groupID, "user_id", userID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user record not found: %w", domain.ErrNotFound)
	}
	var u domain.UserRecord
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRecordRepo) Update(ctx context.Context, groupID, userID string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	ue, err := buildUpdateExpr(updates)
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

// ListVerifiedByGroup returns every verified member of a group, following
// pagination until the query is exhausted.
func (r *UserRecordRepo) ListVerifiedByGroup(ctx context.Context, groupID string) ([]domain.UserRecord, error) {
	var records []domain.UserRecord
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("group_id = :gid"),
			FilterExpression:       aws.String("verified = :t"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":gid": &types.AttributeValueMemberS{Value: groupID},
				":t":   &types.AttributeValueMemberBOOL{Value: true},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		var page []domain.UserRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		records = append(records, page...)
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return records, nil
}

// GetByAddress returns every record bound to a wallet address via GSI.
// An empty slice means the address is unclaimed.
func (r *UserRecordRepo) GetByAddress(ctx context.Context, address string) ([]domain.UserRecord, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("address-index"),
		KeyConditionExpression: aws.String("address = :addr"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":addr": &types.AttributeValueMemberS{Value: address},
		},
	})
	if err != nil {
		return nil, err
	}
	var records []domain.UserRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteIfUnchanged removes a user record only while its address and
// last-verified timestamp still match the snapshot the caller read.
// Returns ErrConflict when the record was re-verified or re-bound in the
// meantime.
func (r *UserRecordRepo) DeleteIfUnchanged(ctx context.Context, rec *domain.UserRecord) error {
	addr, err := attributevalue.Marshal(rec.Address)
	if err != nil {
		return fmt.Errorf("marshal address: %w", err)
	}
	lv, err := attributevalue.Marshal(rec.LastVerifiedAt)
	if err != nil {
		return fmt.Errorf("marshal last_verified_at: %w", err)
	}
	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey("group_id", rec.GroupID, "user_id", rec.UserID),
		ConditionExpression: aws.String("address = :addr AND last_verified_at = :lv"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":addr": addr,
			":lv":   lv,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("user record changed since read: %w", domain.ErrConflict)
		}
		return err
	}
	return nil
}

// HardDelete permanently removes a user record regardless of its state.
func (r *UserRecordRepo) HardDelete(ctx context.Context, groupID, userID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("group_id", groupID, "user_id", userID),
	})
	return err
}
