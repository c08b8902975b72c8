// Package dynamodb stores session snapshots in a single DynamoDB table.
//
// Item layout:
//
//	PK = SESSION#<id>   SK = SNAPSHOT
//	GSI1PK = SESSIONS   GSI1SK = <saved_at RFC3339Nano>#<id>
//
// The GSI lists sessions newest first without a scan. ExpiresAt is an epoch
// second for the table's TTL setting.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"canvaschat/application/ports"
	"canvaschat/domain/core/aggregates"
	pkgerrors "canvaschat/pkg/errors"
)

const (
	sortKeySnapshot = "SNAPSHOT"
	listPartition   = "SESSIONS"
	// DefaultListIndex is the GSI queried by List.
	DefaultListIndex = "GSI1"
)

// API is the part of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// sessionItem is the stored record minus the snapshot body, which is kept
// in a nested "Snapshot" map using its json field names.
type sessionItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	GSI1PK    string `dynamodbav:"GSI1PK"`
	GSI1SK    string `dynamodbav:"GSI1SK"`
	ID        string `dynamodbav:"ID"`
	Name      string `dynamodbav:"Name"`
	SavedAt   string `dynamodbav:"SavedAt"`
	NodeCount int    `dynamodbav:"NodeCount"`
	EdgeCount int    `dynamodbav:"EdgeCount"`
	ExpiresAt int64  `dynamodbav:"ExpiresAt,omitempty"`
}

// SessionStore implements ports.SessionStore on DynamoDB.
type SessionStore struct {
	client    API
	tableName string
	listIndex string
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewSessionStore creates a store over tableName. A ttl of zero writes no
// ExpiresAt attribute.
func NewSessionStore(client API, tableName string, ttl time.Duration, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		client:    client,
		tableName: tableName,
		listIndex: DefaultListIndex,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger.Named("dynamodb_store"),
	}
}

func sessionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "SESSION#" + id},
		"SK": &types.AttributeValueMemberS{Value: sortKeySnapshot},
	}
}

func encodeSnapshot(snap *aggregates.GraphSnapshot) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMapWithOptions(snap, func(o *attributevalue.EncoderOptions) {
		o.TagKey = "json"
	})
}

func decodeSnapshot(m map[string]types.AttributeValue, snap *aggregates.GraphSnapshot) error {
	return attributevalue.UnmarshalMapWithOptions(m, snap, func(o *attributevalue.DecoderOptions) {
		o.TagKey = "json"
	})
}

// Save implements ports.SessionStore.
func (s *SessionStore) Save(ctx context.Context, snap *aggregates.GraphSnapshot) error {
	if snap == nil || snap.ID == "" {
		return pkgerrors.NewValidationError("snapshot needs an id")
	}
	body, err := encodeSnapshot(snap)
	if err != nil {
		return pkgerrors.Wrap(err, "encode snapshot")
	}
	savedAt := snap.SavedAt.UTC().Format(time.RFC3339Nano)
	item := sessionItem{
		PK:        "SESSION#" + snap.ID,
		SK:        sortKeySnapshot,
		GSI1PK:    listPartition,
		GSI1SK:    savedAt + "#" + snap.ID,
		ID:        snap.ID,
		Name:      snap.Name,
		SavedAt:   savedAt,
		NodeCount: len(snap.Nodes),
		EdgeCount: len(snap.Edges),
	}
	if s.ttl > 0 {
		item.ExpiresAt = s.now().Add(s.ttl).Unix()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return pkgerrors.Wrap(err, "encode session item")
	}
	av["Snapshot"] = &types.AttributeValueMemberM{Value: body}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}); err != nil {
		return s.upstream(ctx, "put", err)
	}
	s.logger.Debug("session saved",
		zap.String("session_id", snap.ID),
		zap.Int("nodes", item.NodeCount),
		zap.Int("edges", item.EdgeCount),
	)
	return nil
}

// Load implements ports.SessionStore.
func (s *SessionStore) Load(ctx context.Context, id string) (*aggregates.GraphSnapshot, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            sessionKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.upstream(ctx, "get", err)
	}
	if len(out.Item) == 0 || s.expired(out.Item) {
		return nil, pkgerrors.NewNotFoundError(fmt.Sprintf("session %s", id))
	}
	body, ok := out.Item["Snapshot"].(*types.AttributeValueMemberM)
	if !ok {
		return nil, pkgerrors.NewInternalError(fmt.Sprintf("session %s has no snapshot body", id))
	}
	var snap aggregates.GraphSnapshot
	if err := decodeSnapshot(body.Value, &snap); err != nil {
		return nil, pkgerrors.Wrap(err, "decode snapshot")
	}
	return &snap, nil
}

// Delete implements ports.SessionStore.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.Wrap(err, "build delete condition")
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       sessionKey(id),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return pkgerrors.NewNotFoundError(fmt.Sprintf("session %s", id))
	}
	if err != nil {
		return s.upstream(ctx, "delete", err)
	}
	return nil
}

// List implements ports.SessionStore, newest first. Only the summary
// attributes are read.
func (s *SessionStore) List(ctx context.Context) ([]ports.SessionSummary, error) {
	expr, err := expression.NewBuilder().
		WithKeyCondition(expression.Key("GSI1PK").Equal(expression.Value(listPartition))).
		WithProjection(expression.NamesList(
			expression.Name("ID"),
			expression.Name("Name"),
			expression.Name("SavedAt"),
			expression.Name("NodeCount"),
			expression.Name("EdgeCount"),
			expression.Name("ExpiresAt"),
		)).
		Build()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "build list query")
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(s.listIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}

	var out []ports.SessionSummary
	for {
		page, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, s.upstream(ctx, "query", err)
		}
		for _, raw := range page.Items {
			if s.expired(raw) {
				continue
			}
			var item sessionItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				s.logger.Warn("skipping unreadable session item", zap.Error(err))
				continue
			}
			savedAt, _ := time.Parse(time.RFC3339Nano, item.SavedAt)
			out = append(out, ports.SessionSummary{
				ID:        item.ID,
				Name:      item.Name,
				SavedAt:   savedAt,
				NodeCount: item.NodeCount,
				EdgeCount: item.EdgeCount,
			})
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

// expired covers the window before DynamoDB's TTL sweeper removes an item.
func (s *SessionStore) expired(item map[string]types.AttributeValue) bool {
	n, ok := item["ExpiresAt"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	var at int64
	if err := attributevalue.Unmarshal(n, &at); err != nil || at == 0 {
		return false
	}
	return !s.now().Before(time.Unix(at, 0))
}

func (s *SessionStore) upstream(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return pkgerrors.NormalizeCancel(context.Canceled, "dynamodb "+op)
	}
	s.logger.Error("dynamodb request failed", zap.String("op", op), zap.String("table", s.tableName), zap.Error(err))
	return pkgerrors.NewUpstreamError("dynamodb", err)
}
