package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"news-summariser/config"
	"news-summariser/pkg/digest"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used here.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoSubscribers stores subscribers in a DynamoDB table keyed by email.
type DynamoSubscribers struct {
	db     DynamoAPI
	logger *slog.Logger
	table  string
}

// NewDynamoSubscribers creates a subscribers table client.
func NewDynamoSubscribers(db DynamoAPI, table string, logger *slog.Logger) *DynamoSubscribers {
	return &DynamoSubscribers{db: db, table: table, logger: logger}
}

func emailKey(email string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"email": &types.AttributeValueMemberS{Value: email},
	}
}

func (d *DynamoSubscribers) check() error {
	if d.table == "" {
		return config.Missing(config.SubscribersTable)
	}
	return nil
}

// Get implements Subscribers.
func (d *DynamoSubscribers) Get(ctx context.Context, email string) (*digest.Subscriber, bool, error) {
	if err := d.check(); err != nil {
		return nil, false, err
	}

	var out *dynamodb.GetItemOutput
	err := withRetry(ctx, d.logger, "get", func() error {
		var err error
		out, err = d.db.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(d.table),
			Key:       emailKey(email),
		})
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get subscriber: %w", err)
	}
	if out.Item == nil {
		return nil, false, nil
	}

	var sub digest.Subscriber
	if err := attributevalue.UnmarshalMap(out.Item, &sub); err != nil {
		return nil, false, fmt.Errorf("unmarshal subscriber: %w", err)
	}
	return &sub, true, nil
}

// ListByStatus implements Subscribers.
func (d *DynamoSubscribers) ListByStatus(ctx context.Context, status digest.Status) ([]*digest.Subscriber, error) {
	if err := d.check(); err != nil {
		return nil, err
	}

	filter := "#status = :status"
	if status == digest.StatusActive {
		filter = "attribute_not_exists(#status) OR #status = :status"
	}
	input := &dynamodb.ScanInput{
		TableName:                aws.String(d.table),
		FilterExpression:         aws.String(filter),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	}

	var subs []*digest.Subscriber
	pages := dynamodb.NewScanPaginator(d.db, input)
	for pages.HasMorePages() {
		var out *dynamodb.ScanOutput
		err := withRetry(ctx, d.logger, "scan", func() error {
			var err error
			out, err = pages.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("scan subscribers: %w", err)
		}

		var page []*digest.Subscriber
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal subscribers: %w", err)
		}
		subs = append(subs, page...)
	}

	d.logger.Info("Subscribers scanned", "status", status, "count", len(subs))
	return subs, nil
}

// PutUnlessActive implements Subscribers. It is never retried: a retry after
// a lost response would report the record as already existing.
func (d *DynamoSubscribers) PutUnlessActive(ctx context.Context, sub *digest.Subscriber) error {
	if err := d.check(); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(sub)
	if err != nil {
		return fmt.Errorf("marshal subscriber: %w", err)
	}
	_, err = d.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(email) OR #status = :inactive"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inactive": &types.AttributeValueMemberS{Value: string(digest.StatusInactive)},
		},
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return ErrExists
		}
		return fmt.Errorf("put subscriber: %w", err)
	}
	return nil
}

// SetStatus implements Subscribers. Like any DynamoDB update it creates the
// item when it does not exist.
func (d *DynamoSubscribers) SetStatus(ctx context.Context, email string, status digest.Status, at time.Time) error {
	if err := d.check(); err != nil {
		return err
	}

	stamp := "verifiedAt"
	if status == digest.StatusInactive {
		stamp = "unsubscribedAt"
	}
	at = at.UTC()
	stampValue, err := attributevalue.Marshal(at)
	if err != nil {
		return fmt.Errorf("marshal timestamp: %w", err)
	}

	err = withRetry(ctx, d.logger, "update", func() error {
		_, err := d.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        aws.String(d.table),
			Key:              emailKey(email),
			UpdateExpression: aws.String("SET #status = :status, #stamp = :at"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
				"#stamp":  stamp,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(status)},
				":at":     stampValue,
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("update subscriber status: %w", err)
	}
	return nil
}

// DynamoAdmins reads admin accounts from a DynamoDB table keyed by email.
type DynamoAdmins struct {
	db     DynamoAPI
	logger *slog.Logger
	table  string
}

// NewDynamoAdmins creates an admins table client.
func NewDynamoAdmins(db DynamoAPI, table string, logger *slog.Logger) *DynamoAdmins {
	return &DynamoAdmins{db: db, table: table, logger: logger}
}

// Admin implements Admins.
func (d *DynamoAdmins) Admin(ctx context.Context, email string) (*digest.Admin, bool, error) {
	if d.table == "" {
		return nil, false, config.Missing(config.AdminsTable)
	}

	var out *dynamodb.GetItemOutput
	err := withRetry(ctx, d.logger, "get_admin", func() error {
		var err error
		out, err = d.db.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(d.table),
			Key:       emailKey(email),
		})
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get admin: %w", err)
	}
	if out.Item == nil {
		return nil, false, nil
	}

	var a digest.Admin
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, false, fmt.Errorf("unmarshal admin: %w", err)
	}
	return &a, true, nil
}
