package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/domain"
	"github.com/mackka2k/tg-news-listener/internal/repository"
)

const (
	pkFingerprintPrefix = "FP#"
	pkQuotaPrefix       = "QUOTA#"
	pkStats             = "STATS"
	pkSchema            = "SCHEMA"

	skFingerprint = "FP"
	skDay         = "DAY"
	skTotal       = "TOTAL"
	skVersion     = "VERSION"

	conditionalCheckFailed = "ConditionalCheckFailed"
)

// dynamodbAPI is the minimal DynamoDB interface required by Store
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Store implements repository.Store on a single DynamoDB table with string
// keys PK and SK. Atomicity comes from conditional writes.
type Store struct {
	api       dynamodbAPI
	tableName string
	retention time.Duration
	log       *zap.Logger
}

// New creates a store. A positive retention sets the item TTL of every
// recorded fingerprint.
func New(api dynamodbAPI, tableName string, retention time.Duration, log *zap.Logger) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Store{api: api, tableName: tableName, retention: retention, log: log}, nil
}

// fingerprintPK encodes FP#<len(source)>:<source>#<message>. The byte length
// keeps the key unique when either part contains '#'.
func fingerprintPK(fp domain.Fingerprint) string {
	return pkFingerprintPrefix + strconv.Itoa(len(fp.SourceID)) + ":" + fp.SourceID + "#" + fp.MessageID
}

func quotaPK(date string) string {
	return pkQuotaPrefix + date
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("dynamo: %s: %w: %w", op, repository.ErrStorageUnavailable, err)
}

// HasSeen reports whether fp was recorded
func (s *Store) HasSeen(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.tableName),
		Key:                  key(fingerprintPK(fp), skFingerprint),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("PK"),
	})
	if err != nil {
		return false, unavailable("HasSeen", err)
	}
	return out != nil && len(out.Item) > 0, nil
}

// Record writes the fingerprint and bumps the total counter in one
// transaction. An already recorded fingerprint cancels the transaction, which
// is reported as success.
func (s *Store) Record(ctx context.Context, fp domain.Fingerprint, text string, at time.Time) error {
	if !fp.Valid() {
		return fmt.Errorf("dynamo: Record: invalid fingerprint %q", fp.String())
	}

	item := key(fingerprintPK(fp), skFingerprint)
	item["sourceId"] = &types.AttributeValueMemberS{Value: fp.SourceID}
	item["messageId"] = &types.AttributeValueMemberS{Value: fp.MessageID}
	item["text"] = &types.AttributeValueMemberS{Value: repository.TruncateText(text)}
	item["recordedAt"] = &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)}
	if s.retention > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(at.Add(s.retention).Unix(), 10)}
	}

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:                 aws.String(s.tableName),
					Key:                       key(pkStats, skTotal),
					UpdateExpression:          aws.String("ADD #total :one"),
					ExpressionAttributeNames:  map[string]string{"#total": "total"},
					ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
				},
			},
		},
	})
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) && alreadyRecorded(canceled) {
		s.log.Debug("Fingerprint already recorded", zap.String("fingerprint", fp.String()))
		return nil
	}
	return unavailable("Record", err)
}

func alreadyRecorded(e *types.TransactionCanceledException) bool {
	if len(e.CancellationReasons) == 0 {
		return false
	}
	return aws.ToString(e.CancellationReasons[0].Code) == conditionalCheckFailed
}

// IncrementIfBelow performs a conditional ADD on the counter item of date
func (s *Store) IncrementIfBelow(ctx context.Context, date string, limit int) (int, error) {
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 key(quotaPK(date), skDay),
		UpdateExpression:    aws.String("ADD #count :one SET #date = :date"),
		ConditionExpression: aws.String("attribute_not_exists(#count) OR #count < :limit"),
		ExpressionAttributeNames: map[string]string{
			"#count": "count",
			"#date":  "date",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":date":  &types.AttributeValueMemberS{Value: date},
			":limit": &types.AttributeValueMemberN{Value: strconv.Itoa(limit)},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			count := limit
			if n, ok := countAttr(ccf.Item); ok {
				count = n
			}
			return count, repository.ErrLimitReached
		}
		return 0, unavailable("IncrementIfBelow", err)
	}

	count, ok := countAttr(out.Attributes)
	if !ok {
		return 0, fmt.Errorf("dynamo: IncrementIfBelow: missing count in response")
	}
	return count, nil
}

// Decrement lowers a positive counter; a zero or missing counter is left alone
func (s *Store) Decrement(ctx context.Context, date string) (int, error) {
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.tableName),
		Key:                      key(quotaPK(date), skDay),
		UpdateExpression:         aws.String("ADD #count :minus"),
		ConditionExpression:      aws.String("#count > :zero"),
		ExpressionAttributeNames: map[string]string{"#count": "count"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":minus": &types.AttributeValueMemberN{Value: "-1"},
			":zero":  &types.AttributeValueMemberN{Value: "0"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, nil
		}
		return 0, unavailable("Decrement", err)
	}
	count, _ := countAttr(out.Attributes)
	return count, nil
}

// Count reads the counter of date
func (s *Store) Count(ctx context.Context, date string) (int, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(quotaPK(date), skDay),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, unavailable("Count", err)
	}
	if out == nil {
		return 0, nil
	}
	count, _ := countAttr(out.Item)
	return count, nil
}

// TotalEmissions reads the total counter
func (s *Store) TotalEmissions(ctx context.Context) (int64, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(pkStats, skTotal),
	})
	if err != nil {
		return 0, unavailable("TotalEmissions", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	total, err := int64Attr(out.Item, "total")
	if err != nil {
		return 0, fmt.Errorf("dynamo: TotalEmissions: %w", err)
	}
	return total, nil
}

// Ping describes the table
func (s *Store) Ping(ctx context.Context) error {
	out, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)})
	if err != nil {
		return unavailable("Ping", err)
	}
	if out.Table != nil && out.Table.TableStatus != types.TableStatusActive && out.Table.TableStatus != types.TableStatusUpdating {
		return fmt.Errorf("dynamo: table %s is %s: %w", s.tableName, out.Table.TableStatus, repository.ErrStorageUnavailable)
	}
	return nil
}

// Close is a no-op, the SDK client holds no connections that need closing
func (s *Store) Close() error {
	s.log.Info("DynamoDB store closed")
	return nil
}

func countAttr(item map[string]types.AttributeValue) (int, bool) {
	v, ok := item["count"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v.Value)
	if err != nil {
		return 0, false
	}
	return n, true
}

func int64Attr(item map[string]types.AttributeValue, name string) (int64, error) {
	v, ok := item[name]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", name)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", name)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", name, err)
	}
	return parsed, nil
}
