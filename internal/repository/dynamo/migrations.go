package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/repository"
)

type migration struct {
	version     int
	description string
	apply       func(ctx context.Context, s *Store) error
}

// migrations run in order; each must be safe to re-run
var migrations = []migration{
	{
		version:     1,
		description: "schema version marker",
		apply: func(ctx context.Context, s *Store) error {
			return nil
		},
	},
	{
		version:     2,
		description: "total emissions counter",
		apply: func(ctx context.Context, s *Store) error {
			item := key(pkStats, skTotal)
			item["total"] = &types.AttributeValueMemberN{Value: "0"}
			_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:           aws.String(s.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			})
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				return nil
			}
			return err
		},
	},
}

// CurrentSchemaVersion reads the version marker, zero when absent
func (s *Store) CurrentSchemaVersion(ctx context.Context) (int, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(pkSchema, skVersion),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, unavailable("CurrentSchemaVersion", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	v, err := int64Attr(out.Item, "version")
	if err != nil {
		return 0, fmt.Errorf("dynamo: CurrentSchemaVersion: %w", err)
	}
	return int(v), nil
}

// InitSchema applies every migration newer than the stored version
func (s *Store) InitSchema(ctx context.Context) error {
	current, err := s.CurrentSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > repository.SchemaVersion {
		return fmt.Errorf("dynamo: schema version %d is newer than supported %d", current, repository.SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		s.log.Info("Applying migration",
			zap.Int("version", m.version),
			zap.String("description", m.description))
		if err := m.apply(ctx, s); err != nil {
			return fmt.Errorf("dynamo: migration %d: %w", m.version, err)
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
		current = m.version
	}

	s.log.Info("DynamoDB schema initialized", zap.Int("version", current))
	return nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	item := key(pkSchema, skVersion)
	item["version"] = &types.AttributeValueMemberN{Value: strconv.Itoa(version)}
	item["appliedAt"] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#v) OR #v < :v"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.Itoa(version)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return unavailable("setSchemaVersion", err)
	}
	return nil
}
