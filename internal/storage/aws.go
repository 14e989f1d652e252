package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/JAKOBGTAG/multi-email-sender/internal/stats"
)

func loadAWSConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// S3Store keeps the snapshot as a single JSON object.
type S3Store struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Store creates an S3-backed store. A non-empty endpoint switches to
// path-style addressing against that URL (MinIO, LocalStack).
func NewS3Store(cfg aws.Config, endpoint, bucket, key string) *S3Store {
	if key == "" {
		key = defaultS3Key
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: bucket, key: key}
}

func (s *S3Store) Save(ctx context.Context, st stats.Statistics) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling statistics: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}

func (s *S3Store) Load(ctx context.Context) (stats.Statistics, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFound(err) {
			return stats.Statistics{}, stats.ErrNoSnapshot
		}
		return stats.Statistics{}, fmt.Errorf("getting object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return stats.Statistics{}, fmt.Errorf("reading S3 object body: %w", err)
	}

	var st stats.Statistics
	if err := json.Unmarshal(data, &st); err != nil {
		return stats.Statistics{}, fmt.Errorf("unmarshaling S3 data: %w", err)
	}
	return st, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// DynamoDBItem is the stored row. The latest snapshot lives under SK
// "LATEST"; each save also writes a dated history row that expires.
type DynamoDBItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Data      string `dynamodbav:"Data"`
	Timestamp string `dynamodbav:"Timestamp"`
	TTL       int64  `dynamodbav:"TTL,omitempty"`
}

const (
	latestSK   = "LATEST"
	historyTTL = 90 * 24 * time.Hour
)

// DynamoStore keeps snapshots in a PK/SK table.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
	pk     string
	now    func() time.Time
}

// NewDynamoStore creates a DynamoDB-backed store. name separates snapshots
// of independent deployments sharing one table.
func NewDynamoStore(cfg aws.Config, endpoint, table, name string) *DynamoStore {
	if name == "" {
		name = defaultName
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &DynamoStore{client: client, table: table, pk: "STATS#" + name, now: time.Now}
}

func (d *DynamoStore) Save(ctx context.Context, st stats.Statistics) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling statistics: %w", err)
	}
	now := d.now().UTC()

	items := []DynamoDBItem{
		{PK: d.pk, SK: latestSK, Data: string(data), Timestamp: now.Format(time.RFC3339)},
		{
			PK:        d.pk,
			SK:        "DAY#" + now.Format(stats.DateLayout),
			Data:      string(data),
			Timestamp: now.Format(time.RFC3339),
			TTL:       now.Add(historyTTL).Unix(),
		},
	}
	for _, item := range items {
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(d.table),
			Item:      av,
		})
		if err != nil {
			return fmt.Errorf("putting item to DynamoDB: %w", err)
		}
	}
	return nil
}

func (d *DynamoStore) Load(ctx context.Context) (stats.Statistics, error) {
	return d.get(ctx, latestSK)
}

// LoadDay returns the last snapshot saved on the given UTC day.
func (d *DynamoStore) LoadDay(ctx context.Context, day time.Time) (stats.Statistics, error) {
	return d.get(ctx, "DAY#"+day.UTC().Format(stats.DateLayout))
}

func (d *DynamoStore) get(ctx context.Context, sk string) (stats.Statistics, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: d.pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return stats.Statistics{}, fmt.Errorf("getting item from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return stats.Statistics{}, stats.ErrNoSnapshot
	}

	var item DynamoDBItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return stats.Statistics{}, fmt.Errorf("unmarshaling item: %w", err)
	}
	var st stats.Statistics
	if err := json.Unmarshal([]byte(item.Data), &st); err != nil {
		return stats.Statistics{}, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return st, nil
}
