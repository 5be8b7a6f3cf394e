package store

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
	"github.com/google/uuid"
	"github.com/kiranshivaraju/pavi/pkg/models"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// dynamoJob is the item layout. ttl is the table's TTL attribute in epoch
// seconds. version is bumped by every UpdateJob write.
type dynamoJob struct {
	JobID              string     `dynamodbav:"job_id"`
	Status             string     `dynamodbav:"status"`
	Stage              string     `dynamodbav:"stage"`
	CreatedAt          time.Time  `dynamodbav:"created_at"`
	CompletedAt        *time.Time `dynamodbav:"completed_at,omitempty"`
	InputCount         int        `dynamodbav:"input_count"`
	SequencesProcessed int        `dynamodbav:"sequences_processed"`
	ExecutionHandle    string     `dynamodbav:"execution_handle,omitempty"`
	ResultLocation     string     `dynamodbav:"result_location,omitempty"`
	ErrorMessage       string     `dynamodbav:"error_message,omitempty"`
	TTL                int64      `dynamodbav:"ttl"`
	Version            int64      `dynamodbav:"version"`
}

// DynamoDBStore implements Store on a DynamoDB table keyed by job_id.
type DynamoDBStore struct {
	client DynamoDBAPI
	table  string
	now    func() time.Time
}

// NewDynamoDBClient builds a DynamoDB client. A non-empty endpoint targets
// DynamoDB Local.
func NewDynamoDBClient(awsCfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func NewDynamoDBStore(client DynamoDBAPI, table string) *DynamoDBStore {
	return &DynamoDBStore{client: client, table: table, now: time.Now}
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err != nil {
		return unavailable("describe table", err)
	}
	return nil
}

func (s *DynamoDBStore) PutJob(ctx context.Context, job *models.JobRecord) error {
	item, err := attributevalue.MarshalMap(toDynamoJob(job, 1))
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return unavailable("put job", err)
	}
	return nil
}

func (s *DynamoDBStore) GetJob(ctx context.Context, id uuid.UUID) (*models.JobRecord, error) {
	return s.read(ctx, id)
}

// UpdateJob is an optimistic read-modify-write. The write is conditioned on
// the version that was read, so any concurrent write in between makes it
// fail, re-read and re-apply.
func (s *DynamoDBStore) UpdateJob(ctx context.Context, id uuid.UUID, opts ...JobUpdateOption) (*models.JobRecord, error) {
	params := newUpdateParams(opts)

	for range maxWatchRetries {
		job, version, err := s.readVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := params.apply(job); err != nil {
			return nil, err
		}

		item, err := attributevalue.MarshalMap(toDynamoJob(job, version+1))
		if err != nil {
			return nil, fmt.Errorf("encode job: %w", err)
		}
		expr, err := expression.NewBuilder().WithCondition(versionIs(version)).Build()
		if err != nil {
			return nil, fmt.Errorf("build condition: %w", err)
		}

		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 aws.String(s.table),
			Item:                      item,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			continue
		}
		if err != nil {
			return nil, unavailable("update job", err)
		}
		return job, nil
	}
	return nil, unavailable("update job", fmt.Errorf("contention on %s", id))
}

// versionIs matches items at version v. Items written before versioning have
// no attribute and count as version 0.
func versionIs(v int64) expression.ConditionBuilder {
	cond := expression.Name("version").Equal(expression.Value(v))
	if v == 0 {
		cond = expression.Name("version").AttributeNotExists().Or(cond)
	}
	return cond
}

// PurgeExpired is a no-op: DynamoDB TTL deletes items after the ttl attribute passes.
func (s *DynamoDBStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (s *DynamoDBStore) Close() error {
	return nil
}

func (s *DynamoDBStore) read(ctx context.Context, id uuid.UUID) (*models.JobRecord, error) {
	job, _, err := s.readVersion(ctx, id)
	return job, err
}

func (s *DynamoDBStore) readVersion(ctx context.Context, id uuid.UUID) (*models.JobRecord, int64, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"job_id": id.String()})
	if err != nil {
		return nil, 0, fmt.Errorf("encode key: %w", err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, unavailable("get job", err)
	}
	if len(out.Item) == 0 {
		return nil, 0, ErrNotFound
	}

	var item dynamoJob
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, 0, fmt.Errorf("decode job %s: %w", id, err)
	}
	job, err := item.record()
	if err != nil {
		return nil, 0, err
	}
	// TTL deletion is lazy, so expired items can still be returned by GetItem.
	if job.Expired(s.now()) {
		return nil, 0, ErrNotFound
	}
	return job, item.Version, nil
}

func toDynamoJob(j *models.JobRecord, version int64) dynamoJob {
	return dynamoJob{
		JobID:              j.ID.String(),
		Status:             string(j.Status),
		Stage:              string(j.Stage),
		CreatedAt:          j.CreatedAt.UTC(),
		CompletedAt:        j.CompletedAt,
		InputCount:         j.InputCount,
		SequencesProcessed: j.SequencesProcessed,
		ExecutionHandle:    j.ExecutionHandle,
		ResultLocation:     j.ResultLocation,
		ErrorMessage:       j.ErrorMessage,
		TTL:                j.ExpiresAt.Unix(),
		Version:            version,
	}
}

func (d dynamoJob) record() (*models.JobRecord, error) {
	id, err := uuid.Parse(d.JobID)
	if err != nil {
		return nil, fmt.Errorf("decode job id %q: %w", d.JobID, err)
	}
	return &models.JobRecord{
		ID:                 id,
		Status:             models.JobStatus(d.Status),
		Stage:              models.JobStage(d.Stage),
		CreatedAt:          d.CreatedAt.UTC(),
		CompletedAt:        d.CompletedAt,
		InputCount:         d.InputCount,
		SequencesProcessed: d.SequencesProcessed,
		ExecutionHandle:    d.ExecutionHandle,
		ResultLocation:     d.ResultLocation,
		ErrorMessage:       d.ErrorMessage,
		ExpiresAt:          time.Unix(d.TTL, 0).UTC(),
	}, nil
}

var _ Store = (*DynamoDBStore)(nil)
