package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

// Job records expire two days after their remind time.
const jobTTL = 48 * time.Hour

// JobStatus represents the lifecycle of a reminder job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusSent    JobStatus = "sent"
	JobStatusSkipped JobStatus = "skipped"
	JobStatusFailed  JobStatus = "failed"
)

var (
	// ErrJobNotFound indicates the requested job ID does not exist.
	ErrJobNotFound = errors.New("reminders: job not found")
	// ErrJobExists indicates the job was already scheduled.
	ErrJobExists = errors.New("reminders: job already scheduled")
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// JobRecord captures the persisted state of one appointment reminder.
// StartsAt pins the appointment time the job was scheduled for; a
// reschedule produces a new job and the stale one is skipped at send time.
type JobRecord struct {
	JobID         string    `dynamodbav:"jobId" json:"jobId"`
	AppointmentID string    `dynamodbav:"appointmentId" json:"appointmentId"`
	PatientID     string    `dynamodbav:"patientId" json:"patientId"`
	StartsAt      time.Time `dynamodbav:"startsAt" json:"startsAt"`
	RemindAt      time.Time `dynamodbav:"remindAt" json:"remindAt"`
	Status        JobStatus `dynamodbav:"status" json:"status"`
	ErrorMessage  string    `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt     string    `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt     string    `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt     int64     `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// JobStore persists reminder jobs to DynamoDB.
type JobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewJobStore builds a store backed by the provided DynamoDB client.
func NewJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *JobStore {
	if client == nil {
		panic("reminders: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("reminders: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JobStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// PutPending inserts a new pending job record. The conditional write makes
// scheduling idempotent: a replayed booking event returns ErrJobExists.
func (s *JobStore) PutPending(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("reminders: job cannot be nil")
	}
	now := time.Now().UTC()
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	if job.ExpiresAt == 0 {
		job.ExpiresAt = job.RemindAt.Add(jobTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("reminders: failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrJobExists
		}
		return fmt.Errorf("reminders: failed to persist job: %w", err)
	}
	return nil
}

// MarkSent records a delivered reminder.
func (s *JobStore) MarkSent(ctx context.Context, jobID string) error {
	return s.setStatus(ctx, jobID, JobStatusSent, "")
}

// MarkSkipped records a job dropped as stale (appointment cancelled or moved).
func (s *JobStore) MarkSkipped(ctx context.Context, jobID string, reason string) error {
	return s.setStatus(ctx, jobID, JobStatusSkipped, reason)
}

// MarkFailed records a delivery failure.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	return s.setStatus(ctx, jobID, JobStatusFailed, errMsg)
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errors.New("reminders: jobID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reminders: failed to fetch job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}

	var job JobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("reminders: failed to decode job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) setStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error {
	if jobID == "" {
		return errors.New("reminders: jobID required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression: aws.String("SET #status = :status, #error = :error, #updated = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(status)},
			":error":   &types.AttributeValueMemberS{Value: errMsg},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(jobId)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrJobNotFound
		}
		return fmt.Errorf("reminders: failed to update job %s: %w", jobID, err)
	}
	return nil
}
