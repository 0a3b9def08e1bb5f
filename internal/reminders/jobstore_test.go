package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// fakeDynamo is an in-memory dynamoAPI honoring the store's conditional
// writes.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(key map[string]types.AttributeValue) string {
	if v, ok := key["jobId"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	id := itemKey(in.Item)
	if aws.ToString(in.ConditionExpression) == "attribute_not_exists(jobId)" {
		if _, exists := f.items[id]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	id := itemKey(in.Key)
	item, exists := f.items[id]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	for placeholder, attr := range map[string]string{":status": "status", ":error": "errorMessage", ":updated": "updatedAt"} {
		if v, ok := in.ExpressionAttributeValues[placeholder]; ok {
			item[attr] = v
		}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item, exists := f.items[itemKey(in.Key)]
	if !exists {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func sampleJob() *JobRecord {
	startsAt := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	return &JobRecord{
		JobID:         JobID(uuid.New(), startsAt),
		AppointmentID: uuid.NewString(),
		PatientID:     uuid.NewString(),
		StartsAt:      startsAt,
		RemindAt:      startsAt.Add(-24 * time.Hour),
	}
}

func TestPutPendingIsIdempotent(t *testing.T) {
	store := NewJobStore(newFakeDynamo(), "reminder_jobs", nil)
	job := sampleJob()

	if err := store.PutPending(context.Background(), job); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := store.PutPending(context.Background(), sampleJobWithID(job.JobID)); !errors.Is(err, ErrJobExists) {
		t.Errorf("err = %v, want ErrJobExists on replay", err)
	}
}

func sampleJobWithID(id string) *JobRecord {
	job := sampleJob()
	job.JobID = id
	return job
}

func TestJobRoundTrip(t *testing.T) {
	store := NewJobStore(newFakeDynamo(), "reminder_jobs", nil)
	job := sampleJob()

	if err := store.PutPending(context.Background(), job); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.GetJob(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != JobStatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if !got.RemindAt.Equal(job.RemindAt) {
		t.Errorf("remindAt = %v, want %v", got.RemindAt, job.RemindAt)
	}

	if err := store.MarkSent(context.Background(), job.JobID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	got, err = store.GetJob(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get after mark: %v", err)
	}
	if got.Status != JobStatusSent {
		t.Errorf("status = %q, want sent", got.Status)
	}
}

func TestGetJobMissing(t *testing.T) {
	store := NewJobStore(newFakeDynamo(), "reminder_jobs", nil)

	if _, err := store.GetJob(context.Background(), "reminder-missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestMarkMissingJob(t *testing.T) {
	store := NewJobStore(newFakeDynamo(), "reminder_jobs", nil)

	if err := store.MarkFailed(context.Background(), "reminder-missing", "boom"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}
