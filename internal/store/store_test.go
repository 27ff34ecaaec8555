package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
}

func itemKey(pk, sk types.AttributeValue) string {
	return pk.(*types.AttributeValueMemberS).Value + "|" + sk.(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.items == nil {
		f.items = make(map[string]map[string]types.AttributeValue)
	}
	f.items[itemKey(in.Item["PK"], in.Item["SK"])] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key["PK"], in.Key["SK"])]}, nil
}

func sampleBatch() *Batch {
	return &Batch{
		ID:         "abc123",
		Files:      []string{"a.png", "b.jpg"},
		Outputs:    2,
		Bytes:      2048,
		Plan:       `[{"op":"resize","height":224,"width":224}]`,
		ArchiveKey: "batches/abc123/processed_abc123.zip",
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDynamoStoreRoundTrip(t *testing.T) {
	fake := &fakeDynamo{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &DynamoStore{client: fake, tableName: "prism-batches", now: func() time.Time { return now }}
	ctx := context.Background()

	if err := s.PutBatch(ctx, sampleBatch()); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	item := fake.items["BATCH#abc123|META"]
	if item == nil {
		t.Fatalf("no item under BATCH#abc123, have %v", fake.items)
	}
	exp, ok := item["expiresAt"].(*types.AttributeValueMemberN)
	if !ok {
		t.Fatalf("expiresAt = %T", item["expiresAt"])
	}
	if want := "1772452800"; exp.Value != want {
		t.Errorf("expiresAt = %s, want %s", exp.Value, want)
	}

	got, err := s.GetBatch(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	want := sampleBatch()
	if got.ID != want.ID || got.Outputs != want.Outputs || got.Bytes != want.Bytes ||
		got.Plan != want.Plan || got.ArchiveKey != want.ArchiveKey || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("GetBatch = %+v, want %+v", got, want)
	}
	if len(got.Files) != 2 || got.Files[1] != "b.jpg" {
		t.Errorf("files = %v", got.Files)
	}
}

func TestDynamoStoreMissing(t *testing.T) {
	s := &DynamoStore{client: &fakeDynamo{}, tableName: "t", now: time.Now}
	got, err := s.GetBatch(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("GetBatch = %v, %v, want nil, nil", got, err)
	}
}

func TestDynamoStoreErrors(t *testing.T) {
	s := &DynamoStore{client: &fakeDynamo{err: errors.New("throttled")}, tableName: "t", now: time.Now}
	ctx := context.Background()

	if err := s.PutBatch(ctx, sampleBatch()); err == nil || !strings.Contains(err.Error(), "PK=BATCH#abc123") {
		t.Errorf("PutBatch err = %v", err)
	}
	if _, err := s.GetBatch(ctx, "abc123"); err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Errorf("GetBatch err = %v", err)
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	b := sampleBatch()
	if err := m.PutBatch(ctx, b); err != nil {
		t.Fatal(err)
	}
	b.Files[0] = "changed.png"

	got, err := m.GetBatch(ctx, "abc123")
	if err != nil || got == nil {
		t.Fatalf("GetBatch = %v, %v", got, err)
	}
	if got.Files[0] != "a.png" {
		t.Errorf("stored record aliased caller slice: %v", got.Files)
	}
	if missing, _ := m.GetBatch(ctx, "other"); missing != nil {
		t.Errorf("unknown batch = %+v", missing)
	}
}
