package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mackka2k/tg-news-listener/internal/domain"
	"github.com/mackka2k/tg-news-listener/internal/repository"
)

type fakeDynamo struct {
	getOut      map[string]*dynamodb.GetItemOutput
	getErr      error
	putErr      error
	updateOut   *dynamodb.UpdateItemOutput
	updateErr   error
	txErr       error
	describeOut *dynamodb.DescribeTableOutput
	describeErr error

	getInputs    []*dynamodb.GetItemInput
	putInputs    []*dynamodb.PutItemInput
	lastUpdateIn *dynamodb.UpdateItemInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func pkOf(k map[string]types.AttributeValue) string {
	return k["PK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getInputs = append(f.getInputs, in)
	if f.getErr != nil {
		return nil, f.getErr
	}
	if out, ok := f.getOut[pkOf(in.Key)]; ok {
		return out, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, in)
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return f.updateOut, f.updateErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return f.describeOut, f.describeErr
}

func mustNewStore(t *testing.T, db *fakeDynamo) *Store {
	t.Helper()
	s, err := New(db, "test-table", 72*time.Hour, zap.NewNop())
	require.NoError(t, err)
	return s
}

func countItem(n string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"count": &types.AttributeValueMemberN{Value: n}}
}

var fp = domain.Fingerprint{SourceID: "chan", MessageID: "42"}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t", 0, zap.NewNop())
	assert.Error(t, err)

	_, err = New(&fakeDynamo{}, " ", 0, zap.NewNop())
	assert.Error(t, err)
}

func TestFingerprintPK_Injective(t *testing.T) {
	a := domain.Fingerprint{SourceID: "news#1", MessageID: "2"}
	b := domain.Fingerprint{SourceID: "news", MessageID: "1#2"}

	assert.NotEqual(t, fingerprintPK(a), fingerprintPK(b))
	assert.Equal(t, "FP#6:news#1#2", fingerprintPK(a))
	assert.Equal(t, "FP#4:news#1#2", fingerprintPK(b))
}

func TestHasSeen_HashInIdentityDoesNotCollide(t *testing.T) {
	recorded := domain.Fingerprint{SourceID: "news#1", MessageID: "2"}
	db := &fakeDynamo{getOut: map[string]*dynamodb.GetItemOutput{
		fingerprintPK(recorded): {Item: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: fingerprintPK(recorded)}}},
	}}
	s := mustNewStore(t, db)

	seen, err := s.HasSeen(context.Background(), recorded)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.HasSeen(context.Background(), domain.Fingerprint{SourceID: "news", MessageID: "1#2"})
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestHasSeen(t *testing.T) {
	db := &fakeDynamo{getOut: map[string]*dynamodb.GetItemOutput{
		"FP#4:chan#42": {Item: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "FP#4:chan#42"}}},
	}}
	s := mustNewStore(t, db)

	seen, err := s.HasSeen(context.Background(), fp)
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, aws.ToBool(db.getInputs[0].ConsistentRead))

	seen, err = s.HasSeen(context.Background(), domain.Fingerprint{SourceID: "chan", MessageID: "43"})
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestHasSeen_Error(t *testing.T) {
	s := mustNewStore(t, &fakeDynamo{getErr: errors.New("timeout")})

	_, err := s.HasSeen(context.Background(), fp)

	assert.ErrorIs(t, err, repository.ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "HasSeen")
}

func TestRecord_WritesTransaction(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(context.Background(), fp, "hello", at))

	require.NotNil(t, db.lastTxInput)
	items := db.lastTxInput.TransactItems
	require.Len(t, items, 2)

	put := items[0].Put
	require.NotNil(t, put)
	assert.Equal(t, "attribute_not_exists(PK)", aws.ToString(put.ConditionExpression))
	assert.Equal(t, "FP#4:chan#42", pkOf(put.Item))
	assert.Equal(t, "hello", put.Item["text"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "1714824000", put.Item["ttl"].(*types.AttributeValueMemberN).Value)

	update := items[1].Update
	require.NotNil(t, update)
	assert.Equal(t, "STATS", pkOf(update.Key))
	assert.Equal(t, "ADD #total :one", aws.ToString(update.UpdateExpression))
}

func TestRecord_AlreadyRecordedIsNoop(t *testing.T) {
	db := &fakeDynamo{txErr: &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}}
	s := mustNewStore(t, db)

	assert.NoError(t, s.Record(context.Background(), fp, "hello", time.Now()))
}

func TestRecord_OtherCancellationFails(t *testing.T) {
	db := &fakeDynamo{txErr: &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ThrottlingError")},
		},
	}}
	s := mustNewStore(t, db)

	err := s.Record(context.Background(), fp, "hello", time.Now())

	assert.ErrorIs(t, err, repository.ErrStorageUnavailable)
}

func TestRecord_InvalidFingerprint(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)

	assert.Error(t, s.Record(context.Background(), domain.Fingerprint{MessageID: "1"}, "x", time.Now()))
	assert.Nil(t, db.lastTxInput)
}

func TestIncrementIfBelow_Success(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: countItem("3")}}
	s := mustNewStore(t, db)

	count, err := s.IncrementIfBelow(context.Background(), "2024-05-01", 5)

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	in := db.lastUpdateIn
	assert.Equal(t, "QUOTA#2024-05-01", pkOf(in.Key))
	assert.Equal(t, "attribute_not_exists(#count) OR #count < :limit", aws.ToString(in.ConditionExpression))
	assert.Equal(t, "5", in.ExpressionAttributeValues[":limit"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
}

func TestIncrementIfBelow_LimitReached(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
		Item:    countItem("5"),
	}}
	s := mustNewStore(t, db)

	count, err := s.IncrementIfBelow(context.Background(), "2024-05-01", 5)

	assert.ErrorIs(t, err, repository.ErrLimitReached)
	assert.Equal(t, 5, count)
}

func TestIncrementIfBelow_Unavailable(t *testing.T) {
	s := mustNewStore(t, &fakeDynamo{updateErr: errors.New("connection reset")})

	_, err := s.IncrementIfBelow(context.Background(), "2024-05-01", 5)

	assert.ErrorIs(t, err, repository.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, repository.ErrLimitReached)
}

func TestDecrement(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: countItem("2")}}
	s := mustNewStore(t, db)

	count, err := s.Decrement(context.Background(), "2024-05-01")

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "#count > :zero", aws.ToString(db.lastUpdateIn.ConditionExpression))

	db.updateErr = &types.ConditionalCheckFailedException{}
	count, err = s.Decrement(context.Background(), "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCount(t *testing.T) {
	db := &fakeDynamo{getOut: map[string]*dynamodb.GetItemOutput{
		"QUOTA#2024-05-01": {Item: countItem("7")},
	}}
	s := mustNewStore(t, db)

	count, err := s.Count(context.Background(), "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	count, err = s.Count(context.Background(), "2024-05-02")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTotalEmissions(t *testing.T) {
	db := &fakeDynamo{getOut: map[string]*dynamodb.GetItemOutput{
		"STATS": {Item: map[string]types.AttributeValue{"total": &types.AttributeValueMemberN{Value: "1234"}}},
	}}
	s := mustNewStore(t, db)

	total, err := s.TotalEmissions(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(1234), total)
}

func TestTotalEmissions_Malformed(t *testing.T) {
	db := &fakeDynamo{getOut: map[string]*dynamodb.GetItemOutput{
		"STATS": {Item: map[string]types.AttributeValue{"total": &types.AttributeValueMemberS{Value: "x"}}},
	}}
	s := mustNewStore(t, db)

	_, err := s.TotalEmissions(context.Background())

	assert.Error(t, err)
}

func TestPing(t *testing.T) {
	db := &fakeDynamo{describeOut: &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableStatus: types.TableStatusActive},
	}}
	s := mustNewStore(t, db)
	assert.NoError(t, s.Ping(context.Background()))

	db.describeOut.Table.TableStatus = types.TableStatusDeleting
	assert.ErrorIs(t, s.Ping(context.Background()), repository.ErrStorageUnavailable)

	db.describeErr = errors.New("no route")
	assert.ErrorIs(t, s.Ping(context.Background()), repository.ErrStorageUnavailable)
}

func TestInitSchema_FromScratch(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)

	require.NoError(t, s.InitSchema(context.Background()))

	// v1 marker, v2 total counter, v2 marker
	require.Len(t, db.putInputs, 3)
	assert.Equal(t, "SCHEMA", pkOf(db.putInputs[0].Item))
	assert.Equal(t, "1", db.putInputs[0].Item["version"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "STATS", pkOf(db.putInputs[1].Item))
	assert.Equal(t, "2", db.putInputs[2].Item["version"].(*types.AttributeValueMemberN).Value)
}

func TestInitSchema_UpToDate(t *testing.T) {
	db := &fakeDynamo{getOut: map[string]*dynamodb.GetItemOutput{
		"SCHEMA": {Item: map[string]types.AttributeValue{"version": &types.AttributeValueMemberN{Value: "2"}}},
	}}
	s := mustNewStore(t, db)

	require.NoError(t, s.InitSchema(context.Background()))

	assert.Empty(t, db.putInputs)
	v, err := s.CurrentSchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, repository.SchemaVersion, v)
}

func TestInitSchema_NewerThanSupported(t *testing.T) {
	db := &fakeDynamo{getOut: map[string]*dynamodb.GetItemOutput{
		"SCHEMA": {Item: map[string]types.AttributeValue{"version": &types.AttributeValueMemberN{Value: "9"}}},
	}}
	s := mustNewStore(t, db)

	assert.Error(t, s.InitSchema(context.Background()))
}

func TestInitSchema_CounterAlreadyExists(t *testing.T) {
	db := &fakeDynamo{getOut: map[string]*dynamodb.GetItemOutput{
		"SCHEMA": {Item: map[string]types.AttributeValue{"version": &types.AttributeValueMemberN{Value: "1"}}},
	}, putErr: &types.ConditionalCheckFailedException{}}
	s := mustNewStore(t, db)

	assert.NoError(t, s.InitSchema(context.Background()))
}
