// Package dynamodb provides a DynamoDB-backed fitting store using a
// single-table layout. Outgoing fittings live under the source element's
// partition; a reverse index mirrors them under the target element for
// incoming queries.
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

	"github.com/mcfletch/fitting/domain/core/aggregates"
	"github.com/mcfletch/fitting/domain/core/entities"
	"github.com/mcfletch/fitting/domain/core/valueobjects"
	pkgerrors "github.com/mcfletch/fitting/pkg/errors"
	"github.com/mcfletch/fitting/pkg/utils"
)

const (
	// maxTransactItems is the DynamoDB limit on items per TransactWriteItems call
	maxTransactItems = 100

	// maxBatchWriteItems is the DynamoDB limit on requests per BatchWriteItem call
	maxBatchWriteItems = 25

	// maxBatchAttempts bounds resubmission of unprocessed batch requests
	maxBatchAttempts = 3
)

// FittingStore is the DynamoDB implementation of the fitting repository.
// Replace operations are all-or-nothing within the transaction limit; bulk
// deletes proceed in batches and are not atomic across batches.
type FittingStore struct {
	client    *dynamodb.Client
	tableName string
	indexName string
	logger    *zap.Logger
}

// NewFittingStore creates a DynamoDB-backed fitting store. indexName is the
// reverse GSI keyed by GSI1PK/GSI1SK; it must project all attributes.
func NewFittingStore(client *dynamodb.Client, tableName, indexName string, logger *zap.Logger) *FittingStore {
	return &FittingStore{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		logger:    logger,
	}
}

// fittingItem represents the DynamoDB item structure for a fitting
type fittingItem struct {
	PK          string `dynamodbav:"PK"`     // ELEM#<source_id>
	SK          string `dynamodbav:"SK"`     // FIT#<type>#<target_id>
	GSI1PK      string `dynamodbav:"GSI1PK"` // ELEM#<target_id>
	GSI1SK      string `dynamodbav:"GSI1SK"` // FIT#<type>#<source_id>
	EntityType  string `dynamodbav:"EntityType"`
	FittingID   string `dynamodbav:"FittingID"`
	SourceID    string `dynamodbav:"SourceID"`
	TargetID    string `dynamodbav:"TargetID"`
	FittingType int64  `dynamodbav:"FittingType"`
	Name        string `dynamodbav:"Name,omitempty"`
	CreatedAt   string `dynamodbav:"CreatedAt"`
}

func newFittingItem(fitting *entities.Fitting) fittingItem {
	return fittingItem{
		PK:          elementKey(fitting.SourceID()),
		SK:          fittingSK(fitting.Type(), fitting.TargetID()),
		GSI1PK:      elementKey(fitting.TargetID()),
		GSI1SK:      fittingSK(fitting.Type(), fitting.SourceID()),
		EntityType:  "FITTING",
		FittingID:   fitting.ID(),
		SourceID:    fitting.SourceID().String(),
		TargetID:    fitting.TargetID().String(),
		FittingType: fitting.Type().Value(),
		Name:        fitting.Name(),
		CreatedAt:   utils.FormatRFC3339(fitting.CreatedAt()),
	}
}

func (i fittingItem) toEntity() (*entities.Fitting, error) {
	sourceID, err := valueobjects.NewElementID(i.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read fitting %s: %w", i.FittingID, err)
	}
	targetID, err := valueobjects.NewElementID(i.TargetID)
	if err != nil {
		return nil, fmt.Errorf("failed to read fitting %s: %w", i.FittingID, err)
	}
	created, err := utils.ParseRFC3339(i.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read fitting %s: %w", i.FittingID, err)
	}
	return entities.ReconstructFitting(i.FittingID, sourceID, targetID, valueobjects.NewFittingType(i.FittingType), i.Name, created), nil
}

func elementKey(id valueobjects.ElementID) string {
	return "ELEM#" + id.String()
}

// fittingSK encodes type before the far element so that a begins_with on
// "FIT#<type>#" selects one type and "FIT#" selects all of them. Element
// identifiers may contain any characters; they are never parsed back out
// of the key.
func fittingSK(t valueobjects.FittingType, end valueobjects.ElementID) string {
	return fmt.Sprintf("FIT#%d#%s", t.Value(), end.String())
}

func typePrefix(t valueobjects.FittingType) string {
	if t.IsAny() {
		return "FIT#"
	}
	return fmt.Sprintf("FIT#%d#", t.Value())
}

func fittingKey(f *entities.Fitting) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: elementKey(f.SourceID())},
		"SK": &types.AttributeValueMemberS{Value: fittingSK(f.Type(), f.TargetID())},
	}
}

// Save persists a new fitting, rejecting a duplicate triple
func (s *FittingStore) Save(ctx context.Context, fitting *entities.Fitting) error {
	av, err := attributevalue.MarshalMap(newFittingItem(fitting))
	if err != nil {
		return fmt.Errorf("failed to marshal fitting: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return pkgerrors.NewDuplicateFittingError(
				fitting.SourceID().String(),
				fitting.TargetID().String(),
				fitting.Type().Value(),
			)
		}
		return fmt.Errorf("failed to save fitting: %w", err)
	}

	s.logger.Debug("Stored fitting",
		zap.String("source", fitting.SourceID().String()),
		zap.String("target", fitting.TargetID().String()),
		zap.Int64("type", fitting.Type().Value()),
	)
	return nil
}

// Get retrieves the fitting with the exact triple
func (s *FittingStore) Get(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) (*entities.Fitting, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: elementKey(sourceID)},
			"SK": &types.AttributeValueMemberS{Value: fittingSK(fittingType, targetID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get fitting: %w", err)
	}
	if len(result.Item) == 0 {
		return nil, pkgerrors.NewFittingNotFoundError(sourceID.String(), targetID.String(), fittingType.Value())
	}

	var item fittingItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fitting: %w", err)
	}
	return item.toEntity()
}

// Delete removes every fitting from source to target whose type matches.
// Returns the removed fittings; an unknown pair removes nothing.
func (s *FittingStore) Delete(ctx context.Context, sourceID, targetID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(elementKey(sourceID)))
	keyEx = keyEx.And(expression.Key("SK").BeginsWith(typePrefix(fittingType)))
	filter := expression.Name("TargetID").Equal(expression.Value(targetID.String()))

	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	removed, err := s.queryFittings(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return removed, nil
	}

	if err := s.batchDelete(ctx, removed); err != nil {
		return nil, err
	}
	return removed, nil
}

// DeleteByElement removes every fitting of the matching type touching the
// element, in both directions. Returns the removed fittings.
func (s *FittingStore) DeleteByElement(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	outgoing, err := s.Sinks(ctx, elementID, fittingType)
	if err != nil {
		return nil, err
	}
	incoming, err := s.Sources(ctx, elementID, fittingType)
	if err != nil {
		return nil, err
	}

	seen := make(map[entities.FittingKey]struct{}, len(outgoing)+len(incoming))
	removed := []*entities.Fitting{}
	for _, f := range append(outgoing, incoming...) {
		if _, dup := seen[f.Key()]; dup {
			continue
		}
		seen[f.Key()] = struct{}{}
		removed = append(removed, f)
	}
	if len(removed) == 0 {
		return removed, nil
	}

	if err := s.batchDelete(ctx, removed); err != nil {
		return nil, err
	}
	return removed, nil
}

// ReplaceSinks reconciles the outgoing fittings of source against the
// desired set in one transaction
func (s *FittingStore) ReplaceSinks(ctx context.Context, sourceID valueobjects.ElementID, fittingType valueobjects.FittingType, desired []*entities.Fitting, clear bool) (*aggregates.ReplacePlan, error) {
	current, err := s.Sinks(ctx, sourceID, fittingType)
	if err != nil {
		return nil, err
	}
	return s.replace(ctx, aggregates.PlanSinkReplacement(current, desired), clear)
}

// ReplaceSources reconciles the incoming fittings of target against the
// desired set in one transaction
func (s *FittingStore) ReplaceSources(ctx context.Context, targetID valueobjects.ElementID, fittingType valueobjects.FittingType, desired []*entities.Fitting, clear bool) (*aggregates.ReplacePlan, error) {
	current, err := s.Sources(ctx, targetID, fittingType)
	if err != nil {
		return nil, err
	}
	return s.replace(ctx, aggregates.PlanSourceReplacement(current, desired), clear)
}

func (s *FittingStore) replace(ctx context.Context, plan *aggregates.ReplacePlan, clear bool) (*aggregates.ReplacePlan, error) {
	if !clear {
		plan.Delete = []*entities.Fitting{}
	}
	if plan.Actions() == 0 {
		return plan, nil
	}
	if plan.Actions() > maxTransactItems {
		return nil, pkgerrors.NewReplaceSetTooLargeError(plan.Actions(), maxTransactItems)
	}

	writes := make([]types.TransactWriteItem, 0, plan.Actions())
	for _, f := range plan.Delete {
		writes = append(writes, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.tableName),
				Key:       fittingKey(f),
			},
		})
	}
	for _, f := range plan.Insert {
		av, err := attributevalue.MarshalMap(newFittingItem(f))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal fitting: %w", err)
		}
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		})
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: writes,
	}); err != nil {
		return nil, pkgerrors.NewTransactionError("fitting replace transaction failed").WithCause(err)
	}

	s.logger.Debug("Replaced fittings",
		zap.Int("inserted", len(plan.Insert)),
		zap.Int("deleted", len(plan.Delete)),
		zap.Int("kept", len(plan.Keep)),
	)
	return plan, nil
}

// UpdateName persists the fitting's current display name
func (s *FittingStore) UpdateName(ctx context.Context, fitting *entities.Fitting) error {
	update := expression.Set(expression.Name("Name"), expression.Value(fitting.Name()))
	condition := expression.AttributeExists(expression.Name("PK"))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(condition).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       fittingKey(fitting),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return pkgerrors.NewFittingNotFoundError(
				fitting.SourceID().String(),
				fitting.TargetID().String(),
				fitting.Type().Value(),
			)
		}
		return fmt.Errorf("failed to update fitting name: %w", err)
	}
	return nil
}

// Sources retrieves the fittings entering the element whose type matches
func (s *FittingStore) Sources(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	keyEx := expression.Key("GSI1PK").Equal(expression.Value(elementKey(elementID)))
	keyEx = keyEx.And(expression.Key("GSI1SK").BeginsWith(typePrefix(fittingType)))

	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	return s.queryFittings(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		IndexName:                 aws.String(s.indexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
}

// Sinks retrieves the fittings leaving the element whose type matches
func (s *FittingStore) Sinks(ctx context.Context, elementID valueobjects.ElementID, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(elementKey(elementID)))
	keyEx = keyEx.And(expression.Key("SK").BeginsWith(typePrefix(fittingType)))

	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	return s.queryFittings(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
}

// List retrieves every fitting whose type matches
func (s *FittingStore) List(ctx context.Context, fittingType valueobjects.FittingType) ([]*entities.Fitting, error) {
	filter := expression.Name("EntityType").Equal(expression.Value("FITTING"))
	if !fittingType.IsAny() {
		filter = filter.And(expression.Name("FittingType").Equal(expression.Value(fittingType.Value())))
	}

	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	fittings := []*entities.Fitting{}
	for {
		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fittings: %w", err)
		}
		for _, raw := range result.Items {
			fitting, err := unmarshalFitting(raw)
			if err != nil {
				return nil, err
			}
			fittings = append(fittings, fitting)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return fittings, nil
}

func (s *FittingStore) queryFittings(ctx context.Context, input *dynamodb.QueryInput) ([]*entities.Fitting, error) {
	fittings := []*entities.Fitting{}
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query fittings: %w", err)
		}
		for _, raw := range result.Items {
			fitting, err := unmarshalFitting(raw)
			if err != nil {
				return nil, err
			}
			fittings = append(fittings, fitting)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return fittings, nil
}

// batchDelete removes the fittings in BatchWriteItem chunks. A failure
// partway through leaves earlier chunks applied; callers treat bulk deletes
// as a cascade, not a transaction.
func (s *FittingStore) batchDelete(ctx context.Context, fittings []*entities.Fitting) error {
	for start := 0; start < len(fittings); start += maxBatchWriteItems {
		end := start + maxBatchWriteItems
		if end > len(fittings) {
			end = len(fittings)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, f := range fittings[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: fittingKey(f)},
			})
		}

		if err := s.writeBatch(ctx, requests); err != nil {
			return err
		}
	}

	s.logger.Debug("Deleted fittings", zap.Int("count", len(fittings)))
	return nil
}

// writeBatch submits one BatchWriteItem call and drains unprocessed
// requests, backing off between resubmissions
func (s *FittingStore) writeBatch(ctx context.Context, requests []types.WriteRequest) error {
	input := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.tableName: requests},
	}

	for attempt := 0; ; attempt++ {
		result, err := s.client.BatchWriteItem(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to batch write fittings: %w", err)
		}

		unprocessed := result.UnprocessedItems[s.tableName]
		if len(unprocessed) == 0 {
			return nil
		}
		if attempt >= maxBatchAttempts {
			return fmt.Errorf("failed to write %d fittings after %d attempts", len(unprocessed), attempt+1)
		}

		time.Sleep(time.Duration(1<<attempt) * 50 * time.Millisecond)
		input.RequestItems = map[string][]types.WriteRequest{s.tableName: unprocessed}
	}
}

func unmarshalFitting(raw map[string]types.AttributeValue) (*entities.Fitting, error) {
	var item fittingItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fitting: %w", err)
	}
	return item.toEntity()
}
