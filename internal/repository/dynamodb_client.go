package repository

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

	"group-adder/internal/domain"
)

const (
	skMeta          = "META#"
	skPrefixOutcome = "OUTCOME#"
	ttlDuration     = 30 * 24 * time.Hour // 30-day TTL
	// maxTransactItems is the DynamoDB limit on items per TransactWriteItems call.
	maxTransactItems = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding archived batch reports.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// batchPK returns the DynamoDB partition key for a batch.
func batchPK(batchID string) string {
	return "BATCH#" + batchID
}

// outcomeSK orders outcome items by their position in the report.
func outcomeSK(seq int) string {
	return fmt.Sprintf("%s%05d", skPrefixOutcome, seq)
}

// ttlValue returns a Unix timestamp 30 days after from.
func ttlValue(from time.Time) int64 {
	if from.IsZero() {
		from = time.Now()
	}
	return from.Add(ttlDuration).Unix()
}

// SaveBatch writes the report summary and one item per outcome. Items are
// written in transactions of at most 100; the summary goes in the first one
// and is conditional so a batch id is never overwritten.
func (c *Client) SaveBatch(ctx context.Context, report domain.Report) error {
	if strings.TrimSpace(report.BatchID) == "" {
		return errors.New("repository: SaveBatch: batch id is required")
	}
	pk := batchPK(report.BatchID)
	ttl := ttlValue(report.FinishedAt)

	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                metaItem(pk, report, ttl),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		},
	}}
	seq := 0
	for _, records := range [][]domain.OutcomeRecord{report.Successes, report.Failures} {
		for _, rec := range records {
			writes = append(writes, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      outcomeItem(pk, seq, rec, ttl),
				},
			})
			seq++
		}
	}

	for start := 0; start < len(writes); start += maxTransactItems {
		end := min(start+maxTransactItems, len(writes))
		_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: writes[start:end],
		})
		if err != nil {
			return fmt.Errorf("repository: SaveBatch %s items %d-%d: %w", report.BatchID, start, end-1, err)
		}
	}
	return nil
}

// GetBatch reassembles an archived report. It returns domain.ErrNotFound when
// the batch has no summary item.
func (c *Client) GetBatch(ctx context.Context, batchID string) (domain.Report, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: batchPK(batchID)},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	var (
		report  domain.Report
		hasMeta bool
	)
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return domain.Report{}, fmt.Errorf("repository: GetBatch query: %w", err)
		}
		for _, item := range out.Items {
			sk, err := strAttr(item, "SK")
			if err != nil {
				return domain.Report{}, fmt.Errorf("repository: GetBatch: %w", err)
			}
			switch {
			case sk == skMeta:
				if err := applyMeta(&report, item); err != nil {
					return domain.Report{}, fmt.Errorf("repository: GetBatch meta: %w", err)
				}
				hasMeta = true
			case strings.HasPrefix(sk, skPrefixOutcome):
				rec, err := itemToOutcome(item)
				if err != nil {
					return domain.Report{}, fmt.Errorf("repository: GetBatch %s: %w", sk, err)
				}
				report.Add(rec)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	if !hasMeta {
		return domain.Report{}, fmt.Errorf("repository: batch %s: %w", batchID, domain.ErrNotFound)
	}
	return report, nil
}

func metaItem(pk string, r domain.Report, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: pk},
		"SK":              &types.AttributeValueMemberS{Value: skMeta},
		"batchId":         &types.AttributeValueMemberS{Value: r.BatchID},
		"destinationId":   &types.AttributeValueMemberN{Value: strconv.FormatInt(r.DestinationID, 10)},
		"operatorContact": &types.AttributeValueMemberS{Value: r.OperatorContact},
		"total":           &types.AttributeValueMemberN{Value: strconv.Itoa(r.Total)},
		"successes":       &types.AttributeValueMemberN{Value: strconv.Itoa(len(r.Successes))},
		"failures":        &types.AttributeValueMemberN{Value: strconv.Itoa(len(r.Failures))},
		"startedAt":       &types.AttributeValueMemberS{Value: formatTime(r.StartedAt)},
		"finishedAt":      &types.AttributeValueMemberS{Value: formatTime(r.FinishedAt)},
		"ttl":             &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func outcomeItem(pk string, seq int, rec domain.OutcomeRecord, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: pk},
		"SK":       &types.AttributeValueMemberS{Value: outcomeSK(seq)},
		"handle":   &types.AttributeValueMemberS{Value: string(rec.Handle)},
		"category": &types.AttributeValueMemberS{Value: string(rec.Category)},
		"detail":   &types.AttributeValueMemberS{Value: rec.Detail},
		"at":       &types.AttributeValueMemberS{Value: formatTime(rec.At)},
		"ttl":      &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func applyMeta(r *domain.Report, item map[string]types.AttributeValue) error {
	var err error
	if r.BatchID, err = strAttr(item, "batchId"); err != nil {
		return err
	}
	dest, err := intAttr(item, "destinationId")
	if err != nil {
		return err
	}
	r.DestinationID = int64(dest)
	if r.Total, err = intAttr(item, "total"); err != nil {
		return err
	}
	r.OperatorContact, _ = strAttr(item, "operatorContact") // allow empty
	r.StartedAt = timeAttr(item, "startedAt")
	r.FinishedAt = timeAttr(item, "finishedAt")
	return nil
}

// itemToOutcome converts a DynamoDB attribute map to an OutcomeRecord.
func itemToOutcome(item map[string]types.AttributeValue) (domain.OutcomeRecord, error) {
	handle, err := strAttr(item, "handle")
	if err != nil {
		return domain.OutcomeRecord{}, err
	}
	raw, err := strAttr(item, "category")
	if err != nil {
		return domain.OutcomeRecord{}, err
	}
	cat, ok := domain.ParseCategory(raw)
	if !ok {
		return domain.OutcomeRecord{}, fmt.Errorf("repository: unknown category %q", raw)
	}
	detail, _ := strAttr(item, "detail") // allow empty
	return domain.OutcomeRecord{
		Handle:   domain.TargetHandle(handle),
		Category: cat,
		Detail:   detail,
		At:       timeAttr(item, "at"),
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timeAttr(item map[string]types.AttributeValue, key string) time.Time {
	s, err := strAttr(item, key)
	if err != nil || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
