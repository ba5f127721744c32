// Package repository stores the keyword dictionary in a DynamoDB table so it
// can be edited without redeploying. The table is read once at startup.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/keywords"
)

const (
	pkPrefixKeyword = "KW#"
	maxScanPages    = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client wraps a DynamoDB table of keyword entries. Each item is
//
//	PK=KW#{product title}, product, keywords="a, b", position
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

func keywordPK(title string) string {
	return pkPrefixKeyword + title
}

type positioned struct {
	position int
	entry    domain.KeywordEntry
}

// LoadKeywords scans every keyword item and returns the entries ordered by
// position, then title.
func (c *Client) LoadKeywords(ctx context.Context) ([]domain.KeywordEntry, error) {
	var (
		rows  []positioned
		start map[string]types.AttributeValue
	)
	for page := 0; ; page++ {
		if page >= maxScanPages {
			return nil, fmt.Errorf("repository: LoadKeywords: more than %d scan pages", maxScanPages)
		}
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(c.tableName),
			FilterExpression:          aws.String("begins_with(PK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":prefix": &types.AttributeValueMemberS{Value: pkPrefixKeyword}},
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: LoadKeywords scan: %w", err)
		}
		for _, item := range out.Items {
			row, err := itemToKeyword(item)
			if err != nil {
				return nil, fmt.Errorf("repository: LoadKeywords unmarshal: %w", err)
			}
			rows = append(rows, row)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].position != rows[j].position {
			return rows[i].position < rows[j].position
		}
		return rows[i].entry.ProductTitle < rows[j].entry.ProductTitle
	})
	entries := make([]domain.KeywordEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry)
	}
	return entries, nil
}

// PutKeywords writes entries with their slice index as position, replacing
// existing items for the same titles.
func (c *Client) PutKeywords(ctx context.Context, entries []domain.KeywordEntry) error {
	for i, e := range entries {
		if strings.TrimSpace(e.ProductTitle) == "" {
			return fmt.Errorf("repository: PutKeywords: entry %d has empty product title", i)
		}
		_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.tableName),
			Item:      keywordItem(e, i),
		})
		if err != nil {
			return fmt.Errorf("repository: PutKeywords %q: %w", e.ProductTitle, err)
		}
	}
	return nil
}

func keywordItem(e domain.KeywordEntry, position int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: keywordPK(e.ProductTitle)},
		"product":  &types.AttributeValueMemberS{Value: e.ProductTitle},
		"keywords": &types.AttributeValueMemberS{Value: strings.Join(e.Phrases, ", ")},
		"position": &types.AttributeValueMemberN{Value: strconv.Itoa(position)},
	}
}

// itemToKeyword converts a DynamoDB attribute map to a keyword entry. A
// missing keywords attribute means no phrases; a missing position sorts last.
func itemToKeyword(item map[string]types.AttributeValue) (positioned, error) {
	title, err := strAttr(item, "product")
	if err != nil {
		return positioned{}, err
	}
	phrases, _ := strAttr(item, "keywords") // allow empty
	position, err := intAttr(item, "position")
	if err != nil {
		if _, ok := item["position"]; ok {
			return positioned{}, err
		}
		position = int(^uint(0) >> 1)
	}
	return positioned{
		position: position,
		entry:    domain.KeywordEntry{ProductTitle: title, Phrases: keywords.SplitPhrases(phrases)},
	}, nil
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
