// Package ddb decodes DynamoDB stream events into recordx documents.
//
// Each table item mirrors one document: "pk" holds the document id, "sk"
// holds the target as "index" or "index/type", and "object" holds the
// document body.
package ddb

import (
	"encoding/json"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
)

// DynamoDBEvent represents a DynamoDB stream event
type DynamoDBEvent struct {
	Records []DynamoDBEventRecord `json:"Records"`
}

// DynamoDBEventRecord represents a single DynamoDB stream record
type DynamoDBEventRecord struct {
	AWSRegion      string               `json:"awsRegion"`
	Change         DynamoDBStreamRecord `json:"dynamodb"`
	EventID        string               `json:"eventID"`
	EventName      string               `json:"eventName"`
	EventSource    string               `json:"eventSource"`
	EventVersion   string               `json:"eventVersion"`
	EventSourceArn string               `json:"eventSourceARN"`
}

// DynamoDBStreamRecord represents the DynamoDB stream data. Images are held
// as SDK attribute values so they can be decoded with attributevalue.
type DynamoDBStreamRecord struct {
	ApproximateCreationDateTime int64                           `json:"ApproximateCreationDateTime,omitempty"`
	Keys                        map[string]types.AttributeValue `json:"Keys,omitempty"`
	NewImage                    map[string]types.AttributeValue `json:"NewImage,omitempty"`
	OldImage                    map[string]types.AttributeValue `json:"OldImage,omitempty"`
	SequenceNumber              string                          `json:"SequenceNumber"`
	SizeBytes                   int64                           `json:"SizeBytes"`
	StreamViewType              string                          `json:"StreamViewType"`
}

// UnmarshalJSON decodes the DynamoDB JSON images of a stream record.
func (r *DynamoDBStreamRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		ApproximateCreationDateTime int64                                    `json:"ApproximateCreationDateTime,omitempty"`
		Keys                        map[string]events.DynamoDBAttributeValue `json:"Keys,omitempty"`
		NewImage                    map[string]events.DynamoDBAttributeValue `json:"NewImage,omitempty"`
		OldImage                    map[string]events.DynamoDBAttributeValue `json:"OldImage,omitempty"`
		SequenceNumber              string                                   `json:"SequenceNumber"`
		SizeBytes                   int64                                    `json:"SizeBytes"`
		StreamViewType              string                                   `json:"StreamViewType"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = DynamoDBStreamRecord{
		ApproximateCreationDateTime: raw.ApproximateCreationDateTime,
		Keys:                        convertMap(raw.Keys),
		NewImage:                    convertMap(raw.NewImage),
		OldImage:                    convertMap(raw.OldImage),
		SequenceNumber:              raw.SequenceNumber,
		SizeBytes:                   raw.SizeBytes,
		StreamViewType:              raw.StreamViewType,
	}
	return nil
}

// UnmarshalAttributeValueMap decodes a DynamoDB JSON item such as
// {"pk": {"S": "1"}}.
func UnmarshalAttributeValueMap(data []byte) (map[string]types.AttributeValue, error) {
	var raw map[string]events.DynamoDBAttributeValue
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode DynamoDB JSON")
	}
	return convertMap(raw), nil
}

func convertMap(m map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	if m == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		out[k] = convert(v)
	}
	return out
}

func convert(av events.DynamoDBAttributeValue) types.AttributeValue {
	switch av.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: av.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: av.Number()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: av.Boolean()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: av.Binary()}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: av.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: av.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: av.BinarySet()}
	case events.DataTypeList:
		list := av.List()
		out := make([]types.AttributeValue, len(list))
		for i, v := range list {
			out[i] = convert(v)
		}
		return &types.AttributeValueMemberL{Value: out}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: convertMap(av.Map())}
	default:
		return &types.AttributeValueMemberNULL{Value: true}
	}
}

// DynamoDBOperationType represents the type of DynamoDB operation
type DynamoDBOperationType string

const (
	DynamoDBOperationTypeInsert DynamoDBOperationType = "INSERT"
	DynamoDBOperationTypeModify DynamoDBOperationType = "MODIFY"
	DynamoDBOperationTypeRemove DynamoDBOperationType = "REMOVE"
)

// Record is a table item holding one document.
type Record struct {
	ID     string         `dynamodbav:"pk"`
	Target string         `dynamodbav:"sk"`
	Object map[string]any `dynamodbav:"object"`
}

// Index returns the index part of the target.
func (r Record) Index() string {
	index, _, _ := strings.Cut(r.Target, "/")
	return index
}

// Type returns the type part of the target, or "" when the target names
// only an index.
func (r Record) Type() string {
	_, typ, _ := strings.Cut(r.Target, "/")
	return typ
}

// Validate reports which required field is missing. Object is only
// required when withObject is set.
func (r Record) Validate(withObject bool) error {
	switch {
	case r.ID == "":
		return errors.New("missing id (pk)")
	case r.Index() == "":
		return errors.New("missing target (sk)")
	case withObject && r.Object == nil:
		return errors.New("missing object")
	}
	return nil
}

// UnmarshalRecord converts a DynamoDB image into a Record
func UnmarshalRecord(image map[string]types.AttributeValue) (Record, error) {
	var record Record
	if err := attributevalue.UnmarshalMap(image, &record); err != nil {
		return Record{}, errors.Wrap(err, "failed to unmarshal record")
	}
	return record, nil
}

// MarshalRecord converts a Record into a DynamoDB item.
func MarshalRecord(record Record) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal record")
	}
	return item, nil
}
