package protocol

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Wire schemas, compiled once at init. A payload that passes its schema
// can be unmarshalled into the matching wire struct without further checks
// (apart from float range, see toFloats).
var (
	requestSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"type":      {"type": "string", "enum": ["task", "heartbeat"]},
			"task_id":   {"type": "string"},
			"data":      {"type": "array", "items": {"type": "number"}},
			"operation": {"type": "string"}
		},
		"required": ["type", "data", "operation"]
	}`)

	replyEnvelopeSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"type": {"type": "string", "enum": ["heartbeat_ack", "result", "error"]}
		},
		"required": ["type"]
	}`)

	resultSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"task_id": {"type": "string"},
			"result":  {"type": "array", "items": {"type": "number"}}
		},
		"required": ["result"]
	}`)

	errorSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"message": {"type": "string"}
		},
		"required": ["message"]
	}`)
)

// fieldOrder decides which violation is reported when several fields are
// wrong at once. Unlisted fields sort last.
var fieldOrder = map[string]int{
	"type":      0,
	"task_id":   1,
	"data":      2,
	"result":    2,
	"operation": 3,
	"message":   3,
}

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("protocol: compile schema: %v", err))
	}
	return s
}

// validate checks b against s. b must already be a single JSON object
// (see parseObject). The first violation by fieldOrder comes back as a
// *DecodeError naming the top-level field.
func validate(s *gojsonschema.Schema, b []byte) error {
	res, err := s.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return malformed(err.Error(), err)
	}
	if res.Valid() {
		return nil
	}

	var first *DecodeError
	for _, re := range res.Errors() {
		de := toViolation(re)
		if first == nil || rank(de.Field) < rank(first.Field) {
			first = de
		}
	}
	if first == nil {
		return malformed("schema rejected payload", nil)
	}
	return first
}

// toViolation maps one library error onto the field it concerns.
// Array elements are reported against their array ("data.1" -> "data").
func toViolation(re gojsonschema.ResultError) *DecodeError {
	path := re.Field()

	switch re.Type() {
	case "required":
		name, _ := re.Details()["property"].(string)
		return violation(name, "is a required property")

	case "invalid_type":
		field, index, isElem := strings.Cut(path, ".")
		switch {
		case isElem:
			return violation(field, fmt.Sprintf("element %s is not a number", index))
		case field == "data" || field == "result":
			return violation(field, "must be an array of numbers")
		default:
			return violation(field, "must be a string")
		}

	case "enum":
		field, _, _ := strings.Cut(path, ".")
		return violation(field, "must be one of "+enumList(re))
	}

	field, _, _ := strings.Cut(path, ".")
	return violation(field, re.Description())
}

func enumList(re gojsonschema.ResultError) string {
	if allowed, ok := re.Details()["allowed"].(string); ok && allowed != "" {
		return "[" + allowed + "]"
	}
	return "the allowed values"
}

func rank(field string) int {
	if r, ok := fieldOrder[field]; ok {
		return r
	}
	return len(fieldOrder)
}
