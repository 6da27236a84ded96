package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// RefKind tags which identifier scheme an OpportunityRef uses
type RefKind int

const (
	RefNone RefKind = iota
	RefNumeric
	RefGenerated
)

// OpportunityRef identifies an opportunity either by its legacy numeric id or
// by its generated document id. Commitment lists may hold either encoding.
type OpportunityRef struct {
	kind RefKind
	num  int64
	id   string
}

// NumericRef builds a legacy numeric reference
func NumericRef(n int64) OpportunityRef {
	return OpportunityRef{kind: RefNumeric, num: n}
}

// GeneratedRef builds a generated-id reference. An empty id yields the zero ref.
func GeneratedRef(id string) OpportunityRef {
	id = strings.TrimSpace(id)
	if id == "" {
		return OpportunityRef{}
	}
	return OpportunityRef{kind: RefGenerated, id: id}
}

// ParseRef parses a path or form value. All-digit values that fit in an int64
// are legacy numeric ids; anything else is a generated id.
func ParseRef(s string) (OpportunityRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return OpportunityRef{}, fmt.Errorf("empty opportunity reference")
	}
	if isDigits(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return NumericRef(n), nil
		}
	}
	return GeneratedRef(s), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (r OpportunityRef) Kind() RefKind { return r.kind }

func (r OpportunityRef) IsZero() bool { return r.kind == RefNone }

// Numeric returns the legacy numeric id if this is a numeric ref
func (r OpportunityRef) Numeric() (int64, bool) {
	return r.num, r.kind == RefNumeric
}

// Generated returns the generated id if this is a generated ref
func (r OpportunityRef) Generated() (string, bool) {
	return r.id, r.kind == RefGenerated
}

func (r OpportunityRef) String() string {
	switch r.kind {
	case RefNumeric:
		return strconv.FormatInt(r.num, 10)
	case RefGenerated:
		return r.id
	default:
		return ""
	}
}

// Equal compares kind and value. Generated ids compare case-insensitively
// because hex ObjectIDs may be stored in either case.
func (r OpportunityRef) Equal(o OpportunityRef) bool {
	if r.kind != o.kind {
		return false
	}
	switch r.kind {
	case RefNumeric:
		return r.num == o.num
	case RefGenerated:
		return strings.EqualFold(r.id, o.id)
	default:
		return true
	}
}

// CandidateRefs returns every encoding an opportunity can be referenced by:
// its primary encoding first (legacy numeric when present) and the other
// encoding as a fallback.
func CandidateRefs(legacyID *int64, generatedID string) []OpportunityRef {
	refs := make([]OpportunityRef, 0, 2)
	if legacyID != nil {
		refs = append(refs, NumericRef(*legacyID))
	}
	if g := GeneratedRef(generatedID); !g.IsZero() {
		refs = append(refs, g)
	}
	return refs
}

// ContainsAny reports whether any of the candidates appears in list
func ContainsAny(list []OpportunityRef, candidates []OpportunityRef) bool {
	for _, have := range list {
		for _, want := range candidates {
			if have.Equal(want) {
				return true
			}
		}
	}
	return false
}

// MarshalJSON encodes numeric refs as JSON numbers and generated refs as strings
func (r OpportunityRef) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case RefNumeric:
		return []byte(strconv.FormatInt(r.num, 10)), nil
	case RefGenerated:
		return json.Marshal(r.id)
	default:
		return []byte("null"), nil
	}
}

func (r *OpportunityRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = OpportunityRef{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseRef(s)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid opportunity reference %s: %w", string(data), err)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("invalid opportunity reference %s: not an integer", string(data))
	}
	*r = NumericRef(int64(f))
	return nil
}

// MarshalBSONValue stores numeric refs as int64 and generated refs as strings
func (r OpportunityRef) MarshalBSONValue() (bsontype.Type, []byte, error) {
	switch r.kind {
	case RefNumeric:
		return bson.MarshalValue(r.num)
	case RefGenerated:
		return bson.MarshalValue(r.id)
	default:
		return bson.MarshalValue(nil)
	}
}

// UnmarshalBSONValue accepts every encoding found in commitment lists:
// int32, int64, whole doubles, strings and ObjectIDs.
func (r *OpportunityRef) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.Int32:
		*r = NumericRef(int64(raw.Int32()))
	case bsontype.Int64:
		*r = NumericRef(raw.Int64())
	case bsontype.Double:
		f := raw.Double()
		if f != math.Trunc(f) {
			return fmt.Errorf("invalid opportunity reference %v: not an integer", f)
		}
		*r = NumericRef(int64(f))
	case bsontype.String:
		parsed, err := ParseRef(raw.StringValue())
		if err != nil {
			return err
		}
		*r = parsed
	case bsontype.ObjectID:
		*r = GeneratedRef(raw.ObjectID().Hex())
	case bsontype.Null, bsontype.Undefined:
		*r = OpportunityRef{}
	default:
		return fmt.Errorf("unsupported bson type %s for opportunity reference", t)
	}
	return nil
}
