// internal/model/selector.go
package model

import (
	"encoding/json"
	"fmt"
)

// Selector type tags as persisted on the batch row.
const (
	SelectorAllActive     = "all_active"
	SelectorDepartment    = "department"
	SelectorAgeBand       = "age_band"
	SelectorMemberIDs     = "member_ids"
	SelectorCustomNumbers = "custom_numbers"
)

// AgeBand names.
const (
	AgeBandChild  = "child"
	AgeBandTeen   = "teen"
	AgeBandYouth  = "youth"
	AgeBandAdult  = "adult"
	AgeBandSenior = "senior"
)

// RecipientSelector is the sum type describing who a batch goes to. Each
// variant carries exactly the fields it needs, so an illegal combination
// (say, a department selector without a department id) cannot be built.
type RecipientSelector interface {
	SelectorType() string
}

type AllActiveSelector struct{}

type DepartmentSelector struct {
	DepartmentID int `json:"department_id"`
}

type AgeBandSelector struct {
	Band string `json:"band"`
}

type MemberIDsSelector struct {
	MemberIDs []int `json:"member_ids"`
}

type CustomNumbersSelector struct {
	Numbers []string `json:"numbers"`
}

func (AllActiveSelector) SelectorType() string     { return SelectorAllActive }
func (DepartmentSelector) SelectorType() string    { return SelectorDepartment }
func (AgeBandSelector) SelectorType() string       { return SelectorAgeBand }
func (MemberIDsSelector) SelectorType() string     { return SelectorMemberIDs }
func (CustomNumbersSelector) SelectorType() string { return SelectorCustomNumbers }

// EncodeSelector serializes a selector into its type tag and JSON payload
// for persistence on the batch row.
func EncodeSelector(sel RecipientSelector) (selType, payload string, err error) {
	b, err := json.Marshal(sel)
	if err != nil {
		return "", "", err
	}
	return sel.SelectorType(), string(b), nil
}

// DecodeSelector is the inverse of EncodeSelector.
func DecodeSelector(selType, payload string) (RecipientSelector, error) {
	if payload == "" {
		payload = "{}"
	}
	switch selType {
	case SelectorAllActive:
		return AllActiveSelector{}, nil
	case SelectorDepartment:
		var s DepartmentSelector
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, err
		}
		return s, nil
	case SelectorAgeBand:
		var s AgeBandSelector
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, err
		}
		return s, nil
	case SelectorMemberIDs:
		var s MemberIDsSelector
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, err
		}
		return s, nil
	case SelectorCustomNumbers:
		var s CustomNumbersSelector
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown selector type: %s", selType)
	}
}
