/*
Copyright 2026 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package signal defines the bus wire envelope (spec.md §3/§6): addressed
// messages tagged with a closed radio-code vocabulary, validated before
// they are allowed onto the bus.
package signal

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "github.com/caseforge/coordfab/internal/errors"
)

// RadioCode is drawn from the closed vocabulary in spec.md §6.
type RadioCode string

const (
	Code10_4       RadioCode = "10-4"
	Code10_6       RadioCode = "10-6"
	Code10_8       RadioCode = "10-8"
	Code10_9       RadioCode = "10-9"
	Code10_10      RadioCode = "10-10"
	CodeSTATUS     RadioCode = "STATUS"
	CodeROLLCALL   RadioCode = "ROLLCALL"
	CodeRADIOCHECK RadioCode = "RADIO_CHECK"
	CodeSOS        RadioCode = "SOS"
	CodeMAYDAY     RadioCode = "MAYDAY"
)

// radioCodeSpec describes each code's default expectations, per spec.md §6's table.
type radioCodeSpec struct {
	ResponseExpected bool
	DefaultTimeout   time.Duration
}

var radioCodeTable = map[RadioCode]radioCodeSpec{
	Code10_4:       {ResponseExpected: false, DefaultTimeout: 0},
	Code10_6:       {ResponseExpected: true, DefaultTimeout: 30 * time.Second},
	Code10_8:       {ResponseExpected: true, DefaultTimeout: 30 * time.Second},
	Code10_9:       {ResponseExpected: true, DefaultTimeout: 15 * time.Second},
	Code10_10:      {ResponseExpected: true, DefaultTimeout: 60 * time.Second},
	CodeSTATUS:     {ResponseExpected: true, DefaultTimeout: 30 * time.Second},
	CodeROLLCALL:   {ResponseExpected: true, DefaultTimeout: 60 * time.Second},
	CodeRADIOCHECK: {ResponseExpected: true, DefaultTimeout: 15 * time.Second},
	CodeSOS:        {ResponseExpected: true, DefaultTimeout: 5 * time.Second},
	CodeMAYDAY:     {ResponseExpected: true, DefaultTimeout: 5 * time.Second},
}

// IsCritical reports whether the radio code must always be delivered even
// under bus backpressure (spec.md §4.2).
func (c RadioCode) IsCritical() bool {
	return c == CodeSOS || c == CodeMAYDAY
}

// Valid reports whether c is a member of the closed vocabulary.
func (c RadioCode) Valid() bool {
	_, ok := radioCodeTable[c]
	return ok
}

// DefaultTimeout returns the radio code's default response timeout.
func (c RadioCode) DefaultTimeout() time.Duration {
	return radioCodeTable[c].DefaultTimeout
}

// ResponseExpectedByDefault returns whether the code expects a response when
// the caller doesn't explicitly set ResponseExpected.
func (c RadioCode) ResponseExpectedByDefault() bool {
	return radioCodeTable[c].ResponseExpected
}

// addressPattern matches X, X-Y, or X-Y.Z per spec.md §6.
var addressPattern = regexp.MustCompile(`^[A-Za-z0-9]+(-[A-Za-z0-9]+(\.[A-Za-z0-9]+)?)?$`)

// Address is the hierarchical bus participant identifier.
type Address string

// BusAddress is the bus's own reserved address.
const BusAddress Address = "Bus-1"

// Valid reports whether a is well-formed per spec.md §6.
func (a Address) Valid() bool {
	return addressPattern.MatchString(string(a))
}

// Subsystem returns the "X-Y" portion of an "X-Y.Z" address, or a itself if
// it has no component suffix. Used for prefix subscription matching.
func (a Address) Subsystem() Address {
	s := string(a)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return Address(s[:i])
		}
	}
	return a
}

// MatchesTopic reports whether a satisfies a subscription topic, which may
// be an exact address or a prefix (spec.md §4.2).
func (a Address) MatchesTopic(topic Address) bool {
	if a == topic {
		return true
	}
	prefix := string(topic)
	s := string(a)
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		next := s[len(prefix)]
		return next == '-' || next == '.'
	}
	return false
}

// Signal is the addressed wire envelope of spec.md §3.
type Signal struct {
	SignalID         string                 `json:"signal_id" validate:"required,uuid"`
	CallerAddress    Address                `json:"caller_address" validate:"required"`
	TargetAddress    Address                `json:"target_address" validate:"required"`
	BusAddress       Address                `json:"bus_address" validate:"required"`
	SignalType       string                 `json:"signal_type" validate:"required"`
	RadioCode        RadioCode              `json:"radio_code" validate:"required"`
	Message          string                 `json:"message"`
	Payload          map[string]interface{} `json:"payload"`
	ResponseExpected bool                   `json:"response_expected"`
	Timeout          time.Duration          `json:"timeout"`
	CreatedAt        time.Time              `json:"created_at"`
}

var validate = validator.New()

// New constructs a Signal with a fresh signal_id, defaulting timeout and
// response_expected from the radio code table when unset.
func New(caller, target Address, code RadioCode, message string, payload map[string]interface{}) *Signal {
	s := &Signal{
		SignalID:         uuid.NewString(),
		CallerAddress:    caller,
		TargetAddress:    target,
		BusAddress:       BusAddress,
		SignalType:       string(code),
		RadioCode:        code,
		Message:          message,
		Payload:          payload,
		ResponseExpected: code.ResponseExpectedByDefault(),
		Timeout:          code.DefaultTimeout(),
		CreatedAt:        time.Now(),
	}
	if s.Payload == nil {
		s.Payload = map[string]interface{}{}
	}
	return s
}

// Validate checks the envelope against spec.md §6: mandatory fields present,
// addresses well-formed, radio code in the closed vocabulary. Violations are
// reported as Bus-1-31 per the fault-code grammar.
func Validate(s *Signal) error {
	if err := validate.Struct(s); err != nil {
		return apperrors.New(apperrors.ErrorTypeValidation, "malformed signal envelope").
			WithDetails(err.Error()).
			WithFault("Bus-1-31", apperrors.SeverityMedium)
	}
	if !s.CallerAddress.Valid() {
		return invalidAddress("caller_address", s.CallerAddress)
	}
	if !s.TargetAddress.Valid() {
		return invalidAddress("target_address", s.TargetAddress)
	}
	if !s.RadioCode.Valid() {
		return apperrors.New(apperrors.ErrorTypeValidation, "unknown radio code").
			WithDetails(string(s.RadioCode)).
			WithFault("Bus-1-31", apperrors.SeverityMedium)
	}
	return nil
}

func invalidAddress(field string, addr Address) error {
	return apperrors.New(apperrors.ErrorTypeValidation, fmt.Sprintf("malformed %s", field)).
		WithDetails(string(addr)).
		WithFault("Bus-1-31", apperrors.SeverityMedium)
}
