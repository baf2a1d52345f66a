// Package validate holds the field-level validators used at registration.
// Every validator returns a Result and never fails on malformed input.
package validate

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MinAge          = 13
	MaxAge          = 25
	ConsentAge      = 18
	MinHandleLength = 3
	MaxHandleLength = 30
)

var (
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	handlePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Result is either an accepted, normalized value or a rejection reason.
type Result struct {
	OK     bool
	Value  any
	Reason string
}

func accept(v any) Result { return Result{OK: true, Value: v} }

func reject(reason string) Result { return Result{Reason: reason} }

// String returns the normalized value as a string, or "" when rejected.
func (r Result) String() string {
	s, _ := r.Value.(string)
	return s
}

// Int returns the normalized value as an int, or 0 when rejected.
func (r Result) Int() int {
	n, _ := r.Value.(int)
	return n
}

// Email accepts a local@domain.tld address and normalizes it to lower case.
func Email(raw string) Result {
	v := strings.TrimSpace(raw)
	if v == "" {
		return reject("email is required")
	}
	if !emailPattern.MatchString(v) {
		return reject("email must look like name@example.com")
	}
	return accept(strings.ToLower(v))
}

// Handle accepts 3-30 letters, digits, underscores or hyphens.
func Handle(raw string) Result {
	v := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(v)
	if n < MinHandleLength || n > MaxHandleLength {
		return reject("handle must be between 3 and 30 characters")
	}
	if !handlePattern.MatchString(v) {
		return reject("handle may only contain letters, digits, '_' and '-'")
	}
	return accept(v)
}

// Age accepts ages in [13,25]. Values outside are rejected, not clamped.
func Age(age int) Result {
	if age < MinAge || age > MaxAge {
		return reject("age must be between 13 and 25")
	}
	return accept(age)
}

// AgeString parses form input before applying Age.
func AgeString(raw string) Result {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return reject("age must be a whole number")
	}
	return Age(n)
}

// Consent requires explicit consent from users under 18.
func Consent(age int, consent bool) Result {
	if age < ConsentAge && !consent {
		return reject("users under 18 must have explicit consent")
	}
	return accept(consent)
}
