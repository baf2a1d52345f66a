// Package tabular converts record collections to and from flat CSV tables, one table per
// record kind. Every row starts with the format version and the record kind.
//
// users:       one row per user; profile levels as one column per indicator kind.
// responses:   one row per answer.
// assessments: one row per indicator; an assessment without indicators has a single row
// with empty indicator columns.
package tabular

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
)

// FormatVersion is written into every row.
const FormatVersion = "1"

const (
	colVersion = "format_version"
	colKind    = "record_kind"
)

var userColumns = append([]string{
	colVersion, colKind,
	"user_id", "handle", "email", "age", "consent", "created_at", "profile_updated_at",
}, levelColumns()...)

var responseColumns = []string{
	colVersion, colKind,
	"response_id", "user_id", "survey_id", "submitted_at",
	"answer_index", "question_id", "value_kind", "value", "truncated",
}

var assessmentColumns = []string{
	colVersion, colKind,
	"assessment_id", "user_id", "computed_at", "level", "window", "supersedes",
	"evidence_since", "resolved_at", "resolution_note", "reasons",
	"indicator_index", "indicator_kind", "indicator_severity",
	"indicator_response_id", "indicator_question_id", "indicator_observed_at",
}

func levelColumns() []string {
	cols := make([]string, 0, len(domain.IndicatorKinds))
	for _, k := range domain.IndicatorKinds {
		cols = append(cols, levelColumn(k))
	}
	return cols
}

func levelColumn(k domain.IndicatorKind) string {
	return "level_" + strings.ReplaceAll(string(k), "-", "_")
}

// Columns returns the fixed column set of a kind.
func Columns(kind record.Kind) ([]string, error) {
	switch kind {
	case record.KindUser:
		return userColumns, nil
	case record.KindResponse:
		return responseColumns, nil
	case record.KindAssessment:
		return assessmentColumns, nil
	}
	return nil, domain.ContractError("no tabular layout for record kind %q", kind)
}

// Collection is a set of records in canonical order, plus preserved unknown columns.
type Collection struct {
	Users       []domain.User
	Responses   []domain.SurveyResponse
	Assessments []domain.RiskAssessment
	// Extras holds columns this version does not know, per kind. Nil when there are none.
	Extras map[record.Kind]ExtraColumns
}

// ExtraColumns are opaque columns kept from an imported table. Rows maps a row key
// (see RowKey) to the values in Names order. Values are held as a CSV reader returns
// them, so a "\r\n" line break is stored as "\n".
type ExtraColumns struct {
	Names []string
	Rows  map[string][]string
}

// Normalize sorts every collection into the order used by exports and imports.
func (c *Collection) Normalize() {
	sort.SliceStable(c.Users, func(i, j int) bool {
		if !c.Users[i].CreatedAt.Equal(c.Users[j].CreatedAt) {
			return c.Users[i].CreatedAt.Before(c.Users[j].CreatedAt)
		}
		return c.Users[i].ID < c.Users[j].ID
	})
	sort.SliceStable(c.Responses, func(i, j int) bool {
		if !c.Responses[i].SubmittedAt.Equal(c.Responses[j].SubmittedAt) {
			return c.Responses[i].SubmittedAt.Before(c.Responses[j].SubmittedAt)
		}
		return c.Responses[i].ID < c.Responses[j].ID
	})
	record.SortAssessments(c.Assessments)

	// empty and nil are the same in a flat table
	for i := range c.Users {
		if len(c.Users[i].Profile.Levels) == 0 {
			c.Users[i].Profile.Levels = nil
		}
	}
	for i := range c.Responses {
		if len(c.Responses[i].Answers) == 0 {
			c.Responses[i].Answers = nil
		}
		for j := range c.Responses[i].Answers {
			if v := &c.Responses[i].Answers[j].Value; len(v.Choices) == 0 {
				v.Choices = nil
			}
		}
	}
	for i := range c.Assessments {
		if len(c.Assessments[i].Indicators) == 0 {
			c.Assessments[i].Indicators = nil
		}
		if len(c.Assessments[i].Reasons) == 0 {
			c.Assessments[i].Reasons = nil
		}
	}

	if len(c.Users) == 0 {
		c.Users = nil
	}
	if len(c.Responses) == 0 {
		c.Responses = nil
	}
	if len(c.Assessments) == 0 {
		c.Assessments = nil
	}
	for kind, extra := range c.Extras {
		if len(extra.Names) == 0 {
			delete(c.Extras, kind)
			continue
		}
		for key, values := range extra.Rows {
			if blank(values) {
				delete(extra.Rows, key)
				continue
			}
			extra.Rows[key] = csvLineBreaks(values)
		}
		if len(extra.Rows) == 0 {
			extra.Rows = nil
		}
		c.Extras[kind] = extra
	}
	if len(c.Extras) == 0 {
		c.Extras = nil
	}
}

func blank(values []string) bool {
	for _, v := range values {
		if v != "" {
			return false
		}
	}
	return true
}

// csvLineBreaks folds "\r\n" into "\n" the way a CSV reader does. values is not modified.
func csvLineBreaks(values []string) []string {
	var out []string
	for i, v := range values {
		if !strings.Contains(v, "\r\n") {
			continue
		}
		if out == nil {
			out = append([]string(nil), values...)
		}
		out[i] = strings.ReplaceAll(v, "\r\n", "\n")
	}
	if out == nil {
		return values
	}
	return out
}

// RowKey identifies a row for preserved extras: the record id, plus the answer or
// indicator index for kinds with several rows per record.
func RowKey(id string, index string) string {
	if index == "" {
		return id
	}
	return id + "#" + index
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// quoteText renders free text as a Go string literal. CSV readers fold "\r\n" inside a
// field into "\n"; the escaped form keeps line breaks and invalid UTF-8 byte for byte.
func quoteText(s string) string {
	return strconv.Quote(s)
}

func unquoteText(s string) (string, error) {
	if !strings.HasPrefix(s, `"`) {
		return "", errors.New("text must be a double-quoted string")
	}
	return strconv.Unquote(s)
}

// formatStrings encodes a list as JSON. JSON cannot carry invalid UTF-8, so such
// entries are an error rather than silently replaced.
func formatStrings(list []string) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	for _, s := range list {
		if !utf8.ValidString(s) {
			return "", fmt.Errorf("list entry %q is not valid UTF-8", s)
		}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseStrings(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// encodeValue renders an answer value as (value_kind, value).
func encodeValue(v domain.Value) (string, string, error) {
	switch v.Kind {
	case domain.ValueInt:
		return string(v.Kind), strconv.Itoa(v.Int), nil
	case domain.ValueBool:
		return string(v.Kind), strconv.FormatBool(v.Bool), nil
	case domain.ValueText, domain.ValueChoice:
		return string(v.Kind), quoteText(v.Text), nil
	case domain.ValueChoices:
		if len(v.Choices) == 0 {
			return string(v.Kind), "[]", nil
		}
		data, err := formatStrings(v.Choices)
		return string(v.Kind), data, err
	}
	return "", "", domain.ContractError("unknown value kind %q", v.Kind)
}

func decodeValue(kind, raw string) (domain.Value, error) {
	switch domain.ValueKind(kind) {
	case domain.ValueInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.IntValue(n), nil
	case domain.ValueBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.BoolValue(b), nil
	case domain.ValueText:
		text, err := unquoteText(raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.TextValue(text), nil
	case domain.ValueChoice:
		text, err := unquoteText(raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.ChoiceValue(text), nil
	case domain.ValueChoices:
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return domain.Value{}, err
		}
		return domain.ChoicesValue(list), nil
	}
	return domain.Value{}, fmt.Errorf("unknown value kind %q", kind)
}
