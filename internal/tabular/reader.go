package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
)

// UnknownColumns selects how Import treats columns outside the fixed set.
type UnknownColumns int

const (
	// Preserve keeps unknown columns as opaque extras that are written back on export.
	Preserve UnknownColumns = iota
	// Reject fails the import with domain.ErrUnsupportedColumn.
	Reject
)

// ParseUnknownColumns maps "preserve" and "reject" to a policy.
func ParseUnknownColumns(s string) (UnknownColumns, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "preserve":
		return Preserve, nil
	case "reject":
		return Reject, nil
	}
	return Preserve, fmt.Errorf("unknown-columns policy must be preserve or reject, got %q", s)
}

type Options struct {
	UnknownColumns UnknownColumns
}

// ImportAll reads several tables, each of any kind, into one collection.
func ImportAll(opts Options, readers ...io.Reader) (Collection, error) {
	var out Collection
	for _, r := range readers {
		c, err := Import(r, opts)
		if err != nil {
			return Collection{}, err
		}
		if err := out.merge(c); err != nil {
			return Collection{}, err
		}
	}
	out.Normalize()
	return out, nil
}

func (c *Collection) merge(other Collection) error {
	seen := make(map[string]bool)
	for _, u := range c.Users {
		seen["u:"+u.ID] = true
	}
	for _, r := range c.Responses {
		seen["r:"+r.ID] = true
	}
	for _, a := range c.Assessments {
		seen["a:"+a.ID] = true
	}
	dup := func(kind record.Kind, id string) error {
		return &FormatError{Reason: fmt.Sprintf("%s %s appears in more than one table", kind, id)}
	}
	for _, u := range other.Users {
		if seen["u:"+u.ID] {
			return dup(record.KindUser, u.ID)
		}
		c.Users = append(c.Users, u)
	}
	for _, r := range other.Responses {
		if seen["r:"+r.ID] {
			return dup(record.KindResponse, r.ID)
		}
		c.Responses = append(c.Responses, r)
	}
	for _, a := range other.Assessments {
		if seen["a:"+a.ID] {
			return dup(record.KindAssessment, a.ID)
		}
		c.Assessments = append(c.Assessments, a)
	}
	for kind, extra := range other.Extras {
		if c.Extras == nil {
			c.Extras = make(map[record.Kind]ExtraColumns)
		}
		existing, ok := c.Extras[kind]
		if !ok {
			c.Extras[kind] = extra
			continue
		}
		if strings.Join(existing.Names, "\x00") != strings.Join(extra.Names, "\x00") {
			return &FormatError{Reason: fmt.Sprintf("%s tables disagree on extra columns", kind)}
		}
		if existing.Rows == nil {
			existing.Rows = make(map[string][]string)
		}
		for k, v := range extra.Rows {
			existing.Rows[k] = v
		}
		c.Extras[kind] = existing
	}
	return nil
}

// FormatError is an alias kept short for construction sites.
type FormatError = domain.FormatRoundTripError

// Import reads one table. The kind is detected from the header; rows may come in any
// order. Shape problems are reported as *domain.FormatRoundTripError.
func Import(r io.Reader, opts Options) (Collection, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Collection{}, nil
	}
	if err != nil {
		return Collection{}, csvError(err)
	}

	t, err := newTable(header, opts)
	if err != nil {
		return Collection{}, err
	}

	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Collection{}, csvError(err)
		}
		line, _ := cr.FieldPos(0)
		if err := t.add(line, cells); err != nil {
			return Collection{}, err
		}
	}

	c, err := t.collection()
	if err != nil {
		return Collection{}, err
	}
	c.Normalize()
	return c, nil
}

func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &FormatError{Line: pe.Line, Reason: "malformed csv", Err: pe.Err}
	}
	return &FormatError{Reason: "read csv", Err: err}
}

type table struct {
	kind   record.Kind
	index  map[string]int
	extras []int
	names  []string
	rows   map[string][]string

	users       map[string]domain.User
	responses   map[string]*responseAcc
	assessments map[string]*assessmentAcc
}

type responseAcc struct {
	line    int
	head    []string
	resp    domain.SurveyResponse
	empty   bool
	answers map[int]domain.Answer
}

type assessmentAcc struct {
	line       int
	head       []string
	a          domain.RiskAssessment
	empty      bool
	indicators map[int]domain.RiskIndicator
}

func newTable(header []string, opts Options) (*table, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := index[name]; dup {
			return nil, &FormatError{Line: 1, Column: name, Reason: "column appears twice"}
		}
		index[name] = i
	}

	var kind record.Kind
	switch {
	case has(index, "assessment_id"):
		kind = record.KindAssessment
	case has(index, "response_id"):
		kind = record.KindResponse
	case has(index, "handle"):
		kind = record.KindUser
	default:
		return nil, &FormatError{Line: 1, Reason: "cannot tell the record kind from the header"}
	}
	cols, err := Columns(kind)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
		if !has(index, c) {
			return nil, &FormatError{Line: 1, Column: c, Reason: "missing column"}
		}
	}

	t := &table{
		kind:        kind,
		index:       index,
		users:       make(map[string]domain.User),
		responses:   make(map[string]*responseAcc),
		assessments: make(map[string]*assessmentAcc),
	}
	for i, name := range header {
		if known[name] {
			continue
		}
		if opts.UnknownColumns == Reject {
			return nil, &FormatError{Line: 1, Column: name, Reason: "column is not part of the format", Err: domain.ErrUnsupportedColumn}
		}
		t.extras = append(t.extras, i)
		t.names = append(t.names, name)
	}
	return t, nil
}

func has(index map[string]int, name string) bool {
	_, ok := index[name]
	return ok
}

func (t *table) add(line int, cells []string) error {
	get := func(col string) string { return cells[t.index[col]] }
	fail := func(col, reason string, err error) error {
		return &FormatError{Line: line, Column: col, Reason: reason, Err: err}
	}

	if v := get(colVersion); v != FormatVersion {
		return fail(colVersion, fmt.Sprintf("unsupported format version %q", v), nil)
	}
	if k := get(colKind); k != string(t.kind) {
		return fail(colKind, fmt.Sprintf("row of kind %q in a %s table", k, t.kind), nil)
	}

	var (
		id, idx string
		err     error
	)
	switch t.kind {
	case record.KindUser:
		id, err = t.addUser(line, get, fail)
	case record.KindResponse:
		id, idx, err = t.addResponse(line, get, fail)
	case record.KindAssessment:
		id, idx, err = t.addAssessment(line, get, fail)
	}
	if err != nil {
		return err
	}

	if len(t.extras) > 0 {
		values := make([]string, len(t.extras))
		nonEmpty := false
		for i, col := range t.extras {
			values[i] = cells[col]
			nonEmpty = nonEmpty || values[i] != ""
		}
		if nonEmpty {
			if t.rows == nil {
				t.rows = make(map[string][]string)
			}
			t.rows[RowKey(id, idx)] = values
		}
	}
	return nil
}

type getter func(col string) string
type failer func(col, reason string, err error) error

func (t *table) addUser(_ int, get getter, fail failer) (string, error) {
	id := get("user_id")
	if id == "" {
		return "", fail("user_id", "empty id", nil)
	}
	if _, dup := t.users[id]; dup {
		return "", fail("user_id", "user appears twice", nil)
	}
	age, err := strconv.Atoi(get("age"))
	if err != nil {
		return "", fail("age", "not a whole number", err)
	}
	consent, err := strconv.ParseBool(get("consent"))
	if err != nil {
		return "", fail("consent", "not a boolean", err)
	}
	created, err := parseTime(get("created_at"))
	if err != nil {
		return "", fail("created_at", "not an RFC 3339 time", err)
	}
	updated, err := parseTime(get("profile_updated_at"))
	if err != nil {
		return "", fail("profile_updated_at", "not an RFC 3339 time", err)
	}
	var levels map[domain.IndicatorKind]float64
	for _, k := range domain.IndicatorKinds {
		col := levelColumn(k)
		raw := get(col)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fail(col, "not a number", err)
		}
		if levels == nil {
			levels = make(map[domain.IndicatorKind]float64)
		}
		levels[k] = v
	}
	t.users[id] = domain.User{
		ID:        id,
		Handle:    get("handle"),
		Email:     get("email"),
		Age:       age,
		Consent:   consent,
		CreatedAt: created,
		Profile:   domain.EmotionalProfile{Levels: levels, UpdatedAt: updated},
	}
	return id, nil
}

func (t *table) addResponse(line int, get getter, fail failer) (string, string, error) {
	id := get("response_id")
	if id == "" {
		return "", "", fail("response_id", "empty id", nil)
	}
	head := []string{get("user_id"), get("survey_id"), get("submitted_at")}
	acc, ok := t.responses[id]
	if !ok {
		submitted, err := parseTime(head[2])
		if err != nil {
			return "", "", fail("submitted_at", "not an RFC 3339 time", err)
		}
		acc = &responseAcc{
			line:    line,
			head:    head,
			resp:    domain.SurveyResponse{ID: id, UserID: head[0], SurveyID: head[1], SubmittedAt: submitted},
			answers: make(map[int]domain.Answer),
		}
		t.responses[id] = acc
	} else if strings.Join(acc.head, "\x00") != strings.Join(head, "\x00") {
		return "", "", fail("response_id", fmt.Sprintf("response %s disagrees with its row on line %d", id, acc.line), nil)
	}

	idxRaw := get("answer_index")
	if idxRaw == "" {
		if len(acc.answers) > 0 || acc.empty {
			return "", "", fail("answer_index", "response without answers has more rows", nil)
		}
		acc.empty = true
		return id, "", nil
	}
	if acc.empty {
		return "", "", fail("answer_index", "response without answers has more rows", nil)
	}
	idx, err := strconv.Atoi(idxRaw)
	if err != nil || idx < 0 {
		return "", "", fail("answer_index", "not a non-negative whole number", err)
	}
	if _, dup := acc.answers[idx]; dup {
		return "", "", fail("answer_index", fmt.Sprintf("answer %d of response %s appears twice", idx, id), nil)
	}
	value, err := decodeValue(get("value_kind"), get("value"))
	if err != nil {
		return "", "", fail("value", "cannot decode answer value", err)
	}
	truncated, err := strconv.ParseBool(get("truncated"))
	if err != nil {
		return "", "", fail("truncated", "not a boolean", err)
	}
	acc.answers[idx] = domain.Answer{QuestionID: get("question_id"), Value: value, Truncated: truncated}
	return id, idxRaw, nil
}

func (t *table) addAssessment(line int, get getter, fail failer) (string, string, error) {
	id := get("assessment_id")
	if id == "" {
		return "", "", fail("assessment_id", "empty id", nil)
	}
	head := []string{
		get("user_id"), get("computed_at"), get("level"), get("window"), get("supersedes"),
		get("evidence_since"), get("resolved_at"), get("resolution_note"), get("reasons"),
	}
	acc, ok := t.assessments[id]
	if !ok {
		a, err := parseAssessmentHead(id, head, fail)
		if err != nil {
			return "", "", err
		}
		acc = &assessmentAcc{line: line, head: head, a: a, indicators: make(map[int]domain.RiskIndicator)}
		t.assessments[id] = acc
	} else if strings.Join(acc.head, "\x00") != strings.Join(head, "\x00") {
		return "", "", fail("assessment_id", fmt.Sprintf("assessment %s disagrees with its row on line %d", id, acc.line), nil)
	}

	idxRaw := get("indicator_index")
	if idxRaw == "" {
		if len(acc.indicators) > 0 || acc.empty {
			return "", "", fail("indicator_index", "assessment without indicators has more rows", nil)
		}
		acc.empty = true
		return id, "", nil
	}
	if acc.empty {
		return "", "", fail("indicator_index", "assessment without indicators has more rows", nil)
	}
	idx, err := strconv.Atoi(idxRaw)
	if err != nil || idx < 0 {
		return "", "", fail("indicator_index", "not a non-negative whole number", err)
	}
	if _, dup := acc.indicators[idx]; dup {
		return "", "", fail("indicator_index", fmt.Sprintf("indicator %d of assessment %s appears twice", idx, id), nil)
	}
	kind := domain.IndicatorKind(get("indicator_kind"))
	if !kind.Valid() {
		return "", "", fail("indicator_kind", fmt.Sprintf("unknown indicator kind %q", kind), nil)
	}
	severity, err := strconv.ParseFloat(get("indicator_severity"), 64)
	if err != nil {
		return "", "", fail("indicator_severity", "not a number", err)
	}
	observed, err := parseTime(get("indicator_observed_at"))
	if err != nil {
		return "", "", fail("indicator_observed_at", "not an RFC 3339 time", err)
	}
	acc.indicators[idx] = domain.RiskIndicator{
		Kind:             kind,
		Severity:         severity,
		SourceResponseID: get("indicator_response_id"),
		QuestionID:       get("indicator_question_id"),
		ObservedAt:       observed,
	}
	return id, idxRaw, nil
}

func parseAssessmentHead(id string, head []string, fail failer) (domain.RiskAssessment, error) {
	computed, err := parseTime(head[1])
	if err != nil {
		return domain.RiskAssessment{}, fail("computed_at", "not an RFC 3339 time", err)
	}
	var level domain.RiskLevel
	if err := level.UnmarshalText([]byte(head[2])); err != nil {
		return domain.RiskAssessment{}, fail("level", "unknown risk level", err)
	}
	since, err := parseTime(head[5])
	if err != nil {
		return domain.RiskAssessment{}, fail("evidence_since", "not an RFC 3339 time", err)
	}
	window, err := unquoteText(head[3])
	if err != nil {
		return domain.RiskAssessment{}, fail("window", "not a quoted string", err)
	}
	reasons, err := parseStrings(head[8])
	if err != nil {
		return domain.RiskAssessment{}, fail("reasons", "not a JSON list of strings", err)
	}
	a := domain.RiskAssessment{
		ID:            id,
		UserID:        head[0],
		ComputedAt:    computed,
		Level:         level,
		Window:        window,
		Supersedes:    head[4],
		EvidenceSince: since,
		Reasons:       reasons,
	}
	if head[6] != "" {
		resolved, err := parseTime(head[6])
		if err != nil {
			return domain.RiskAssessment{}, fail("resolved_at", "not an RFC 3339 time", err)
		}
		note, err := unquoteText(head[7])
		if err != nil {
			return domain.RiskAssessment{}, fail("resolution_note", "not a quoted string", err)
		}
		a.Resolution = &domain.Resolution{ResolvedAt: resolved, Note: note}
	} else if head[7] != "" {
		return domain.RiskAssessment{}, fail("resolution_note", "note without a resolution time", nil)
	}
	return a, nil
}

func (t *table) collection() (Collection, error) {
	var c Collection
	for _, u := range t.users {
		c.Users = append(c.Users, u)
	}
	for id, acc := range t.responses {
		answers, err := ordered(acc.answers, func(i int) error {
			return &FormatError{Line: acc.line, Column: "answer_index", Reason: fmt.Sprintf("response %s is missing answer %d", id, i)}
		})
		if err != nil {
			return Collection{}, err
		}
		acc.resp.Answers = answers
		c.Responses = append(c.Responses, acc.resp)
	}
	for id, acc := range t.assessments {
		indicators, err := ordered(acc.indicators, func(i int) error {
			return &FormatError{Line: acc.line, Column: "indicator_index", Reason: fmt.Sprintf("assessment %s is missing indicator %d", id, i)}
		})
		if err != nil {
			return Collection{}, err
		}
		acc.a.Indicators = indicators
		c.Assessments = append(c.Assessments, acc.a)
	}
	if len(t.names) > 0 {
		c.Extras = map[record.Kind]ExtraColumns{t.kind: {Names: t.names, Rows: t.rows}}
	}
	return c, nil
}

// ordered returns the map values by index and requires indexes 0..n-1.
func ordered[T any](m map[int]T, missing func(i int) error) ([]T, error) {
	if len(m) == 0 {
		return nil, nil
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]T, 0, len(keys))
	for i, k := range keys {
		if k != i {
			return nil, missing(i)
		}
		out = append(out, m[k])
	}
	return out, nil
}
