package tabular_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
	"wellbeing-survey-service/internal/tabular"
)

var base = time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)

func sampleCollection() tabular.Collection {
	users := []domain.User{
		{
			ID: "u1", Handle: "ana_09", Email: "ana@example.com", Age: 15, Consent: true,
			CreatedAt: base,
			Profile: domain.EmotionalProfile{
				Levels:    map[domain.IndicatorKind]float64{domain.ElevatedStress: 0.3333333333333333},
				UpdatedAt: base.Add(time.Hour),
			},
		},
		{ID: "u2", Handle: "leo", Email: "leo@example.com", Age: 19, CreatedAt: base.Add(time.Minute)},
	}

	surveys := []string{"emotional-state-v1", "life-habits-v1", "risk-evaluation-v1"}
	var responses []domain.SurveyResponse
	for i := 0; i < 10; i++ {
		r := domain.SurveyResponse{
			ID:          fmt.Sprintf("r%02d", i),
			UserID:      "u1",
			SurveyID:    surveys[i%3],
			SubmittedAt: base.Add(time.Duration(i) * time.Hour).Add(123456789 * time.Nanosecond),
			Answers: []domain.Answer{
				{QuestionID: "stress_level", Value: domain.IntValue(i + 1)},
				{QuestionID: "social_support", Value: domain.ChoiceValue("no, a veces")},
				{QuestionID: "self_harm", Value: domain.BoolValue(i%2 == 0)},
				{QuestionID: "substance_use", Value: domain.ChoicesValue([]string{"Alcohol", "Tabaco"})},
				{QuestionID: "notes", Value: domain.TextValue("línea \"2\", fin"), Truncated: i == 3},
			},
		}
		responses = append(responses, r)
	}
	responses = append(responses, domain.SurveyResponse{
		ID: "r99", UserID: "u2", SurveyID: "life-habits-v1", SubmittedAt: base.Add(20 * time.Hour),
		Answers: []domain.Answer{{QuestionID: "substance_use", Value: domain.ChoicesValue(nil)}},
	})

	assessments := []domain.RiskAssessment{
		{
			ID: "a1", UserID: "u1", ComputedAt: base.Add(time.Hour), Level: domain.LevelModerate,
			Indicators: []domain.RiskIndicator{
				{Kind: domain.ElevatedStress, Severity: 0.9, SourceResponseID: "r00", QuestionID: "stress_level", ObservedAt: base},
				{Kind: domain.SocialIsolation, Severity: 0.1 + 0.2, SourceResponseID: "r01", QuestionID: "social_support", ObservedAt: base.Add(time.Hour)},
			},
			Reasons: []string{"3 elevated-stress indicators at or above 0.5"},
			Window:  "last 10 responses",
		},
		{
			ID: "a2", UserID: "u1", ComputedAt: base.Add(2 * time.Hour), Level: domain.LevelLow,
			Window: "last 10 responses", Supersedes: "a1", EvidenceSince: base.Add(2 * time.Hour),
			Resolution: &domain.Resolution{ResolvedAt: base.Add(2 * time.Hour), Note: "seguimiento,\ncerrado"},
		},
		{ID: "a3", UserID: "u2", ComputedAt: base.Add(3 * time.Hour), Level: domain.LevelLow, Window: "all responses"},
	}

	c := tabular.Collection{Users: users, Responses: responses, Assessments: assessments}
	c.Normalize()
	return c
}

func export(t *testing.T, c tabular.Collection) map[record.Kind]*bytes.Buffer {
	t.Helper()
	out := make(map[record.Kind]*bytes.Buffer)
	err := tabular.Export(context.Background(), c, func(kind record.Kind) (io.Writer, error) {
		out[kind] = &bytes.Buffer{}
		return out[kind], nil
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	return out
}

func importAll(t *testing.T, tables map[record.Kind]*bytes.Buffer, opts tabular.Options) tabular.Collection {
	t.Helper()
	readers := make([]io.Reader, 0, len(tables))
	for _, kind := range record.Kinds {
		readers = append(readers, bytes.NewReader(tables[kind].Bytes()))
	}
	c, err := tabular.ImportAll(opts, readers...)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	return c
}

func TestRoundTrip(t *testing.T) {
	want := sampleCollection()
	got := importAll(t, export(t, want), tabular.Options{})
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch\n got: %+v\nwant: %+v", got, want)
	}
}

func TestExportIsStable(t *testing.T) {
	c := sampleCollection()
	first := export(t, c)
	second := export(t, importAll(t, first, tabular.Options{}))
	for _, kind := range record.Kinds {
		if first[kind].String() != second[kind].String() {
			t.Fatalf("%s table changed across a round trip", kind)
		}
	}
}

func TestImportIgnoresRowOrder(t *testing.T) {
	want := sampleCollection()
	tables := export(t, want)

	lines := strings.Split(strings.TrimSuffix(tables[record.KindResponse].String(), "\n"), "\n")
	header, rows := lines[0], lines[1:]
	rand.New(rand.NewSource(7)).Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	tables[record.KindResponse] = bytes.NewBufferString(header + "\n" + strings.Join(rows, "\n") + "\n")

	got := importAll(t, tables, tabular.Options{})
	if !reflect.DeepEqual(got.Responses, want.Responses) {
		t.Fatalf("shuffled responses did not reassemble")
	}
}

func TestEmptyIndicatorsAndAnswersKeepOneRow(t *testing.T) {
	c := tabular.Collection{
		Responses: []domain.SurveyResponse{{ID: "r1", UserID: "u1", SurveyID: "s", SubmittedAt: base}},
		Assessments: []domain.RiskAssessment{
			{ID: "a1", UserID: "u1", ComputedAt: base, Level: domain.LevelLow, Window: "all responses"},
		},
	}
	tables := export(t, c)
	for _, kind := range []record.Kind{record.KindResponse, record.KindAssessment} {
		if n := strings.Count(tables[kind].String(), "\n"); n != 2 {
			t.Fatalf("%s table has %d lines, want header and one row", kind, n)
		}
	}
	got := importAll(t, tables, tabular.Options{})
	c.Normalize()
	if !reflect.DeepEqual(got, c) {
		t.Fatalf("got %+v, want %+v", got, c)
	}
}

func TestEmptyCollectionWritesHeadersOnly(t *testing.T) {
	tables := export(t, tabular.Collection{})
	for _, kind := range record.Kinds {
		cols, _ := tabular.Columns(kind)
		if got := strings.TrimSpace(tables[kind].String()); got != strings.Join(cols, ",") {
			t.Fatalf("%s table = %q", kind, got)
		}
	}
	if got := importAll(t, tables, tabular.Options{}); !reflect.DeepEqual(got, tabular.Collection{}) {
		t.Fatalf("expected empty collection, got %+v", got)
	}
}

// withExtraColumn appends a column to every row of table, filling it with value(row).
func withExtraColumn(t *testing.T, table string, name string, value func(row int) string) string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(table)).ReadAll()
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	var out bytes.Buffer
	w := csv.NewWriter(&out)
	for i, row := range rows {
		cell := name
		if i > 0 {
			cell = value(i)
		}
		if err := w.Write(append(row, cell)); err != nil {
			t.Fatalf("write table: %v", err)
		}
	}
	w.Flush()
	return out.String()
}

func TestUnknownColumnsArePreserved(t *testing.T) {
	tables := export(t, sampleCollection())
	tables[record.KindAssessment] = bytes.NewBufferString(withExtraColumn(t, tables[record.KindAssessment].String(), "counselor", func(row int) string {
		if row == 1 {
			return "m.ruiz"
		}
		return ""
	}))

	got := importAll(t, tables, tabular.Options{UnknownColumns: tabular.Preserve})
	extra, ok := got.Extras[record.KindAssessment]
	if !ok || !reflect.DeepEqual(extra.Names, []string{"counselor"}) {
		t.Fatalf("extras = %+v", got.Extras)
	}
	if len(extra.Rows) != 1 {
		t.Fatalf("expected one preserved value, got %v", extra.Rows)
	}

	again := export(t, got)
	if again[record.KindAssessment].String() != tables[record.KindAssessment].String() {
		t.Fatalf("preserved column was not written back\n got: %s\nwant: %s", again[record.KindAssessment], tables[record.KindAssessment])
	}
}

func TestUnknownColumnsCanBeRejected(t *testing.T) {
	tables := export(t, sampleCollection())
	table := withExtraColumn(t, tables[record.KindUser].String(), "school", func(int) string { return "IES Norte" })

	_, err := tabular.Import(strings.NewReader(table), tabular.Options{UnknownColumns: tabular.Reject})
	if !errors.Is(err, domain.ErrUnsupportedColumn) {
		t.Fatalf("expected ErrUnsupportedColumn, got %v", err)
	}
	var fe *domain.FormatRoundTripError
	if !errors.As(err, &fe) || fe.Column != "school" {
		t.Fatalf("expected format error naming the column, got %v", err)
	}
}

func TestImportRejectsMalformedTables(t *testing.T) {
	tables := export(t, sampleCollection())
	responses := tables[record.KindResponse].String()
	lines := strings.Split(strings.TrimSuffix(responses, "\n"), "\n")

	cases := map[string]struct {
		table  string
		column string
	}{
		"missing column": {
			table:  strings.Replace(responses, ",truncated", ",flag", 1),
			column: "truncated",
		},
		"duplicate answer index": {
			table:  responses + lines[1] + "\n",
			column: "answer_index",
		},
		"wrong version": {
			table:  lines[0] + "\n" + "2" + strings.TrimPrefix(lines[1], "1") + "\n",
			column: "format_version",
		},
		"bad value": {
			table:  strings.Replace(responses, ",int,1,", ",int,one,", 1),
			column: "value",
		},
		"inconsistent header fields": {
			table:  lines[0] + "\n" + lines[1] + "\n" + strings.Replace(lines[2], "u1", "u9", 1) + "\n",
			column: "response_id",
		},
		"gap in answers": {
			table:  lines[0] + "\n" + lines[1] + "\n" + lines[3] + "\n",
			column: "answer_index",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tabular.Import(strings.NewReader(tc.table), tabular.Options{})
			var fe *domain.FormatRoundTripError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatRoundTripError, got %v", err)
			}
			if fe.Column != tc.column {
				t.Fatalf("column = %q, want %q (%v)", fe.Column, tc.column, err)
			}
		})
	}
}

func TestImportAllRejectsDuplicateIDs(t *testing.T) {
	tables := export(t, sampleCollection())
	users := tables[record.KindUser].String()
	_, err := tabular.ImportAll(tabular.Options{}, strings.NewReader(users), strings.NewReader(users))
	var fe *domain.FormatRoundTripError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatRoundTripError, got %v", err)
	}
}

func TestParseUnknownColumns(t *testing.T) {
	if p, err := tabular.ParseUnknownColumns("Reject"); err != nil || p != tabular.Reject {
		t.Fatalf("reject: %v %v", p, err)
	}
	if p, err := tabular.ParseUnknownColumns(""); err != nil || p != tabular.Preserve {
		t.Fatalf("default: %v %v", p, err)
	}
	if _, err := tabular.ParseUnknownColumns("drop"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestRoundTripKeepsLineBreaksAndRawBytes(t *testing.T) {
	texts := []string{
		"line one\r\nline two",
		"carriage\ronly",
		"ends with crlf\r\n",
		"\r\n\r\n",
		"invalid \xff\xfe utf-8",
		"tab\tand \"quotes\", comma",
		"",
	}
	var answers []domain.Answer
	for i, text := range texts {
		answers = append(answers, domain.Answer{QuestionID: fmt.Sprintf("q%d", i), Value: domain.TextValue(text)})
	}
	answers = append(answers, domain.Answer{QuestionID: "choice", Value: domain.ChoiceValue("sí\r\nno")})

	want := tabular.Collection{
		Responses: []domain.SurveyResponse{{ID: "r1", UserID: "u1", SurveyID: "s", SubmittedAt: base, Answers: answers}},
		Assessments: []domain.RiskAssessment{{
			ID: "a1", UserID: "u1", ComputedAt: base, Level: domain.LevelLow,
			Window:        "last\r\n10 responses",
			EvidenceSince: base,
			Resolution:    &domain.Resolution{ResolvedAt: base, Note: "primera línea\r\nsegunda \xff\r"},
		}},
		Extras: map[record.Kind]tabular.ExtraColumns{
			record.KindResponse: {Names: []string{"counselor"}, Rows: map[string][]string{tabular.RowKey("r1", "0"): {"m.ruiz\r\nturno tarde"}}},
		},
	}
	want.Normalize()
	if got := want.Extras[record.KindResponse].Rows["r1#0"][0]; got != "m.ruiz\nturno tarde" {
		t.Fatalf("extras should hold line breaks the way a CSV reader returns them, got %q", got)
	}

	got := importAll(t, export(t, want), tabular.Options{})
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip lost data\n got: %+v\nwant: %+v", got.Responses[0].Answers, want.Responses[0].Answers)
	}
}

func TestExportRefusesUnstorableCells(t *testing.T) {
	cases := map[string]struct {
		c      tabular.Collection
		column string
	}{
		"crlf in handle": {
			c:      tabular.Collection{Users: []domain.User{{ID: "u1", Handle: "ana\r\n09", Email: "ana@example.com", Age: 15, CreatedAt: base}}},
			column: "handle",
		},
		"crlf in question id": {
			c: tabular.Collection{Responses: []domain.SurveyResponse{{
				ID: "r1", UserID: "u1", SurveyID: "s", SubmittedAt: base,
				Answers: []domain.Answer{{QuestionID: "q\r\n1", Value: domain.IntValue(1)}},
			}}},
			column: "question_id",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tabular.Export(context.Background(), tc.c, func(record.Kind) (io.Writer, error) { return io.Discard, nil })
			var fe *domain.FormatRoundTripError
			if !errors.As(err, &fe) || fe.Column != tc.column {
				t.Fatalf("expected format error on %s, got %v", tc.column, err)
			}
		})
	}

	invalid := tabular.Collection{Assessments: []domain.RiskAssessment{{
		ID: "a1", UserID: "u1", ComputedAt: base, Level: domain.LevelLow, Reasons: []string{"bad \xff byte"},
	}}}
	if err := tabular.Export(context.Background(), invalid, func(record.Kind) (io.Writer, error) { return io.Discard, nil }); err == nil {
		t.Fatal("expected invalid UTF-8 in a JSON list to be refused")
	}
}
