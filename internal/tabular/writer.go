package tabular

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"wellbeing-survey-service/internal/domain"
	"wellbeing-survey-service/internal/record"
)

// Writer streams records of one kind as CSV rows. The header is written with the first
// record, or by Flush for an empty table.
type Writer struct {
	csv     *csv.Writer
	kind    record.Kind
	columns []string
	extras  ExtraColumns
	started bool
}

// NewWriter creates a writer for kind. Preserved extras are appended after the fixed
// columns and re-emitted for matching row keys.
func NewWriter(w io.Writer, kind record.Kind, extras ExtraColumns) (*Writer, error) {
	cols, err := Columns(kind)
	if err != nil {
		return nil, err
	}
	return &Writer{csv: csv.NewWriter(w), kind: kind, columns: cols, extras: extras}, nil
}

func (w *Writer) header() error {
	if w.started {
		return nil
	}
	w.started = true
	head := append(append([]string(nil), w.columns...), w.extras.Names...)
	return w.csv.Write(head)
}

// row writes one line. Text columns are quoted by the caller; a raw "\r\n" left in any
// other fixed column would not survive a CSV reader, so it is refused.
func (w *Writer) row(key string, cells []string) error {
	for i, cell := range cells {
		if strings.Contains(cell, "\r\n") {
			return &FormatError{Column: w.columns[i], Reason: "a CRLF line break cannot be stored in this column"}
		}
	}
	if err := w.header(); err != nil {
		return err
	}
	if len(w.extras.Names) > 0 {
		padded := make([]string, len(w.extras.Names))
		copy(padded, csvLineBreaks(w.extras.Rows[key]))
		cells = append(cells, padded...)
	}
	return w.csv.Write(cells)
}

func (w *Writer) expect(kind record.Kind) error {
	if w.kind != kind {
		return domain.ContractError("writer for %s tables cannot write %s records", w.kind, kind)
	}
	return nil
}

func (w *Writer) WriteUser(u domain.User) error {
	if err := w.expect(record.KindUser); err != nil {
		return err
	}
	cells := []string{
		FormatVersion, string(record.KindUser),
		u.ID, u.Handle, u.Email, strconv.Itoa(u.Age), strconv.FormatBool(u.Consent),
		formatTime(u.CreatedAt), formatTime(u.Profile.UpdatedAt),
	}
	for _, k := range domain.IndicatorKinds {
		if v, ok := u.Profile.Levels[k]; ok {
			cells = append(cells, formatFloat(v))
		} else {
			cells = append(cells, "")
		}
	}
	return w.row(RowKey(u.ID, ""), cells)
}

func (w *Writer) WriteResponse(r domain.SurveyResponse) error {
	if err := w.expect(record.KindResponse); err != nil {
		return err
	}
	head := []string{FormatVersion, string(record.KindResponse), r.ID, r.UserID, r.SurveyID, formatTime(r.SubmittedAt)}
	if len(r.Answers) == 0 {
		return w.row(RowKey(r.ID, ""), append(head, "", "", "", "", ""))
	}
	for i, a := range r.Answers {
		kind, value, err := encodeValue(a.Value)
		if err != nil {
			return err
		}
		idx := strconv.Itoa(i)
		cells := append(append([]string(nil), head...), idx, a.QuestionID, kind, value, strconv.FormatBool(a.Truncated))
		if err := w.row(RowKey(r.ID, idx), cells); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) WriteAssessment(a domain.RiskAssessment) error {
	if err := w.expect(record.KindAssessment); err != nil {
		return err
	}
	reasons, err := formatStrings(a.Reasons)
	if err != nil {
		return err
	}
	resolvedAt, note := "", ""
	if a.Resolution != nil {
		resolvedAt, note = formatTime(a.Resolution.ResolvedAt), quoteText(a.Resolution.Note)
	}
	level, err := a.Level.MarshalText()
	if err != nil {
		return err
	}
	head := []string{
		FormatVersion, string(record.KindAssessment),
		a.ID, a.UserID, formatTime(a.ComputedAt), string(level), quoteText(a.Window), a.Supersedes,
		formatTime(a.EvidenceSince), resolvedAt, note, reasons,
	}
	if len(a.Indicators) == 0 {
		return w.row(RowKey(a.ID, ""), append(head, "", "", "", "", "", ""))
	}
	for i, ind := range a.Indicators {
		idx := strconv.Itoa(i)
		cells := append(append([]string(nil), head...),
			idx, string(ind.Kind), formatFloat(ind.Severity),
			ind.SourceResponseID, ind.QuestionID, formatTime(ind.ObservedAt))
		if err := w.row(RowKey(a.ID, idx), cells); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes the header if nothing was written and flushes buffered rows.
func (w *Writer) Flush() error {
	if err := w.header(); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// ExportUsers streams users to w, checking ctx between records.
func ExportUsers(ctx context.Context, out io.Writer, users []domain.User, extras ExtraColumns) error {
	w, err := NewWriter(out, record.KindUser, extras)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteUser(u); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ExportResponses streams responses to w, checking ctx between records.
func ExportResponses(ctx context.Context, out io.Writer, responses []domain.SurveyResponse, extras ExtraColumns) error {
	w, err := NewWriter(out, record.KindResponse, extras)
	if err != nil {
		return err
	}
	for _, r := range responses {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteResponse(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ExportAssessments streams assessments to w, checking ctx between records.
func ExportAssessments(ctx context.Context, out io.Writer, assessments []domain.RiskAssessment, extras ExtraColumns) error {
	w, err := NewWriter(out, record.KindAssessment, extras)
	if err != nil {
		return err
	}
	for _, a := range assessments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteAssessment(a); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Export writes every table of c in canonical order. open returns the destination of a
// kind's table.
func Export(ctx context.Context, c Collection, open func(kind record.Kind) (io.Writer, error)) error {
	c.Users = append([]domain.User(nil), c.Users...)
	c.Responses = append([]domain.SurveyResponse(nil), c.Responses...)
	c.Assessments = append([]domain.RiskAssessment(nil), c.Assessments...)
	c.Normalize()

	for _, kind := range record.Kinds {
		out, err := open(kind)
		if err != nil {
			return err
		}
		extras := c.Extras[kind]
		switch kind {
		case record.KindUser:
			err = ExportUsers(ctx, out, c.Users, extras)
		case record.KindResponse:
			err = ExportResponses(ctx, out, c.Responses, extras)
		case record.KindAssessment:
			err = ExportAssessments(ctx, out, c.Assessments, extras)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
