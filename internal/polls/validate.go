package polls

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/internal/tags"
	"github.com/approval-polls/backend/pkg/response"
	"github.com/approval-polls/backend/pkg/utils"
)

// Length limits of poll text fields.
const (
	MaxQuestionLength = 200
	MaxChoiceLength   = 200
	MaxLinkLength     = 2048
)

// Field error messages.
const (
	MsgQuestionMissing = "The question is missing"
	MsgChoiceRequired  = "At least one choice is required"
	MsgTooLong200      = "Ensure this value has at most 200 characters."
	MsgLinkTooLong     = "Ensure this value has at most 2048 characters."
	MsgLinkInvalid     = "Enter a valid URL."
	MsgRequired        = "This field is required."
	MsgVType           = "Select a valid voting type."
	MsgCloseDatePast   = "The close date must be in the future."
	MsgEmailInvalid    = "Enter a valid email address."
	MsgChoiceUnknown   = "Select a valid choice."
)

// ChoiceInput is a choice as submitted by the poll form.
type ChoiceInput struct {
	ID   int64  `json:"id,omitempty"`
	Text string `json:"text"`
	Link string `json:"link"`
}

func tooLong(s string, max int) bool { return utf8.RuneCountInString(s) > max }

func validateQuestion(errs response.FieldErrors, question string) string {
	q := strings.TrimSpace(question)
	switch {
	case q == "":
		errs.Add("question", MsgQuestionMissing)
	case tooLong(q, MaxQuestionLength):
		errs.Add("question", MsgTooLong200)
	}
	return q
}

func validateLink(errs response.FieldErrors, field, raw string) *string {
	link := strings.TrimSpace(raw)
	if link == "" {
		return nil
	}
	switch {
	case tooLong(link, MaxLinkLength):
		errs.Add(field, MsgLinkTooLong)
	case !utils.ValidURL(link):
		errs.Add(field, MsgLinkInvalid)
	}
	return &link
}

// validateNewChoices trims the submitted choices and drops blank ones.
func validateNewChoices(errs response.FieldErrors, field string, in []ChoiceInput) []NewChoice {
	out := make([]NewChoice, 0, len(in))
	for _, c := range in {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		if tooLong(text, MaxChoiceLength) {
			errs.Add(field, MsgTooLong200)
		}
		out = append(out, NewChoice{Text: text, Link: validateLink(errs, field, c.Link)})
	}
	return out
}

// validateChoiceEdits requires text on every edited choice.
func validateChoiceEdits(errs response.FieldErrors, field string, in []ChoiceInput) []ChoiceEdit {
	out := make([]ChoiceEdit, 0, len(in))
	for _, c := range in {
		text := strings.TrimSpace(c.Text)
		switch {
		case c.ID <= 0:
			errs.Add(field, MsgChoiceUnknown)
			continue
		case text == "":
			errs.Add(field, MsgRequired)
		case tooLong(text, MaxChoiceLength):
			errs.Add(field, MsgTooLong200)
		}
		out = append(out, ChoiceEdit{ID: c.ID, Text: text, Link: validateLink(errs, field, c.Link)})
	}
	return out
}

func validateVType(errs response.FieldErrors, v int) models.VoteType {
	if v == 0 {
		return models.VoteTypeAuthenticated
	}
	vt := models.VoteType(v)
	if !vt.Valid() {
		errs.Add("vtype", MsgVType)
	}
	return vt
}

func validateCloseDate(errs response.FieldErrors, closeDate *time.Time, now time.Time) {
	if closeDate != nil && !closeDate.After(now) {
		errs.Add("close_date", MsgCloseDatePast)
	}
}

func validateTags(errs response.FieldErrors, raw []string) []string {
	list, err := tags.NormalizeAll(raw)
	if err != nil {
		errs.Add("tags", err.Error())
	}
	return list
}

// ValidateEmails normalizes invitation addresses, dropping blanks and duplicates.
func ValidateEmails(errs response.FieldErrors, field string, raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		e := utils.NormalizeEmail(r)
		if e == "" {
			continue
		}
		if !utils.ValidEmail(e) {
			errs.Add(field, MsgEmailInvalid)
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
