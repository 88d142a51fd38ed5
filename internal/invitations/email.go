package invitations

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/approval-polls/backend/internal/models"
)

//go:embed templates/invitation.html
var templateFS embed.FS

var invitationTmpl = template.Must(template.ParseFS(templateFS, "templates/invitation.html"))

const closeDateLayout = "January 2, 2006 at 3:04 PM MST"

// Link returns the personal voting link of an invitation.
func Link(baseURL string, pollID int64, key, email string) string {
	return fmt.Sprintf("%s/polls/%d?key=%s&email=%s", baseURL, pollID, url.QueryEscape(key), url.QueryEscape(email))
}

// Subject is the subject line of an invitation email.
func Subject(question string) string {
	return "Invitation to vote: " + question
}

type emailData struct {
	Owner     string
	Question  string
	CloseDate string
	Link      string
}

// Render builds the HTML body of an invitation. The close date, when the poll shows it,
// is written in loc.
func Render(p *models.Poll, link string, loc *time.Location) (string, error) {
	data := emailData{Owner: p.Owner, Question: p.Question, Link: link}
	if p.ShowCloseDate && p.CloseDate != nil {
		if loc == nil {
			loc = time.UTC
		}
		data.CloseDate = p.CloseDate.In(loc).Format(closeDateLayout)
	}
	var buf bytes.Buffer
	if err := invitationTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render invitation: %w", err)
	}
	return buf.String(), nil
}
