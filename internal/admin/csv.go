package admin

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/approval-polls/backend/internal/models"
)

var pollHeader = []string{"id", "question", "owner", "pub_date", "close_date", "vtype", "private", "suspended", "ballots", "votes"}

// WritePollsCSV writes the polls export.
func WritePollsCSV(w io.Writer, rows []PollRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(pollHeader); err != nil {
		return err
	}
	for _, p := range rows {
		record := []string{
			strconv.FormatInt(p.ID, 10),
			textCell(p.Question),
			textCell(p.Owner),
			p.PubDate.UTC().Format(time.RFC3339),
			formatTime(p.CloseDate),
			strconv.Itoa(int(p.VType)),
			strconv.FormatBool(p.IsPrivate),
			strconv.FormatBool(p.IsSuspended),
			strconv.Itoa(p.Ballots),
			strconv.Itoa(p.Votes),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBallotsCSV writes one line per ballot followed by a 0/1 column per choice, in choice order.
func WriteBallotsCSV(w io.Writer, choices []models.Choice, ballots []models.Ballot) error {
	cw := csv.NewWriter(w)
	header := []string{"ballot_id", "timestamp", "username", "email", "permit_email"}
	for _, c := range choices {
		header = append(header, textCell(c.Text))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, b := range ballots {
		approved := make(map[int64]bool, len(b.ChoiceIDs))
		for _, id := range b.ChoiceIDs {
			approved[id] = true
		}
		email := ""
		if b.Email != nil {
			email = *b.Email
		}
		record := []string{
			strconv.FormatInt(b.ID, 10),
			b.Timestamp.UTC().Format(time.RFC3339),
			textCell(b.Username),
			textCell(email),
			strconv.FormatBool(b.PermitEmail),
		}
		for _, c := range choices {
			if approved[c.ID] {
				record = append(record, "1")
			} else {
				record = append(record, "0")
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// textCell quotes user text that a spreadsheet would otherwise evaluate as a formula.
func textCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
