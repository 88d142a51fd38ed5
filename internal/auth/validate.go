package auth

import (
	"regexp"
	"strings"
	"time"

	"github.com/approval-polls/backend/pkg/response"
	"github.com/approval-polls/backend/pkg/utils"
)

// MaxUsernameLength is the longest accepted username.
const MaxUsernameLength = 30

// Field error messages shown to users.
const (
	MsgRequired         = "This field is required."
	MsgUsernameChars    = "This value may contain only letters, numbers and ./+/-/_ characters."
	MsgUsernameLength   = "Ensure this value has at most 30 characters."
	MsgUsernameTaken    = "A user with that username already exists."
	MsgEmailInvalid     = "Enter a valid email address."
	MsgEmailTaken       = "This email address is already in use. Please supply a different email address."
	MsgPasswordShort    = "Ensure this value has at least 6 characters."
	MsgPasswordMismatch = "The two password fields didn't match."
	MsgOldPassword      = "Your old password was entered incorrectly. Please enter it again."
	MsgZipcode          = "Please enter a zip code (5 digits, Non-U.S. : 00000)"
	MsgTimezone         = "Unknown time zone."
)

var (
	usernameRE = regexp.MustCompile(`^[\w.+-]+$`)
	zipcodeRE  = regexp.MustCompile(`^[0-9]{5}$`)
)

// ValidateUsername adds any problems with username to errs under field.
func ValidateUsername(errs response.FieldErrors, field, username string) {
	switch {
	case username == "":
		errs.Add(field, MsgRequired)
	case len(username) > MaxUsernameLength:
		errs.Add(field, MsgUsernameLength)
	case !usernameRE.MatchString(username):
		errs.Add(field, MsgUsernameChars)
	}
}

// ValidateZipcode checks the newsletter zip code: required, exactly five digits.
func ValidateZipcode(errs response.FieldErrors, field, zipcode string) {
	zipcode = strings.TrimSpace(zipcode)
	switch {
	case zipcode == "":
		errs.Add(field, MsgRequired)
	case !zipcodeRE.MatchString(zipcode):
		errs.Add(field, MsgZipcode)
	}
}

// ValidateNewPassword checks length and confirmation of a new password pair.
func ValidateNewPassword(errs response.FieldErrors, field, confirmField, password, confirm string) {
	if password == "" {
		errs.Add(field, MsgRequired)
	} else if len(password) < utils.MinPasswordLength {
		errs.Add(field, MsgPasswordShort)
	}
	if confirm == "" {
		errs.Add(confirmField, MsgRequired)
	} else if password != confirm {
		errs.Add(confirmField, MsgPasswordMismatch)
	}
}

// ValidTimezone reports whether name is a loadable IANA zone.
func ValidTimezone(name string) bool {
	if name == "" || name == "Local" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// UsernameFromEmail derives a candidate username from the local part of an email address.
func UsernameFromEmail(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	var b strings.Builder
	for _, r := range local {
		if r < 128 && usernameRE.MatchString(string(r)) {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = "user"
	}
	if len(name) > MaxUsernameLength {
		name = name[:MaxUsernameLength]
	}
	return name
}
