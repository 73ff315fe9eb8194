package integration

import (
	"fmt"
	"strings"
	"time"
)

// TestUser generates unique test user credentials using timestamp
func TestUser(suffix string) (email, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "CorrectHorseBattery9!"
	return
}

// ExtractResetToken pulls the reset token out of a captured email body.
// Body format: "Reset token: {token}"
func ExtractResetToken(emailBody string) string {
	const prefix = "Reset token: "
	if rest, ok := strings.CutPrefix(emailBody, prefix); ok {
		return rest
	}
	return ""
}
