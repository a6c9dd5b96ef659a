package usecase

import (
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"
)

var verificationEmail = template.Must(template.New("verification").Parse(`Hello {{.Username}},

Your verification code is {{.Code}}.

It expires in {{.Minutes}} minutes. If you did not create an account, ignore this email.
`))

var passwordResetEmail = template.Must(template.New("password_reset").Parse(`Hello {{.Username}},

We received a request to reset your password. Use this code to continue:

{{.Code}}

It expires in {{.Minutes}} minutes. If you did not ask for a reset, your password stays unchanged.
`))

// renderOTPEmail returns the subject and plain-text body for a code email.
func renderOTPEmail(purpose OTPPurpose, username, code string, ttl time.Duration) (string, string) {
	subject, tmpl := "OTP", verificationEmail
	if purpose == PurposePasswordReset {
		subject, tmpl = "Password reset code", passwordResetEmail
	}

	data := struct {
		Username string
		Code     string
		Minutes  int
	}{
		Username: username,
		Code:     code,
		Minutes:  int(ttl / time.Minute),
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		// the code itself must still reach the user
		log.Error().Err(err).Str("template", tmpl.Name()).Msg("failed to render email")
		return subject, code
	}
	return subject, buf.String()
}
