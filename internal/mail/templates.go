// Package mail renders account emails and hands them to a delivery transport.
package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/dtroode/moodist-server/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	verificationSubject = "Verify Your Moodist Account - Action Required (%d Days)"
	resetSubject        = "Your Moodist Password Reset Code"
)

type verificationData struct {
	Link      string
	Code      string
	ValidDays int
}

type resetData struct {
	Code         string
	ValidMinutes int
}

// VerificationMessage renders the registration email. link may be empty.
func VerificationMessage(to, link, code string, validDays int) (model.Message, error) {
	html, err := render("verification.html", verificationData{Link: link, Code: code, ValidDays: validDays})
	if err != nil {
		return model.Message{}, err
	}
	return model.Message{
		To:      to,
		Subject: fmt.Sprintf(verificationSubject, validDays),
		HTML:    html,
		Kind:    model.MessageVerification,
	}, nil
}

// PasswordResetMessage renders the reset code email.
func PasswordResetMessage(to, code string, validMinutes int) (model.Message, error) {
	html, err := render("password_reset.html", resetData{Code: code, ValidMinutes: validMinutes})
	if err != nil {
		return model.Message{}, err
	}
	return model.Message{
		To:      to,
		Subject: resetSubject,
		HTML:    html,
		Kind:    model.MessagePasswordReset,
	}, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}
