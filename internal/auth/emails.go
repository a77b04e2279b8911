package auth

import (
	"fmt"

	"github.com/meishi-app/meishi/internal/mailer"
)

func activationEmail(baseURL string, user *User, rawToken string) mailer.Email {
	link := fmt.Sprintf("%s/auth/activate?id=%d&token=%s", baseURL, user.ID, rawToken)
	return mailer.Email{
		To:      []string{user.Email},
		Subject: "Activate your meishi account",
		Body: fmt.Sprintf(
			"Hi %s,\n\nWelcome to meishi. Click the link below to activate your account:\n\n%s\n\nIf you did not sign up, you can ignore this email.\n",
			user.Name, link),
		HTMLBody: fmt.Sprintf(
			`<p>Hi %s,</p><p>Welcome to meishi. Click the link below to activate your account:</p><p><a href="%s">%s</a></p><p>If you did not sign up, you can ignore this email.</p>`,
			user.Name, link, link),
	}
}

func resetEmail(baseURL string, user *User, rawToken string) mailer.Email {
	link := fmt.Sprintf("%s/auth/reset/edit?id=%d&token=%s", baseURL, user.ID, rawToken)
	return mailer.Email{
		To:      []string{user.Email},
		Subject: "Password reset",
		Body: fmt.Sprintf(
			"Hi %s,\n\nTo reset your password click the link below:\n\n%s\n\nThis link expires in two hours. If you did not request a reset, your password is unchanged and you can ignore this email.\n",
			user.Name, link),
		HTMLBody: fmt.Sprintf(
			`<p>Hi %s,</p><p>To reset your password click the link below:</p><p><a href="%s">%s</a></p><p>This link expires in two hours. If you did not request a reset, your password is unchanged and you can ignore this email.</p>`,
			user.Name, link, link),
	}
}
