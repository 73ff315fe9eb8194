package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailService defines the security notification surface.
type EmailService interface {
	SendLockoutNotice(ctx context.Context, email string, unlockAt time.Time) error
	SendSuspiciousLoginNotice(ctx context.Context, email, ip, userAgent string, at time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}

// AWSSESEmailService sends security notifications using AWS SES.
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	resetURL    string
	logger      *slog.Logger
}

func NewAWSSESEmailService(region, fromAddress, resetURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		resetURL:    resetURL,
		logger:      logger,
	}, nil
}

// SendLockoutNotice tells the account owner their account was locked
// after repeated failed logins.
func (s *AWSSESEmailService) SendLockoutNotice(ctx context.Context, email string, unlockAt time.Time) error {
	textBody := fmt.Sprintf(`Your account has been temporarily locked

We detected several failed sign-in attempts on your account, so sign-in
has been disabled until %s (UTC).

If this was you, wait for the lock to expire and try again, or reset
your password now using the "Forgot password" link.

If this was NOT you, someone may be trying to guess your password. We
recommend resetting your password once the lock expires.

This is an automated security message. Please do not reply.
`, unlockAt.UTC().Format(time.RFC1123))

	return s.send(ctx, email, "Your account has been temporarily locked", textBody)
}

// SendSuspiciousLoginNotice alerts the owner about a high-risk sign-in.
func (s *AWSSESEmailService) SendSuspiciousLoginNotice(ctx context.Context, email, ip, userAgent string, at time.Time) error {
	textBody := fmt.Sprintf(`New sign-in to your account

We noticed a sign-in that looks unusual:

    Time:       %s (UTC)
    IP address: %s
    Device:     %s

If this was you, no action is needed.

If you don't recognize this sign-in, change your password immediately
and review your active sessions.

This is an automated security message. Please do not reply.
`, at.UTC().Format(time.RFC1123), ip, userAgent)

	return s.send(ctx, email, "New sign-in to your account", textBody)
}

// SendPasswordResetEmail delivers the single-use reset link.
func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.resetURL, token)

	textBody := fmt.Sprintf(`Reset your password

We received a request to reset the password for your account. Use the
link below to choose a new password:

%s

This link works once and expires at %s (UTC).

If you didn't request a reset, you can ignore this email. Your password
will not change.

This is an automated security message. Please do not reply.
`, resetLink, expiresAt.UTC().Format(time.RFC1123))

	return s.send(ctx, email, "Reset your password", textBody)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("security email sent",
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))

	return nil
}

// NoopEmailService logs instead of sending. Used when email delivery
// is disabled (local development, tests).
type NoopEmailService struct {
	logger *slog.Logger
}

func NewNoopEmailService(logger *slog.Logger) *NoopEmailService {
	return &NoopEmailService{logger: logger}
}

func (s *NoopEmailService) SendLockoutNotice(ctx context.Context, email string, unlockAt time.Time) error {
	s.logger.Info("email disabled, skipping lockout notice", slog.Time("unlock_at", unlockAt))
	return nil
}

func (s *NoopEmailService) SendSuspiciousLoginNotice(ctx context.Context, email, ip, userAgent string, at time.Time) error {
	s.logger.Info("email disabled, skipping suspicious login notice", slog.String("ip", ip))
	return nil
}

func (s *NoopEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.logger.Info("email disabled, skipping password reset email", slog.Time("expires_at", expiresAt))
	return nil
}
