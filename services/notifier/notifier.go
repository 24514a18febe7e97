package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto_dashboard/logger"
	"crypto_dashboard/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const charset = "UTF-8"

// NotifyError wraps a delivery failure. It never aborts a pipeline run.
type NotifyError struct {
	Kind string // "summary" or "error_alert"
	Err  error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("send %s notification: %v", e.Kind, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

// EmailSender is the subset of the SES v2 client used here
type EmailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier sends the daily summary and error alerts through Amazon SES
type SESNotifier struct {
	client EmailSender
	from   string
	to     string
	now    func() time.Time
	log    *logger.Entry
}

// NewSESNotifier builds an SES client from the default AWS credential chain
func NewSESNotifier(ctx context.Context, region, from, to string) (*SESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(sesv2.NewFromConfig(cfg), from, to), nil
}

func NewSESNotifierWithClient(client EmailSender, from, to string) *SESNotifier {
	return &SESNotifier{
		client: client,
		from:   from,
		to:     to,
		now:    time.Now,
		log:    logger.GetLogger().WithComponent("notifier"),
	}
}

// SendSummary emails the top-N table. The bool reports whether SES accepted it.
func (n *SESNotifier) SendSummary(ctx context.Context, quotes []models.Quote) (bool, error) {
	now := n.now()
	subject := fmt.Sprintf("Daily Crypto Dashboard - Top %d - %s", len(quotes), now.Format("2006-01-02"))

	html, err := RenderSummaryHTML(quotes, now)
	if err != nil {
		return false, &NotifyError{Kind: "summary", Err: err}
	}
	text := RenderSummaryText(quotes, now)

	return n.send(ctx, "summary", subject, html, text)
}

// SendErrorAlert emails a failure notice for a run
func (n *SESNotifier) SendErrorAlert(ctx context.Context, message string) (bool, error) {
	now := n.now()
	subject := fmt.Sprintf("Crypto Dashboard Error - %s", now.Format("2006-01-02 15:04:05"))

	html, err := RenderErrorHTML(message, now)
	if err != nil {
		return false, &NotifyError{Kind: "error_alert", Err: err}
	}
	text := RenderErrorText(message, now)

	return n.send(ctx, "error_alert", subject, html, text)
}

func (n *SESNotifier) send(ctx context.Context, kind, subject, html, text string) (bool, error) {
	if n.from == "" || n.to == "" {
		return false, &NotifyError{Kind: kind, Err: errors.New("sender or recipient address not configured")}
	}

	out, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: []string{n.to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String(charset)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html), Charset: aws.String(charset)},
					Text: &types.Content{Data: aws.String(text), Charset: aws.String(charset)},
				},
			},
		},
	})
	if err != nil {
		n.log.WithError(err).WithField("kind", kind).Error("Failed to send email")
		return false, &NotifyError{Kind: kind, Err: err}
	}

	n.log.WithFields(logger.Fields{
		"kind":       kind,
		"to":         n.to,
		"message_id": aws.ToString(out.MessageId),
	}).Info("Email sent")
	return true, nil
}

// Disabled is used when email notifications are switched off
type Disabled struct{}

func (Disabled) SendSummary(context.Context, []models.Quote) (bool, error) {
	logger.GetLogger().WithComponent("notifier").Debug("Email notifications disabled, summary not sent")
	return false, nil
}

func (Disabled) SendErrorAlert(context.Context, string) (bool, error) {
	logger.GetLogger().WithComponent("notifier").Debug("Email notifications disabled, error alert not sent")
	return false, nil
}
