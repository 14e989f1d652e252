package esp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/pkg/logger"
)

// SESTransport sends through the SES v2 API. SDK retries are disabled; the
// dispatch retry policy owns retrying.
type SESTransport struct {
	client           *sesv2.Client
	configurationSet string
}

// NewSESTransport loads AWS configuration. Static keys are used when both
// are set; otherwise the default credential chain applies.
func NewSESTransport(cfg SESConfig) (*SESTransport, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSESTransportFromConfig(awsCfg, cfg.Endpoint, cfg.ConfigurationSet), nil
}

// NewSESTransportFromConfig builds the transport from an existing AWS config.
// endpoint overrides the service URL when non-empty.
func NewSESTransportFromConfig(awsCfg aws.Config, endpoint, configurationSet string) *SESTransport {
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		o.Retryer = aws.NopRetryer{}
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &SESTransport{client: client, configurationSet: configurationSet}
}

func (t *SESTransport) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{formatAddress(msg.ToName, msg.To)}},
		EmailTags: []types.MessageTag{
			{Name: aws.String("batch_id"), Value: aws.String(msg.BatchID)},
		},
	}
	if t.configurationSet != "" {
		input.ConfigurationSetName = aws.String(t.configurationSet)
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	// Simple content cannot carry attachments or custom headers.
	if len(msg.Attachments) > 0 || len(msg.Headers) > 0 || priorityHeader(msg.Priority) != "" {
		raw, err := BuildMIME(msg, time.Now())
		if err != nil {
			return "", domain.NewSendError(domain.CategoryValidation, true, fmt.Errorf("build raw message: %w", err))
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	} else {
		body := &types.Body{}
		if msg.HTML != "" {
			body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
		}
		if msg.Text != "" {
			body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
		}
		input.Content = &types.EmailContent{Simple: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		}}
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		logger.Warn("SES send failed", "email", msg.To, "error", err.Error())
		return "", classifySESError(err)
	}

	id := aws.ToString(out.MessageId)
	logger.Debug("SES sent", "email", msg.To, "message_id", id)
	return id, nil
}

// classifySESError maps SES API error codes onto the failure taxonomy.
func classifySESError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "LimitExceededException", "Throttling", "ThrottlingException":
			return domain.NewSendError(domain.CategoryRateLimit, false, err)
		case "BadRequestException", "MessageRejected":
			return domain.NewSendError(domain.CategoryValidation, true, err)
		case "AccountSuspendedException", "SendingPausedException",
			"UnrecognizedClientException", "InvalidClientTokenId", "SignatureDoesNotMatch", "AccessDeniedException":
			return domain.NewSendError(domain.CategoryAuthentication, true, err)
		case "MailFromDomainNotVerifiedException", "NotFoundException":
			return domain.NewSendError(domain.CategoryInvalidRecipient, true, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return ClassifyStatus(respErr.HTTPStatusCode(), err)
	}
	return classifyNetError(err)
}
