package send

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/leadflow/leadflow/internal/lead"
	"github.com/resend/resend-go/v2"
)

// ResendBackend submits batches through the Resend batch API.
type ResendBackend struct {
	client *resend.Client
	from   string
}

func NewResendBackend(apiKey, from string) (*ResendBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("resend from address is required")
	}
	return &ResendBackend{
		client: resend.NewClient(strings.TrimSpace(apiKey)),
		from:   strings.TrimSpace(from),
	}, nil
}

// SendBatch submits one batch. Resend accepts or rejects the batch as a
// whole, so a call error is reported for every item; on success the
// response data comes back in request order, one entry per item.
func (b *ResendBackend) SendBatch(ctx context.Context, batch []lead.GeneratedEmail) ([]Delivery, error) {
	params := make([]*resend.SendEmailRequest, 0, len(batch))
	for _, item := range batch {
		params = append(params, &resend.SendEmailRequest{
			From:    b.from,
			To:      []string{item.Recipient},
			Subject: item.Subject,
			Text:    item.Body,
		})
	}

	resp, err := b.client.Batch.SendWithContext(ctx, params)
	if err != nil {
		return nil, classifyErr(err)
	}

	deliveries := make([]Delivery, len(batch))
	for i := range deliveries {
		if i < len(resp.Data) {
			deliveries[i] = Delivery{MessageID: resp.Data[i].Id}
			continue
		}
		deliveries[i] = Delivery{Err: errMissingDelivery}
	}
	return deliveries, nil
}

func classifyErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &lead.TransientError{Err: err}
	}
	// Resend surfaces HTTP failures as message strings only; rate limiting
	// is the one case worth retrying.
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "too many requests") {
		return &lead.RateLimitedError{Err: err}
	}
	return err
}
