package consumer

import (
	"context"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
)

// HandleSQSEvent is the Lambda entry point for an SQS event source mapping
// with ReportBatchItemFailures enabled. Per-record failures are reported in
// the response, never as an error.
func (p *Processor) HandleSQSEvent(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	records := make([]Record, 0, len(event.Records))
	for _, m := range event.Records {
		rc, _ := strconv.Atoi(m.Attributes["ApproximateReceiveCount"])
		records = append(records, Record{
			MessageID:    m.MessageId,
			Body:         []byte(m.Body),
			ReceiveCount: rc,
		})
	}

	res := p.ProcessBatch(ctx, records)

	resp := events.SQSEventResponse{
		BatchItemFailures: make([]events.SQSBatchItemFailure, 0, len(res.Failed)),
	}
	for _, id := range res.Failed {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return resp, nil
}
