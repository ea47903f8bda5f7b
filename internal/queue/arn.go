package queue

import (
	"fmt"
	"strings"
)

const (
	LocalRegion  = "local"
	LocalAccount = "000000000000"
)

// ARN builds an SQS-style queue ARN: arn:aws:sqs:{region}:{account}:{name}.
func ARN(region, account, name string) string {
	return fmt.Sprintf("arn:aws:sqs:%s:%s:%s", region, account, name)
}

// LocalARN is the ARN the lite backend hands out for its queues.
func LocalARN(name string) string {
	return ARN(LocalRegion, LocalAccount, name)
}

// ParsedARN is the useful part of a queue ARN.
type ParsedARN struct {
	Partition string
	Region    string
	Account   string
	Name      string
}

func ParseARN(arn string) (ParsedARN, error) {
	parts := strings.Split(arn, ":")
	if len(parts) != 6 || parts[0] != "arn" || parts[2] != "sqs" || parts[5] == "" {
		return ParsedARN{}, fmt.Errorf("%w: %q", ErrInvalidARN, arn)
	}
	return ParsedARN{
		Partition: parts[1],
		Region:    parts[3],
		Account:   parts[4],
		Name:      parts[5],
	}, nil
}

// QueueName returns the queue name of an ARN.
func QueueName(arn string) (string, error) {
	p, err := ParseARN(arn)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}
