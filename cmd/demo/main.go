package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/aridsondez/sqs-redrive/internal/api"
	"github.com/aridsondez/sqs-redrive/internal/consumer"
	"github.com/aridsondez/sqs-redrive/internal/logging"
	"github.com/aridsondez/sqs-redrive/internal/objectstore"
	"github.com/aridsondez/sqs-redrive/internal/redrive"
	"github.com/aridsondez/sqs-redrive/pkg/client"
	"github.com/aridsondez/sqs-redrive/pkg/worker"
)

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorBold    = "\033[1m"

	demoQueue = "demo-orders"
	demoDLQ   = "demo-orders-dlq"

	visibility      = 2 * time.Second
	maxReceiveCount = 2
)

type demo struct {
	baseURL string
	client  *client.Client
	objects *objectstore.Memory
	worker  *worker.Worker
	orders  *consumer.Processor
	redrive *redrive.Function
	// how long to wait for the server's sweeper to act
	settle time.Duration
}

func main() {
	baseURL := os.Getenv("LITE_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	settle := 3 * time.Second
	if v, err := time.ParseDuration(os.Getenv("DEMO_SETTLE")); err == nil {
		settle = v
	}

	logger := logging.New(os.Stderr, slog.LevelWarn, "demo")
	c := client.NewClient(baseURL)
	objects := objectstore.NewMemory()
	d := &demo{
		baseURL: baseURL,
		client:  c,
		objects: objects,
		worker:  worker.New(c, worker.Config{BatchSize: 10, Logger: logger}),
		orders:  consumer.New(objects, consumer.Config{Bucket: "demo-orders-bucket", Logger: logger}),
		settle:  settle,
	}

	printHeader()

	if !d.checkServer() {
		fmt.Printf("%s✗ Server not running. Please run 'make run' first.%s\n", colorRed, colorReset)
		os.Exit(1)
	}
	fmt.Printf("%s✓ Server is running%s\n\n", colorGreen, colorReset)

	ctx := context.Background()
	dlqARN, queueARN, err := d.setupQueues(ctx)
	if err != nil {
		fmt.Printf("%s✗ Queue setup failed: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	d.redrive = redrive.New(c, dlqARN, queueARN, logger)

	d.scenarioValidOrder(ctx)
	d.scenarioPoisonOrder(ctx)
	d.scenarioRedrive(ctx, dlqARN)
	d.displayMetrics()

	printFooter(baseURL)
}

func printHeader() {
	fmt.Print(colorCyan + colorBold)
	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║         SQS REDRIVE - INTERACTIVE DEMO                    ║")
	fmt.Println("║         Orders, Partial Batch Failures & DLQ Redrive      ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Print(colorReset)
	fmt.Println()
}

func printFooter(baseURL string) {
	fmt.Println()
	fmt.Print(colorCyan)
	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Demo Complete!                         ║")
	fmt.Printf("║  View live metrics at: %-35s ║\n", baseURL+"/metrics")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Print(colorReset)
}

func (d *demo) checkServer() bool {
	resp, err := http.Get(d.baseURL + "/healthz")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *demo) setupQueues(ctx context.Context) (dlqARN, queueARN string, err error) {
	printScenario("Setup: queue pair with a dead letter queue")

	queues := []client.Queue{
		{Name: demoDLQ, VisibilityTimeoutMS: visibility.Milliseconds()},
		{
			Name:                demoQueue,
			VisibilityTimeoutMS: visibility.Milliseconds(),
			RedrivePolicy:       &client.RedrivePolicy{DeadLetterQueue: demoDLQ, MaxReceiveCount: maxReceiveCount},
		},
	}
	arns := make([]string, 0, len(queues))
	for _, q := range queues {
		_, err := d.client.CreateQueue(ctx, q)
		var apiErr smithy.APIError
		if err != nil && !(errors.As(err, &apiErr) && apiErr.ErrorCode() == api.CodeQueueExists) {
			return "", "", err
		}
		got, err := d.client.GetQueue(ctx, q.Name)
		if err != nil {
			return "", "", err
		}
		fmt.Printf("%s  ✓ %s%s  %s\n", colorGreen, got.Name, colorReset, got.ARN)
		arns = append(arns, got.ARN)
	}
	fmt.Printf("    max_receive_count=%d, visibility=%s\n\n", maxReceiveCount, visibility)
	return arns[0], arns[1], nil
}

func (d *demo) scenarioValidOrder(ctx context.Context) {
	printScenario("Scenario 1: A valid order is stored and deleted")

	fmt.Printf("%s→ Sending order with an item...%s\n", colorYellow, colorReset)
	id, err := d.client.Enqueue(ctx, demoQueue, map[string]any{
		"item": map[string]any{"sku": "WIDGET-1", "quantity": 2, "price": 9.99},
	}, nil)
	if err != nil {
		fmt.Printf("%s  ✗ Send failed: %v%s\n", colorRed, err, colorReset)
		return
	}
	fmt.Printf("%s  ✓ Message sent: %s%s\n", colorGreen, id, colorReset)

	fmt.Printf("%s→ Consumer polls one batch...%s\n", colorYellow, colorReset)
	deleted, err := d.worker.PollOnce(ctx, demoQueue, d.orders)
	if err != nil {
		fmt.Printf("%s  ✗ Poll failed: %v%s\n", colorRed, err, colorReset)
		return
	}
	fmt.Printf("%s  ✓ %d message(s) deleted, %d object(s) in the bucket%s\n",
		colorGreen, deleted, d.objects.Len(), colorReset)
	if obj, ok := d.objects.Get("demo-orders-bucket", consumer.Key(id)); ok {
		fmt.Printf("    %s → %s\n", objectstore.Path("demo-orders-bucket", consumer.Key(id)), obj.Body)
	}
	fmt.Println()
}

func (d *demo) scenarioPoisonOrder(ctx context.Context) {
	printScenario("Scenario 2: A poison order ends up in the DLQ")

	fmt.Printf("%s→ Sending a valid order and one without an item...%s\n", colorYellow, colorReset)
	if _, err := d.client.Enqueue(ctx, demoQueue, map[string]any{"item": map[string]any{"sku": "GADGET-7"}}, nil); err != nil {
		fmt.Printf("%s  ✗ Send failed: %v%s\n", colorRed, err, colorReset)
		return
	}
	if _, err := d.client.Enqueue(ctx, demoQueue, map[string]any{"customer": "no item here"}, nil); err != nil {
		fmt.Printf("%s  ✗ Send failed: %v%s\n", colorRed, err, colorReset)
		return
	}

	for attempt := 1; attempt <= maxReceiveCount; attempt++ {
		fmt.Printf("%s→ Attempt %d: consumer polls the batch...%s\n", colorYellow, attempt, colorReset)
		deleted, err := d.worker.PollOnce(ctx, demoQueue, d.orders)
		if err != nil {
			fmt.Printf("%s  ✗ Poll failed: %v%s\n", colorRed, err, colorReset)
			return
		}
		fmt.Printf("%s  ✓ %d deleted%s, %sthe poison order is reported as a batch item failure%s\n",
			colorGreen, deleted, colorReset, colorRed, colorReset)
		fmt.Printf("%s  ⏳ Waiting for the visibility timeout and the sweeper...%s\n", colorBlue, colorReset)
		time.Sleep(visibility + d.settle)
	}

	d.printDepth(ctx)
	fmt.Println()
}

func (d *demo) scenarioRedrive(ctx context.Context, dlqARN string) {
	printScenario("Scenario 3: Redrive moves the DLQ back to the queue")

	fmt.Printf("%s→ Invoking the redrive function...%s\n", colorYellow, colorReset)
	out := d.redrive.Handle(ctx)
	fmt.Printf("%s  ✓ %s (task %s)%s\n", colorGreen, out.State, out.TaskID, colorReset)

	fmt.Printf("%s→ Invoking it again while the task is running...%s\n", colorYellow, colorReset)
	again := d.redrive.Handle(ctx)
	fmt.Printf("%s  ✓ %s: %v%s\n", colorMagenta, again.State, again.Err, colorReset)

	fmt.Printf("%s  ⏳ Waiting for the sweeper to run the move task...%s\n", colorBlue, colorReset)
	time.Sleep(d.settle)

	tasks, err := d.client.ListMoveTasks(ctx, dlqARN)
	if err != nil {
		fmt.Printf("%s  ✗ List move tasks failed: %v%s\n", colorRed, err, colorReset)
		return
	}
	for _, t := range tasks {
		fmt.Printf("    task %s  %-9s moved=%d\n", t.ID, t.Status, t.MovedCount)
	}
	d.printDepth(ctx)
	fmt.Println()
}

func (d *demo) printDepth(ctx context.Context) {
	for _, name := range []string{demoQueue, demoDLQ} {
		q, err := d.client.GetQueue(ctx, name)
		if err != nil || q.Stats == nil {
			fmt.Printf("%s  ✗ %s: %v%s\n", colorRed, name, err, colorReset)
			continue
		}
		fmt.Printf("    %-18s visible=%d in_flight=%d delayed=%d\n",
			name, q.Stats.Visible, q.Stats.InFlight, q.Stats.Delayed)
	}
}

func (d *demo) displayMetrics() {
	printScenario("Live Prometheus Metrics")

	resp, err := http.Get(d.baseURL + "/metrics")
	if err != nil {
		fmt.Printf("%s✗ Failed to fetch metrics%s\n", colorRed, colorReset)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	prefixes := []string{
		"sqs_messages_enqueued_total",
		"sqs_messages_received_total",
		"sqs_messages_acked_total",
		"sqs_messages_requeued_total",
		"sqs_messages_dlq_total",
		"sqs_messages_redriven_total",
		"sqs_move_tasks_started_total",
		"sqs_move_task_conflicts_total",
	}
	for _, line := range strings.Split(string(body), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, p := range prefixes {
			if !strings.HasPrefix(line, p) {
				continue
			}
			if name, value, ok := strings.Cut(line, " "); ok {
				fmt.Printf("%s%-55s%s %s%s%s\n",
					colorCyan, name, colorReset,
					colorGreen+colorBold, value, colorReset)
			}
		}
	}
}

func printScenario(title string) {
	fmt.Printf("%s%s┌─────────────────────────────────────────────────────────────┐%s\n",
		colorBold, colorMagenta, colorReset)
	fmt.Printf("%s%s│ %-59s │%s\n",
		colorBold, colorMagenta, title, colorReset)
	fmt.Printf("%s%s└─────────────────────────────────────────────────────────────┘%s\n",
		colorBold, colorMagenta, colorReset)
}
