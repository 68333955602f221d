package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	config "github.com/crabzie/swarm-coordinator/config/utils"
	"github.com/crabzie/swarm-coordinator/internal/adapter/queue/rabbitmq"
	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"github.com/fatih/color"
	"go.uber.org/zap"
)

var (
	cyan    = color.New(color.FgCyan).SprintFunc()
	gray    = color.New(color.FgHiBlack).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	blue    = color.New(color.FgBlue).SprintFunc()
	magenta = color.New(color.FgMagenta).SprintFunc()
	bold    = color.New(color.Bold).SprintFunc()
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	appConfig := config.New()
	binding := "#"
	if len(os.Args) > 1 {
		binding = os.Args[1]
	}

	fmt.Println(cyan("🚀 Swarm Activity Monitor Starting..."))
	fmt.Println(gray(fmt.Sprintf("Listening on %s with binding %q...", appConfig.AMQP.EventsExchange, binding)))
	fmt.Println("-------------------------------------------------------------------------")

	log := zap.NewNop()
	conn, err := rabbitmq.Dial(appConfig.AMQP.URL, log)
	if err != nil {
		fmt.Println(red("Error connecting to RabbitMQ: " + err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	if err := rabbitmq.Subscribe(ctx, conn, appConfig.AMQP.EventsExchange, binding, prettify, log); err != nil {
		fmt.Println(red("Error subscribing to events: " + err.Error()))
		os.Exit(1)
	}
	<-ctx.Done()
}

func prettify(ev domain.Event) {
	source := blue(strings.ToUpper(ev.Source))
	stamp := gray(ev.Timestamp.Format("15:04:05.000"))
	p := ev.Payload

	switch ev.Type {
	case domain.EventTaskCreated:
		fmt.Printf("%s [%s] 📥 %s %v\n", stamp, source, yellow("Task Received:"), p["task_id"])
	case domain.EventTaskCompleted:
		fmt.Printf("%s [%s] ✅ %s %v (%v)\n", stamp, source, green("Task Finished:"), p["task_id"], p["mode"])
	case domain.EventTaskFailed:
		fmt.Printf("%s [%s] ❌ %s %v: %v\n", stamp, source, red("Task Failed:"), p["task_id"], p["reason"])
	case domain.EventConsensusCompleted:
		fmt.Printf("%s [%s] 🤝 %s seq %v\n", stamp, source, green("Consensus Reached:"), p["sequence"])
	case domain.EventConsensusFailed:
		fmt.Printf("%s [%s] ⚠️  %s %v\n", stamp, source, red("Consensus Failed:"), p["reason"])
	case domain.EventViewChanged:
		fmt.Printf("%s [%s] 🔁 %s %v\n", stamp, source, magenta("View Changed:"), p["view"])
	case domain.EventNodeExcluded:
		fmt.Printf("%s [%s] 🚫 %s %v\n", stamp, source, bold(red("Node Excluded:")), p["node_id"])
	case domain.EventHealthAlert:
		fmt.Printf("%s [%s] 🩺 %s %v %v (%v)\n", stamp, source, yellow("Health Alert:"), p["component_id"], p["kind"], p["severity"])
	case domain.EventRecoveryCompleted:
		fmt.Printf("%s [%s] 🛠️  %s %v via %v\n", stamp, source, green("Recovered:"), p["component_id"], p["strategy"])
	case domain.EventRecoveryFailed:
		fmt.Printf("%s [%s] 💥 %s %v via %v\n", stamp, source, red("Recovery Failed:"), p["component_id"], p["strategy"])
	case domain.EventPatternReinforced:
		// Too chatty for the default view
	default:
		fmt.Printf("%s [%s] %s %s\n", stamp, source, string(ev.Type), gray(fields(p)))
	}
}

func fields(p map[string]any) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return strings.Join(parts, " ")
}
