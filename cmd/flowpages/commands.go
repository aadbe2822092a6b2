package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dukex/flowpages/pkg/document"
	"github.com/dukex/flowpages/pkg/host"
	"github.com/dukex/flowpages/pkg/log"
	"github.com/dukex/flowpages/pkg/models"
	"github.com/dukex/flowpages/pkg/stream"
	"github.com/dukex/flowpages/pkg/transport"
	"github.com/dukex/flowpages/pkg/trigger"
	cli "github.com/urfave/cli/v3"
)

var ErrTriggerNotFound = errors.New("trigger not found")

func setupLogging(ctx context.Context, command *cli.Command) (context.Context, error) {
	log.Setup(command.String("log-level"), command.String("log-format"))

	return ctx, nil
}

func pageFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "page",
		Usage:    "Path of the HTML page",
		Required: true,
		Sources:  cli.EnvVars("FLOWPAGES_PAGE"),
	}
}

func triggerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "trigger",
		Aliases:  []string{"t"},
		Usage:    "Component id of the trigger (the element id)",
		Required: true,
	}
}

func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "backend",
			Usage:   "Base URL of the relay",
			Value:   "http://localhost:9092",
			Sources: cli.EnvVars("FLOWPAGES_BACKEND"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token for the relay",
			Sources: cli.EnvVars("FLOWPAGES_TOKEN"),
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Usage:   "Timeout of each relay request",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("FLOWPAGES_TIMEOUT"),
		},
	}
}

func newClient(command *cli.Command) (*transport.Client, error) {
	return transport.NewClient(transport.Options{
		BaseURL: command.String("backend"),
		Token:   command.String("token"),
		Timeout: command.Duration("timeout"),
		Poll:    transport.DefaultRetryPolicy(),
		Logger:  log.WithModule("transport"),
	})
}

func lookupTrigger(doc *document.Document, componentID string) (*document.Element, error) {
	el, ok := doc.Trigger(componentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTriggerNotFound, componentID)
	}

	return el, nil
}

func ScanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "List the workflow triggers of a page",
		Flags: []cli.Flag{pageFlag()},
		Action: func(ctx context.Context, command *cli.Command) error {
			doc, err := document.LoadFile(command.String("page"))
			if err != nil {
				return err
			}

			h := host.New(doc, func(*document.Element) host.Controller { return idleController{} }, log.WithModule("host"))
			defer h.Close()

			warnings := h.Refresh(ctx)
			out := command.Root().Writer

			for _, el := range host.Scan(doc) {
				cfg := el.Config()
				fmt.Fprintf(out, "%s\tlabel=%q\twebhook=%q\tworkflow=%q\twait=%t\tstatus=%t\n",
					el.ComponentID(), cfg.ButtonLabel, cfg.WebhookURL, cfg.WorkflowID, cfg.WaitForResult, cfg.ShowStatus)
			}

			for _, w := range warnings {
				fmt.Fprintf(out, "warning: %v\n", w)
			}

			return nil
		},
	}
}

// idleController stands in for real controllers when only binding is checked.
type idleController struct{}

func (idleController) Invoke(context.Context) error { return nil }
func (idleController) State() trigger.State         { return trigger.StateIdle }
func (idleController) Dispose()                     {}

func ConfigureCommand() *cli.Command {
	return &cli.Command{
		Name:  "configure",
		Usage: "Set trigger attributes; flags left out keep their current value",
		Flags: []cli.Flag{
			pageFlag(),
			triggerFlag(),
			&cli.StringFlag{Name: "webhook-url", Usage: "Workflow webhook URL"},
			&cli.StringFlag{Name: "workflow-id", Usage: "Workflow id sent with each run"},
			&cli.StringFlag{Name: "secret", Usage: "Secret used to sign webhook calls"},
			&cli.BoolFlag{Name: "wait", Usage: "Wait for the workflow result"},
			&cli.StringFlag{Name: "label", Usage: "Button label"},
			&cli.BoolFlag{Name: "show-status", Usage: "Show the status line"},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.String("page")

			doc, err := document.LoadFile(path)
			if err != nil {
				return err
			}

			el, err := lookupTrigger(doc, command.String("trigger"))
			if err != nil {
				return err
			}

			document.Apply(el, configUpdate(command))

			return doc.WriteFile(path)
		},
	}
}

func configUpdate(command *cli.Command) models.TriggerConfigUpdate {
	var update models.TriggerConfigUpdate

	stringFlag := func(name string) *string {
		if !command.IsSet(name) {
			return nil
		}

		value := command.String(name)

		return &value
	}

	boolFlag := func(name string) *bool {
		if !command.IsSet(name) {
			return nil
		}

		value := command.Bool(name)

		return &value
	}

	update.WebhookURL = stringFlag("webhook-url")
	update.WorkflowID = stringFlag("workflow-id")
	update.Secret = stringFlag("secret")
	update.WaitForResult = boolFlag("wait")
	update.ButtonLabel = stringFlag("label")
	update.ShowStatus = boolFlag("show-status")

	return update
}

func ClickCommand() *cli.Command {
	return &cli.Command{
		Name:  "click",
		Usage: "Run a trigger against the relay and follow it to the end",
		Flags: append([]cli.Flag{
			pageFlag(),
			triggerFlag(),
			&cli.BoolFlag{Name: "write", Usage: "Write the page back with the final status and result"},
		}, backendFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.String("page")

			doc, err := document.LoadFile(path)
			if err != nil {
				return err
			}

			client, err := newClient(command)
			if err != nil {
				return err
			}

			subscriber := stream.NewSubscriber(stream.Options{
				BaseURL: command.String("backend"),
				Token:   command.String("token"),
				Logger:  log.WithModule("stream"),
			})

			out := command.Root().Writer
			settled := make(chan trigger.Transition, 1)

			factory := func(el *document.Element) host.Controller {
				return trigger.New(el, client, trigger.NewStreamer(subscriber), trigger.Options{
					Poller: client,
					Logger: log.WithModule("trigger"),
					Observer: func(tr trigger.Transition) {
						printTransition(out, tr)

						if tr.To.Settled() {
							select {
							case settled <- tr:
							default:
							}
						}
					},
				})
			}

			h := host.New(doc, factory, log.WithModule("host"))
			defer h.Close()

			for _, w := range h.Refresh(ctx) {
				fmt.Fprintf(out, "warning: %v\n", w)
			}

			if err := h.Click(ctx, command.String("trigger")); err != nil {
				return err
			}

			var final trigger.Transition

			select {
			case final = <-settled:
			case <-ctx.Done():
				return ctx.Err()
			}

			if command.Bool("write") {
				if err := doc.WriteFile(path); err != nil {
					return err
				}
			}

			if final.To == trigger.StateFailed {
				return cli.Exit(orMessage(final), 1)
			}

			return nil
		},
	}
}

func printTransition(out io.Writer, tr trigger.Transition) {
	line := fmt.Sprintf("%s %s -> %s", tr.At.Format(time.TimeOnly), tr.From, tr.To)

	if tr.RunID != "" {
		line += " run=" + tr.RunID
	}

	if tr.Step != "" {
		line += " step=" + tr.Step
	}

	if tr.Message != "" {
		line += fmt.Sprintf(" message=%q", tr.Message)
	}

	if tr.Data != nil {
		if data, err := json.Marshal(tr.Data); err == nil {
			line += " data=" + string(data)
		}
	}

	fmt.Fprintln(out, line)
}

func orMessage(tr trigger.Transition) string {
	if tr.Message != "" {
		return tr.Message
	}

	if tr.Err != nil {
		return tr.Err.Error()
	}

	return "workflow failed"
}

func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the status of a run",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "run-id", Usage: "Run id", Required: true},
			&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "Poll until the run finishes"},
		}, backendFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			client, err := newClient(command)
			if err != nil {
				return err
			}

			out := command.Root().Writer
			runID := command.String("run-id")

			if command.Bool("follow") {
				return client.Poll(ctx, runID, func(event models.UpdateEvent) {
					printUpdate(out, event)
				})
			}

			event, err := client.Status(ctx, runID)
			if err != nil {
				return err
			}

			printUpdate(out, event)

			return nil
		},
	}
}

func printUpdate(out io.Writer, event models.UpdateEvent) {
	line := fmt.Sprintf("%s state=%s step=%s", event.RunID, event.State, event.Step)

	if event.Message != "" {
		line += fmt.Sprintf(" message=%q", event.Message)
	}

	fmt.Fprintln(out, line)
}
