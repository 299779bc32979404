// Command boxci-agent is the long-lived build agent: it authenticates to
// the control service, polls for work, and runs build pipelines until
// stopped (spec components C1-C10).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/boxci-run/agent/internal/agentidentity"
	"github.com/boxci-run/agent/internal/agentloop"
	"github.com/boxci-run/agent/internal/alog"
	"github.com/boxci-run/agent/internal/apiclient"
	"github.com/boxci-run/agent/internal/journal"
	"github.com/urfave/cli"
)

const defaultService = "https://api.boxci.run/v1"

var version = "dev"

var projectIDPattern = regexp.MustCompile(`^P[a-zA-Z0-9]{7}$`)

const startDescription = `Usage:

   boxci-agent start [options...]

Description:

Starts the agent: it authenticates against the control service for
--project-id, then polls for builds and runs them until stopped, either by
the control service, or by dropping a stop file in its journal directory.`

func main() {
	app := cli.NewApp()
	app.Name = "boxci-agent"
	app.Version = version
	app.Usage = "run builds for a boxci project"
	app.Commands = []cli.Command{startCommand}
	app.Action = func(c *cli.Context) error {
		cli.ShowAppHelp(c)
		return cli.NewExitError("", 1)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		if coder, ok := err.(cli.ExitCoder); ok {
			code = coder.ExitCode()
		}
		os.Exit(code)
	}
}

var startCommand = cli.Command{
	Name:        "start",
	Usage:       "start the agent",
	Description: startDescription,
	Flags: []cli.Flag{
		cli.StringFlag{Name: "project-id", EnvVar: "BOXCI_PROJECT", Usage: "project id, 8 chars starting with P"},
		cli.StringFlag{Name: "key", EnvVar: "BOXCI_KEY", Usage: "secret access key"},
		cli.StringFlag{Name: "agent-name", Usage: "override the generated agent name"},
		cli.StringFlag{Name: "machine-name", EnvVar: "BOXCI_MACHINE", Usage: "label reported with every poll (<=32 chars)"},
		cli.StringFlag{Name: "ssh-host", Usage: "rewrite github.com in the repo URL for GitHub projects"},
		cli.BoolFlag{Name: "silent", EnvVar: "BOXCI_SILENT", Usage: "suppress user-facing console output"},
		cli.StringFlag{Name: "service", EnvVar: "BOXCI___TS", Value: defaultService, Usage: "control service base URL"},
	},
	Action: runStart,
}

func runStart(c *cli.Context) error {
	projectID := c.String("project-id")
	key := c.String("key")
	machine := c.String("machine-name")
	service := c.String("service")
	silent := c.Bool("silent")

	if !projectIDPattern.MatchString(projectID) {
		return cli.NewExitError("boxci-agent: --project-id must be 8 characters, starting with P", 1)
	}
	if key == "" {
		return cli.NewExitError("boxci-agent: --key is required", 1)
	}
	if len(machine) > 32 {
		return cli.NewExitError("boxci-agent: --machine-name must be <=32 characters", 1)
	}

	logLevel := alog.INFO
	logOut := os.Stdout
	if silent {
		logOut = nil
	}
	var logger alog.Logger
	if logOut != nil {
		logger = alog.New(logOut, alog.ColorsSupported(logOut.Fd()), os.Exit)
	} else {
		logger = alog.New(discard{}, false, os.Exit)
	}
	logger.SetLevel(logLevel)

	if service != defaultService {
		logger.Warn("using test service %s", service)
	}

	agentName := c.String("agent-name")
	if agentName == "" {
		agentName = agentidentity.NewName()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("boxci-agent: cannot determine home directory: %v", err), 1)
	}

	j, err := journal.Open(home, logger)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("boxci-agent: %v", err), 1)
	}

	client := apiclient.New(apiclient.Config{
		Endpoint:         service,
		ProjectID:        projectID,
		AccessKey:        key,
		Logger:           logger,
		OnConnecting:     func() { logger.Warn("reconnecting to %s...", service) },
		OnDoneConnecting: func() { logger.Info("connected to %s", service) },
	})

	loop := agentloop.New(agentloop.Config{
		Client:    client,
		Journal:   j,
		Logger:    logger,
		AgentName: agentName,
		ProjectID: projectID,
		Version:   version,
		Machine:   machine,
		RepoDir:   j.AgentRepoDir(agentName),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, stopping between builds...")
		cancel()
	}()

	project, err := loop.Startup(ctx)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("boxci-agent: %v", err), 1)
	}

	if sshHost := c.String("ssh-host"); sshHost != "" {
		project.GitRepoSSHURL = rewriteSSHHost(project.GitRepoSSHURL, sshHost)
	}

	logger.Info("agent %s started for project %s", agentName, projectID)
	code := loop.Run(ctx, project)
	os.Exit(code)
	return nil
}

// rewriteSSHHost substitutes sshHost for github.com in a GitHub SSH repo
// URL, so agents behind a jump host or mirror reach the right endpoint.
func rewriteSSHHost(repoURL, sshHost string) string {
	return strings.ReplaceAll(repoURL, "github.com", sshHost)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
