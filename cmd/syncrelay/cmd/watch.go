package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/enflame-media/syncrelay/internal/api"
	"github.com/enflame-media/syncrelay/internal/client"
	"github.com/enflame-media/syncrelay/internal/config"
	"github.com/enflame-media/syncrelay/internal/constants"
	"github.com/enflame-media/syncrelay/internal/output"
)

var (
	watchSessions []string
	watchScope    string
	watchMachine  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live updates from the relay",
	Long: `Connect to the relay with the configured token and print every message
it delivers. The connection is re-established with backoff when it drops.`,
	RunE: watchRun,
}

func init() {
	watchCmd.Flags().StringSliceVar(&watchSessions, "session", nil, "Session to subscribe to (repeatable)")
	watchCmd.Flags().StringVar(&watchScope, "scope", string(api.ScopeUser),
		"Connection scope: user-scoped, session-scoped or machine-scoped")
	watchCmd.Flags().StringVar(&watchMachine, "machine", "", "Machine id for machine-scoped connections")
	rootCmd.AddCommand(watchCmd)
}

// ErrConnectionEnded is returned when the relay connection stops for good.
var ErrConnectionEnded = errors.New("relay connection ended")

// relayConnection is the part of client.Manager the watch loop drives.
type relayConnection interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(sessionID string) error
	StateChanges() <-chan client.State
	Messages() <-chan *api.NormalizedMessage
}

func watchRun(cmd *cobra.Command, _ []string) error {
	cfg, err := getConfigFromContext(cmd)
	if err != nil {
		return err
	}

	clientCfg, err := clientConfig(cfg, watchScope, watchSessions, watchMachine)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := client.NewManager(clientCfg, client.NewWebsocketDialer(), newLogger(constants.CLI, cfg))
	output.Infof("Connecting to %s", output.Bold(clientCfg.URL))
	return watch(ctx, manager, watchSessions, time.Now)
}

// clientConfig builds the connection settings of the watch command.
func clientConfig(cfg *config.Config, scope string, sessions []string, machineID string) (client.Config, error) {
	parsed, ok := api.ParseScope(scope)
	if !ok {
		return client.Config{}, fmt.Errorf("unknown scope %q", scope)
	}

	clientCfg := client.Config{
		URL:         cfg.RelayURL,
		Token:       cfg.Token,
		KeyMaterial: cfg.KeyMaterial,
		Scope:       parsed,
		MachineID:   machineID,
		Strategy: api.ReconnectionStrategy{
			BaseDelayMs:       cfg.ReconnectBaseDelayMs,
			MaxDelayMs:        cfg.ReconnectMaxDelayMs,
			BackoffMultiplier: cfg.ReconnectBackoffMultiplier,
			MaxAttempts:       cfg.ReconnectMaxAttempts,
		},
	}

	switch parsed {
	case api.ScopeSession:
		if len(sessions) != 1 {
			return client.Config{}, errors.New("session-scoped connections need exactly one --session")
		}
		clientCfg.SessionID = sessions[0]
	case api.ScopeMachine:
		if machineID == "" {
			return client.Config{}, errors.New("machine-scoped connections need --machine")
		}
	}
	return clientCfg, nil
}

// watch connects conn and prints its traffic until ctx ends or the
// connection gives up.
func watch(ctx context.Context, conn relayConnection, sessions []string, now func() time.Time) error {
	for _, sid := range sessions {
		if err := conn.Subscribe(sid); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", sid, err)
		}
	}

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Disconnect()

	for {
		select {
		case <-ctx.Done():
			output.Infof("Disconnecting")
			return nil
		case state := <-conn.StateChanges():
			output.State(now(), state.String())
			if state == client.StateDisconnected {
				return ErrConnectionEnded
			}
		case msg := <-conn.Messages():
			output.Message(now(), msg.Type, msg.Payload)
		}
	}
}
