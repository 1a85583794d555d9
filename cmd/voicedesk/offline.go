package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ent0n29/voicedesk/internal/app"
	"github.com/ent0n29/voicedesk/internal/auth"
	"github.com/ent0n29/voicedesk/internal/config"
	"github.com/ent0n29/voicedesk/internal/engine"
	"github.com/ent0n29/voicedesk/internal/logging"
)

// loadOffline loads configuration for commands that never touch audio, so
// speech providers are forced to mock.
func loadOffline(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg.STTProvider = "mock"
	cfg.TTSProvider = "mock"
	cfg.STTFallbackProvider = ""
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger = logging.NewWithWriter(cfg.AppEnv, cmd.ErrOrStderr())
	}
	return cfg, logger, nil
}

func buildOffline(ctx context.Context, cmd *cobra.Command) (*app.BuildResult, error) {
	cfg, logger, err := loadOffline(cmd)
	if err != nil {
		return nil, err
	}
	cfg.BusinessLogicURL = ""
	return app.Build(ctx, cfg, logger)
}

func newReplayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [utterance...]",
		Short: "Run utterances through the booking dialogue and print the replies",
		Long: "Each argument is one caller turn. Without arguments, turns are read " +
			"from stdin, one per line. The conversation opens with the greeting.",
		RunE: runReplay,
	}
	cmd.Flags().String("tenant", "", "Tenant id (required)")
	cmd.Flags().String("call-id", "", "Conversation id (default: random)")
	cmd.Flags().String("caller-id", "", "Caller number")
	cmd.Flags().String("channel", engine.ChannelChat, "Channel recorded on bookings: phone or chat")
	cmd.Flags().Bool("verbose", false, "Log to stderr")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

type replayTurn struct {
	Caller   string `json:"caller,omitempty"`
	Response string `json:"response"`
	State    string `json:"state"`
	EndCall  bool   `json:"end_call,omitempty"`
	Escalate bool   `json:"escalate,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	tenantID, _ := cmd.Flags().GetString("tenant")
	callID, _ := cmd.Flags().GetString("call-id")
	callerID, _ := cmd.Flags().GetString("caller-id")
	channel, _ := cmd.Flags().GetString("channel")
	if channel != engine.ChannelChat && channel != engine.ChannelPhone {
		return fmt.Errorf("invalid --channel %q", channel)
	}
	if callID == "" {
		callID = "replay-" + uuid.NewString()
	}

	utterances := args
	if len(utterances) == 0 {
		lines, err := readLines(cmd.InOrStdin())
		if err != nil {
			return err
		}
		utterances = lines
	}

	built, err := buildOffline(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer built.Cleanup()

	turns := make([]replayTurn, 0, len(utterances)+1)
	for _, text := range append([]string{""}, utterances...) {
		out, err := built.Engine.ProcessTurn(cmd.Context(), engine.Input{
			TenantID:   tenantID,
			CallID:     callID,
			CallerID:   callerID,
			Transcript: text,
			Channel:    channel,
		})
		if err != nil {
			return fmt.Errorf("turn %q: %w", text, err)
		}
		turns = append(turns, replayTurn{
			Caller:   text,
			Response: out.Response,
			State:    string(out.State),
			EndCall:  out.EndCall,
			Escalate: out.Escalate,
		})
		if out.EndCall {
			break
		}
	}

	if jsonMode(cmd) {
		return printJSON(cmd.OutOrStdout(), map[string]any{"call_id": callID, "turns": turns})
	}
	w := cmd.OutOrStdout()
	for _, t := range turns {
		if t.Caller != "" {
			fmt.Fprintf(w, "caller: %s\n", t.Caller)
		}
		fmt.Fprintf(w, "agent:  %s  [%s]\n", t.Response, t.State)
	}
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return out, nil
}

func newSlotsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List the bookable slots of a tenant's day",
		Args:  cobra.NoArgs,
		RunE:  runSlots,
	}
	cmd.Flags().String("tenant", "", "Tenant id (required)")
	cmd.Flags().String("date", "", "Date as YYYY-MM-DD (default: today)")
	cmd.Flags().String("service", "", "Service whose duration sizes the slots")
	cmd.Flags().Bool("verbose", false, "Log to stderr")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func runSlots(cmd *cobra.Command, _ []string) error {
	tenantID, _ := cmd.Flags().GetString("tenant")
	date, _ := cmd.Flags().GetString("date")
	service, _ := cmd.Flags().GetString("service")

	built, err := buildOffline(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer built.Cleanup()

	t, err := built.Tenants.Tenant(cmd.Context(), tenantID)
	if err != nil {
		return err
	}
	if date == "" {
		date = time.Now().In(t.Location(built.Config.Location())).Format("2006-01-02")
	}
	day, err := built.Checker.Slots(cmd.Context(), t, date, built.Booker.Duration(t, service))
	if err != nil {
		return err
	}

	if jsonMode(cmd) {
		return printJSON(cmd.OutOrStdout(), day)
	}
	w := cmd.OutOrStdout()
	if !day.Open {
		fmt.Fprintf(w, "%s: closed\n", day.Date)
		return nil
	}
	fmt.Fprintf(w, "%s: %d slots free\n", day.Date, day.AvailableCount)
	for _, s := range day.Slots {
		mark := "free"
		if !s.Available {
			mark = "taken"
		}
		fmt.Fprintf(w, "  %s-%s  %s\n", s.Time, s.EndTime, mark)
	}
	return nil
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token scoped to one tenant for a chat platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokens, err := auth.NewManager(cfg.ChatJWTSecret, cfg.ChatJWTIssuer)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(time.Now(), tenantID, ttl)
			if err != nil {
				return err
			}
			if jsonMode(cmd) {
				return printJSON(cmd.OutOrStdout(), map[string]string{"tenant_id": tenantID, "token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("tenant", "", "Tenant id (required)")
	cmd.Flags().Duration("ttl", 0, "Token lifetime; 0 never expires")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
