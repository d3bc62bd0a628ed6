package client

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "github.com/PhiYerion/bucface/internal/config"
	"github.com/PhiYerion/bucface/internal/session"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

// ConfigFunc provides the effective configuration (file plus environment).
type ConfigFunc func() (cfgpkg.Config, error)

// NewRoot constructs a standalone root command holding the event commands.
func NewRoot(cfg ConfigFunc, logger logpkg.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "bucface",
		Short: "bucface client commands",
	}
	root.AddCommand(Commands(cfg, logger)...)
	return root
}

// Commands returns the event commands for embedding in another root.
func Commands(cfg ConfigFunc, logger logpkg.Logger) []*cobra.Command {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	e := &env{cfg: cfg, logger: logger}
	return []*cobra.Command{
		newSubmitCommand(e),
		newGetCommand(e),
		newSinceCommand(e),
		newPingCommand(e),
		newTailCommand(e),
	}
}

type env struct {
	cfg    ConfigFunc
	logger logpkg.Logger
}

// settings resolves connection flags against the configuration.
type settings struct {
	url     string
	author  string
	machine string
	timeout time.Duration
	json    bool
	cfg     cfgpkg.Config
}

func addConnFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "Broker WebSocket URL (default from config)")
	cmd.Flags().Duration("timeout", 5*time.Second, "How long to wait for the broker")
	cmd.Flags().Bool("json", false, "Print events as JSON lines")
}

func addIdentityFlags(cmd *cobra.Command) {
	cmd.Flags().String("author", "", "Author name (default from config)")
	cmd.Flags().String("machine", "", "Machine name (default from config)")
}

func (e *env) settings(cmd *cobra.Command) (settings, error) {
	cfg := cfgpkg.Default()
	if e.cfg != nil {
		c, err := e.cfg()
		if err != nil {
			return settings{}, err
		}
		cfg = c
	}
	s := settings{cfg: cfg, url: cfg.Client.URL, author: cfg.Client.Author, machine: cfg.Client.Machine}
	if v, _ := cmd.Flags().GetString("url"); v != "" {
		s.url = v
	}
	if cmd.Flags().Lookup("author") != nil {
		if v, _ := cmd.Flags().GetString("author"); v != "" {
			s.author = v
		}
		if v, _ := cmd.Flags().GetString("machine"); v != "" {
			s.machine = v
		}
	}
	s.timeout, _ = cmd.Flags().GetDuration("timeout")
	s.json, _ = cmd.Flags().GetBool("json")
	return s, nil
}

// connect dials and verifies the broker. A soft verification failure is
// reported on stderr and the session is used anyway.
func (e *env) connect(ctx context.Context, cmd *cobra.Command, s settings) (*session.Session, error) {
	opts := session.FromConfig(s.cfg.Session)
	opts.Logger = e.logger
	opts.Transport.ReadLimit = int64(s.cfg.Broker.MaxFrameBytes)

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	sess, status, err := session.Dial(dctx, s.url, opts)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", s.url, err)
	}
	if status == session.StatusSoftError {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: broker answered the verification ping with an unexpected payload")
	}
	return sess, nil
}
