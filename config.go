package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/quizbox/trivia"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind          string
	duel          bool
	duelMaxLosses int
	duelMaxRounds int
	endedTTL      time.Duration
	maxPlayers    int
	port          int
	prefix        string
	profile       bool
	questionsDB   string
	requireReady  bool
	revealDelay   time.Duration
	sweepInterval time.Duration
	timeLimit     time.Duration
	tlsCert       string
	tlsKey        string
	verbose       bool
	version       bool
	waitingTTL    time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.timeLimit < time.Second || c.timeLimit > trivia.MaxTimeLimit {
		return fmt.Errorf("invalid time limit (must be between 1s-%s inclusive): %s", trivia.MaxTimeLimit, c.timeLimit)
	}
	if c.maxPlayers < 0 || c.duelMaxLosses < 0 || c.duelMaxRounds < 0 {
		return errors.New("--max-players, --duel-max-losses and --duel-max-rounds cannot be negative")
	}
	if c.revealDelay < 0 || c.revealDelay > trivia.MaxRevealDelay {
		return fmt.Errorf("invalid reveal delay (must be between 0s-%s inclusive): %s", trivia.MaxRevealDelay, c.revealDelay)
	}
	if c.sweepInterval <= 0 || c.waitingTTL <= 0 || c.endedTTL <= 0 {
		return errors.New("--sweep-interval, --waiting-ttl and --ended-ttl must be positive")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// settings are the defaults new lobbies start from.
func (c *Config) settings() trivia.Settings {
	s := trivia.DefaultSettings()
	s.TimeLimit = c.timeLimit
	s.MaxPlayers = c.maxPlayers
	s.RequireReady = c.requireReady
	s.DuelMode = c.duel
	s.DuelMaxLosses = c.duelMaxLosses
	s.DuelMaxRounds = c.duelMaxRounds
	s.RevealDelay = c.revealDelay
	return s
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("QUIZBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quizbox",
		Short:         "Real-time multiplayer trivia, with timed questions, streaks and head-to-head duels.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: QUIZBOX_BIND)")
	fs.BoolVar(&cfg.duel, "duel", true, "finish each game with a head-to-head duel phase (env: QUIZBOX_DUEL)")
	fs.IntVar(&cfg.duelMaxLosses, "duel-max-losses", 2, "duel losses before a player is eliminated, 0 for never (env: QUIZBOX_DUEL_MAX_LOSSES)")
	fs.IntVar(&cfg.duelMaxRounds, "duel-max-rounds", 20, "duel rounds before the game ends, 0 for no limit (env: QUIZBOX_DUEL_MAX_ROUNDS)")
	fs.DurationVar(&cfg.endedTTL, "ended-ttl", 24*time.Hour, "time finished games are retained (env: QUIZBOX_ENDED_TTL)")
	fs.IntVar(&cfg.maxPlayers, "max-players", 12, "players allowed per lobby, 0 for unlimited (env: QUIZBOX_MAX_PLAYERS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: QUIZBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: QUIZBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: QUIZBOX_PROFILE)")
	fs.StringVar(&cfg.questionsDB, "questions-db", "", "path to a sqlite question database, instead of the built-in set (env: QUIZBOX_QUESTIONS_DB)")
	fs.BoolVar(&cfg.requireReady, "require-ready", true, "require every player to be ready before the host can start (env: QUIZBOX_REQUIRE_READY)")
	fs.DurationVar(&cfg.revealDelay, "reveal-delay", 5*time.Second, "pause between revealing an answer and the next question (env: QUIZBOX_REVEAL_DELAY)")
	fs.DurationVar(&cfg.sweepInterval, "sweep-interval", 5*time.Minute, "time between sweeps for stale lobbies (env: QUIZBOX_SWEEP_INTERVAL)")
	fs.DurationVar(&cfg.timeLimit, "time-limit", 30*time.Second, "default time allowed per question (env: QUIZBOX_TIME_LIMIT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: QUIZBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: QUIZBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: QUIZBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: QUIZBOX_VERSION)")
	fs.DurationVar(&cfg.waitingTTL, "waiting-ttl", 10*time.Minute, "time before never-started lobbies are removed (env: QUIZBOX_WAITING_TTL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("quizbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
