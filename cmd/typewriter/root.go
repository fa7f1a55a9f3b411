package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MegaGrindStone/typewriter-chat/internal/conversation"
	apperrors "github.com/MegaGrindStone/typewriter-chat/internal/errors"
	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	"github.com/MegaGrindStone/typewriter-chat/internal/reveal"
	"github.com/MegaGrindStone/typewriter-chat/internal/stream"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "typewriter [message]",
	Short: "Chat with a typewriter-chat server from the terminal",
	Long: `typewriter sends a message to a typewriter-chat server and prints the streamed reply
character by character. Without a message argument it reads one message per line from stdin.

Every flag can also be set through the environment, e.g. TYPEWRITER_SPEED=20.`,
	SilenceUsage: true,
	RunE:         runChat,
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.Flags()
	flags.String("url", "http://localhost:8080/chat", "chat endpoint of the server")
	flags.Int("speed", models.DefaultSettings().TypingSpeed, "milliseconds between revealed characters")
	flags.String("log-level", "ERROR", "log level: DEBUG, INFO, WARN or ERROR")

	viper.SetEnvPrefix("TYPEWRITER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

// fixedSettings serves the settings given on the command line.
type fixedSettings models.Settings

func (s fixedSettings) Settings(context.Context) (models.Settings, error) {
	return models.Settings(s), nil
}

func runChat(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: parseLevel(viper.GetString("log-level")),
	}))

	settings := models.DefaultSettings()
	settings.TypingSpeed = viper.GetInt("speed")
	if err := validator.New().Struct(settings); err != nil {
		return fmt.Errorf("%w: speed must be between 10 and 200: %w", apperrors.ErrValidation, err)
	}

	ingestor, err := stream.NewIngestor(viper.GetString("url"), stream.WithLogger(logger))
	if err != nil {
		return err
	}
	conv := conversation.New(ingestor, reveal.NewScheduler(reveal.WithLogger(logger)),
		conversation.WithSettings(fixedSettings(settings)),
		conversation.WithLogger(logger),
	)
	defer conv.Close()

	p := newPrinter(cmd.OutOrStdout())
	unsubscribe := conv.Subscribe(p.handle)
	defer unsubscribe()

	if len(args) > 0 {
		return send(cmd.Context(), conv, p, strings.Join(args, " "))
	}
	return repl(cmd.Context(), conv, p, cmd.InOrStdin(), cmd.OutOrStdout())
}

func repl(ctx context.Context, conv *conversation.Controller, p *printer, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, promptStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := send(ctx, conv, p, line); err != nil && !errors.Is(err, apperrors.ErrTransport) {
			return err
		}
	}
}

// send submits message and blocks until its reply is fully printed.
func send(ctx context.Context, conv *conversation.Controller, p *printer, message string) error {
	done := p.expect()
	conv.SetInput(message)
	if _, err := conv.Submit(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	if err := conv.Err(); err != nil {
		fmt.Fprintln(p.out, errorStyle.Render("reply interrupted: "+err.Error()))
		return err
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
