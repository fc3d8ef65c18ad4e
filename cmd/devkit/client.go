package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abdhe/polkadot-devkit/pkg/client"
	"github.com/abdhe/polkadot-devkit/pkg/config"
	"github.com/abdhe/polkadot-devkit/pkg/generator"
	"github.com/abdhe/polkadot-devkit/pkg/provider"
	"github.com/abdhe/polkadot-devkit/pkg/resilience"
)

const defaultServer = "http://localhost:3000"

func newCheckModelsCmd(flags *rootFlags) *cobra.Command {
	var remote string
	cmd := &cobra.Command{
		Use:   "check-models [model...]",
		Short: "Report which Gemini models the configured key can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report generator.ProbeReport
			if remote != "" {
				if err := client.New(remote).Probe(cmd.Context(), args, &report); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			}

			logger, err := flags.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			keys, err := resilience.NewKeyPool(cfg.Gemini.APIKeys)
			if err != nil {
				return err
			}
			prober, err := generator.NewProber(provider.NewGeminiProvider(cfg.Gemini.BaseURL, nil), keys, logger)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), prober.Probe(cmd.Context(), args))
		},
	}
	cmd.Flags().StringVar(&remote, "server", "", "ask a running server instead of probing locally")
	return cmd
}

func newChatCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return chatLoop(cmd.Context(), client.New(addr), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&addr, "server", defaultServer, "DevKit server base URL")
	return cmd
}

func newAskCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Send one chat message and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.ChatRequest{Message: strings.Join(args, " ")}
			_, err := streamTo(cmd.OutOrStdout(), client.New(addr).Chat(cmd.Context(), req))
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "server", defaultServer, "DevKit server base URL")
	return cmd
}

// chatLoop reads one message per line and keeps the conversation history.
func chatLoop(ctx context.Context, c *client.Client, in io.Reader, out, errOut io.Writer) error {
	var history []client.HistoryTurn
	lines := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !lines.Scan() {
			fmt.Fprintln(out)
			return lines.Err()
		}
		msg := strings.TrimSpace(lines.Text())
		if msg == "" {
			continue
		}

		answer, err := streamTo(out, c.Chat(ctx, client.ChatRequest{Message: msg, History: history}))
		if err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			continue
		}
		history = append(history,
			client.HistoryTurn{Role: "user", Parts: msg},
			client.HistoryTurn{Role: "model", Parts: answer},
		)
	}
}

func streamTo(out io.Writer, seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for frag, err := range seq {
		if err != nil {
			fmt.Fprintln(out)
			return b.String(), err
		}
		b.WriteString(frag)
		fmt.Fprint(out, frag)
	}
	fmt.Fprintln(out)
	return b.String(), nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
