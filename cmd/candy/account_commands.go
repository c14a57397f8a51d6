package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"candybridge/internal/bridge"
	"candybridge/internal/ipc"
)

const passwordEnv = "CANDY_PASSWORD"

func newAccountCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newCredentialsCommand(ctx, "register", "Register a new account with the gateway",
			func(c *ipc.Client, user, pass string) (*ipc.AccountResponse, error) { return c.Register(user, pass) }),
		newCredentialsCommand(ctx, "login", "Log in to the gateway",
			func(c *ipc.Client, user, pass string) (*ipc.AccountResponse, error) { return c.Login(user, pass) }),
		newSearchCommand(ctx),
		newEchoCommand(ctx),
	}
}

type credentialsCall func(c *ipc.Client, username, password string) (*ipc.AccountResponse, error)

func newCredentialsCommand(ctx *commandContext, use, short string, call credentialsCall) *cobra.Command {
	var password string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pass := password
			if pass == "" {
				pass = os.Getenv(passwordEnv)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := call(client, args[0], pass)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Result)
				}
				return printResult(cmd, resp.Result)
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (default $"+passwordEnv+")")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

// printResult writes a result line and turns a failed result into a
// command error so the exit status reflects it.
func printResult(cmd *cobra.Command, result bridge.Result) error {
	if !result.Succeeded {
		return errors.New(result.Error)
	}
	id, _ := result.Identifier()
	fmt.Fprintf(cmd.OutOrStdout(), "OK (id %d)\n", id)
	return nil
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search <username>",
		Short: "Look up user ids by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SearchUser(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.List)
				}
				if !resp.List.Result.Succeeded {
					return errors.New(resp.List.Result.Error)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.List.IDs) == 0 {
					fmt.Fprintln(stdout, "No matching users")
					return nil
				}
				fmt.Fprint(stdout, renderTable([]string{"#", "User ID"}, userRows(resp.List.IDs), []columnAlignment{alignRight, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the list as JSON")
	return cmd
}

func userRows(ids []int64) [][]string {
	rows := make([][]string, 0, len(ids))
	for i, id := range ids {
		rows = append(rows, []string{strconv.Itoa(i + 1), strconv.FormatInt(id, 10)})
	}
	return rows
}

func newEchoCommand(ctx *commandContext) *cobra.Command {
	var probe bridge.Probe
	var numbers string
	cmd := &cobra.Command{
		Use:   "echo [text]",
		Short: "Round-trip a probe through the daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				probe.Text = args[0]
			}
			parsed, err := parseNumbers(numbers)
			if err != nil {
				return err
			}
			probe.Numbers = parsed
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Echo(ipc.EchoRequest{Probe: probe})
				if err != nil {
					return err
				}
				return writeJSON(cmd, resp.Probe)
			})
		},
	}
	cmd.Flags().BoolVar(&probe.Flag, "flag", false, "Boolean field of the probe")
	cmd.Flags().Int64Var(&probe.Number, "number", 0, "Integer field of the probe")
	cmd.Flags().StringVar(&numbers, "numbers", "", "Comma-separated integer list")
	return cmd
}

func parseNumbers(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []int64{}, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse --numbers: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}
