package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "AgentGate CLI",
	Long:  "A CLI for managing agent identities and credentials in AgentGate.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(rotateCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(accessCmd())
	rootCmd.AddCommand(auditCmd())
}

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <id>",
		Short: "Register an agent identity (issues a one-time credential for new ids)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			department, _ := cmd.Flags().GetString("department")
			perms, _ := cmd.Flags().GetStringSlice("permission")
			role, _ := cmd.Flags().GetString("role")
			spawnedBy, _ := cmd.Flags().GetString("spawned-by")
			beadID, _ := cmd.Flags().GetString("bead-id")
			save, _ := cmd.Flags().GetBool("save")

			body := map[string]any{"id": args[0], "department": department}
			if len(perms) > 0 {
				body["permissions"] = perms
			}
			if role != "" {
				body["role"] = role
			}
			if spawnedBy != "" {
				body["spawned_by"] = spawnedBy
			}
			if beadID != "" {
				body["bead_id"] = beadID
			}

			client := newClient()
			result, err := client.post("/v1/agents/register", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if secret, ok := result["secret"].(string); ok && save {
				cfg.Credential = secret
				if err := saveConfig(); err != nil {
					printError("saving credential: " + err.Error())
				} else {
					printSuccess("credential saved to " + configPath())
				}
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("department", "", "Department classification")
	cmd.Flags().StringSlice("permission", nil, "Capability token (repeatable; default read,write)")
	cmd.Flags().String("role", "", "Lineage: role")
	cmd.Flags().String("spawned-by", "", "Lineage: spawning agent id")
	cmd.Flags().String("bead-id", "", "Lineage: bead id")
	cmd.Flags().Bool("save", false, "Save the issued credential to the CLI config")
	return cmd
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [credential]",
		Short: "Store a bearer credential for subsequent commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret string
			if len(args) > 0 {
				secret = args[0]
			} else {
				fmt.Print("Credential: ")
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Scan()
				secret = strings.TrimSpace(scanner.Text())
			}
			if secret == "" {
				printError("no credential provided")
				return nil
			}
			cfg.Credential = secret
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("credential saved to " + configPath())
			return nil
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show an agent (omit id for the authenticated agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/agents/self"
			if len(args) > 0 {
				path = "/v1/agents/" + args[0]
			}
			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if a, ok := result["agent"].(map[string]any); ok {
				printResult(a)
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id> <secret>",
		Short: "Prove possession of a credential for an agent id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/agents/"+args[0]+"/verify", map[string]any{"secret": args[1]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func rotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate <id>",
		Short: "Rotate an agent's credential (prints the fresh secret once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("expiry-days")
			body := map[string]any{}
			if days > 0 {
				body["expiry_days"] = days
			}
			client := newClient()
			result, err := client.post("/v1/agents/"+args[0]+"/rotate", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().Int("expiry-days", 0, "Credential lifetime in days (default: server setting)")
	return cmd
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an agent's credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.postNoContent("/v1/agents/" + args[0] + "/revoke"); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("credential revoked")
			return nil
		},
	}
}

func accessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "access <owner-id> <department> <visibility>",
		Short: "Check whether the authenticated agent may access a resource",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/access/check", map[string]any{
				"owner_id":   args[0],
				"department": args[1],
				"visibility": args[2],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID, _ := cmd.Flags().GetString("agent")
			action, _ := cmd.Flags().GetString("action")
			limit, _ := cmd.Flags().GetInt("limit")

			q := fmt.Sprintf("?limit=%d", limit)
			if agentID != "" {
				q += "&agent_id=" + agentID
			}
			if action != "" {
				q += "&action=" + action
			}
			client := newClient()
			result, err := client.get("/v1/sys/audit-log" + q)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if entries, ok := result["data"].([]any); ok {
				for _, e := range entries {
					if m, ok := e.(map[string]any); ok {
						fmt.Printf("%v  %-18v  %v\n", m["CreatedAt"], m["Action"], m["AgentID"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("agent", "", "Filter by agent id")
	cmd.Flags().String("action", "", "Filter by audit action")
	cmd.Flags().Int("limit", 50, "Maximum entries")
	return cmd
}
