package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/MongooseMoo/moo-conformance-tests/internal/client"
	"github.com/MongooseMoo/moo-conformance-tests/internal/config"
	"github.com/MongooseMoo/moo-conformance-tests/internal/moo"
)

var (
	consoleHost string
	consolePort int
	consoleUser string
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console against a MOO server",
	Long: `Opens an interactive console on a MOO server using the same wire
protocol as the test harness.

Lines starting with ';' are evaluated as MOO expressions and the result
is printed with its type. Other lines are sent as commands and the raw
output is echoed. Console directives:

  :user <name>   reconnect as another user
  :quit          exit the console`,
	RunE: runConsole,
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = consoleHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = consolePort
	}
	if cmd.Flags().Changed("user") {
		cfg.User = consoleUser
	}

	c := client.New(client.Config{Host: cfg.Host, Port: cfg.Port})
	if err := c.Connect(cfg.User); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Address(), err)
	}
	defer c.Close()

	fmt.Printf("Connected to %s as %s. Type :quit to exit.\n", cfg.Address(), c.User())
	return consoleLoop(c, cfg)
}

func consoleLoop(c *client.Client, cfg config.Config) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt(c, cfg),
		HistoryFile:       filepath.Join(os.TempDir(), ".mooconf_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == ":quit" || line == ":q" || line == "exit":
			return nil
		case strings.HasPrefix(line, ":user "):
			user := strings.TrimSpace(strings.TrimPrefix(line, ":user "))
			if err := c.SwitchUser(user); err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			rl.SetPrompt(prompt(c, cfg))
		case strings.HasPrefix(line, ";"):
			evalLine(c, strings.TrimSpace(strings.TrimPrefix(line, ";")))
		default:
			commandLine(c, line)
		}
	}
}

func prompt(c *client.Client, cfg config.Config) string {
	return fmt.Sprintf("%s@%s> ", c.User(), cfg.Address())
}

func evalLine(c *client.Client, code string) {
	if code == "" {
		return
	}
	if !strings.HasPrefix(code, "return ") && !looksLikeStatement(code) {
		code = "return " + strings.TrimSuffix(code, ";") + ";"
	} else if !strings.HasSuffix(code, ";") {
		code += ";"
	}

	result, err := c.Evaluate(code)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	for _, n := range result.Notifications {
		fmt.Printf("  | %s\n", n)
	}
	fmt.Println(formatEvalResult(result))
}

// formatEvalResult renders one eval outcome. A framed response may carry
// no payload at all (statements that print nothing), so a successful
// result can have a nil value.
func formatEvalResult(result client.EvalResult) string {
	if !result.Success {
		return "❌ " + result.FailureText()
	}
	if result.Value == nil {
		return "=> (no value)"
	}
	return fmt.Sprintf("=> %s  (%s)", result.Value.String(), moo.TypeName(result.Value))
}

func commandLine(c *client.Client, line string) {
	lines, err := c.SendCommand(line)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

// looksLikeStatement reports whether code starts with a statement keyword
// and should not be wrapped in a return.
func looksLikeStatement(code string) bool {
	for _, kw := range []string{"if", "for", "while", "try", "fork"} {
		if code == kw || (strings.HasPrefix(code, kw) && len(code) > len(kw) &&
			!isWordChar(code[len(kw)])) {
			return true
		}
	}
	return false
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func init() {
	consoleCmd.Flags().StringVar(&consoleHost, "host", "localhost", "Server host")
	consoleCmd.Flags().IntVar(&consolePort, "port", config.DefaultPort, "Server port")
	consoleCmd.Flags().StringVar(&consoleUser, "user", config.DefaultUser, "Login as this user")
	rootCmd.AddCommand(consoleCmd)
}
