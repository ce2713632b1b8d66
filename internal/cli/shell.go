package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
)

// RunShell starts the interactive inspection shell on the terminal
func RunShell(ctx context.Context, app *App) error {
	printWelcome(app)

	cmds := NewCommands(app)
	quit := false

	executor := func(in string) {
		out, exit := cmds.Execute(ctx, in)
		if out != "" {
			fmt.Println(out)
		}
		if exit {
			quit = true
		}
	}

	p := prompt.New(executor, completer,
		prompt.OptionTitle("aimem"),
		prompt.OptionPrefix("aimem> "),
		prompt.OptionPrefixTextColor(prompt.Cyan),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return quit && breakline
		}),
	)
	p.Run()
	return nil
}

// completer suggests commands for the first word only
func completer(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	if !strings.HasPrefix(before, "/") || strings.Contains(before, " ") {
		return nil
	}
	return prompt.FilterHasPrefix(suggestions(), d.GetWordBeforeCursor(), true)
}

func suggestions() []prompt.Suggest {
	cmds := GetCommandSuggestions()
	out := make([]prompt.Suggest, len(cmds))
	for i, c := range cmds {
		out[i] = prompt.Suggest{Text: c.Text, Description: c.Description}
	}
	return out
}

// printWelcome prints welcome message
func printWelcome(app *App) {
	fmt.Printf("\n%s🧠 aimem v%s%s - tiered conversational memory\n", colorCyan, Version, colorReset)
	fmt.Printf("%sSession %s%s\n", colorGray, app.Manager.SessionID(), colorReset)
	if !app.Config.IsAPIKeyConfigured() {
		fmt.Fprintf(os.Stderr, "%s⚠️  API key not configured: fact extraction will fail (set AIMEM_API_KEY in config/.secrets)%s\n",
			colorYellow, colorReset)
	}
	fmt.Printf("%sType /help for help, /exit to quit%s\n\n", colorGray, colorReset)
}

// PrintWarning is a warning handler that writes to stderr
func PrintWarning(err error) {
	fmt.Fprintf(os.Stderr, "\n%s⚠️ %v%s\n", colorRed, err, colorReset)
}
