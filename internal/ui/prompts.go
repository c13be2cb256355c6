package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// PromptYesNo asks a yes/no question and reads one answer line from
// stdin. Off-TTY it announces and returns the default, so scripted
// invocations never hang on a confirmation.
func PromptYesNo(question string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	if !IsTerminal() {
		fmt.Printf("%s %s (non-interactive, assuming %t)\n", question, hint, defaultYes)
		return defaultYes
	}

	fmt.Printf("%s %s ", question, hint)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return defaultYes
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return defaultYes
}
