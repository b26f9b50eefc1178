package console

import (
	"fmt"
	"strconv"
	"strings"
)

// menuItem is one entry in a numbered menu.
type menuItem struct {
	key   string
	label string
}

// readLine reads one line of input, trimmed. EOF yields "" and marks the
// console so validation loops stop re-prompting.
func (c *Console) readLine() string {
	line, err := c.in.ReadString('\n')
	if err != nil {
		c.eof = true
	}
	return strings.TrimSpace(line)
}

// promptMenu displays a numbered menu and returns the chosen key. Unknown
// selections re-prompt; EOF or an empty line returns "".
func (c *Console) promptMenu(prompt string, items []menuItem) string {
	for _, item := range items {
		fmt.Fprintf(c.out, "%s) %s\n", item.key, item.label)
	}
	for {
		if c.eof {
			return ""
		}
		fmt.Fprintf(c.out, "%s: ", prompt)
		choice := c.readLine()
		if choice == "" {
			return ""
		}
		for _, item := range items {
			if choice == item.key {
				return choice
			}
		}
		fmt.Fprintf(c.out, "Invalid selection. Please choose one of the listed options.\n")
	}
}

// promptText asks for a line of text, returning def when the user just
// presses enter.
func (c *Console) promptText(prompt, def string) string {
	suffix := ""
	if def != "" {
		suffix = fmt.Sprintf(" [%s]", def)
	}
	fmt.Fprintf(c.out, "%s%s: ", prompt, suffix)
	response := c.readLine()
	if response == "" {
		return def
	}
	return response
}

// promptInt asks for an integer with a default and an optional minimum.
func (c *Console) promptInt(prompt string, def, minimum int) int {
	for {
		if c.eof {
			return def
		}
		fmt.Fprintf(c.out, "%s [%d]: ", prompt, def)
		raw := c.readLine()
		value := def
		if raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				fmt.Fprintln(c.out, "Please enter a whole number.")
				continue
			}
			value = parsed
		}
		if value < minimum {
			fmt.Fprintf(c.out, "Value must be at least %d.\n", minimum)
			continue
		}
		return value
	}
}

// promptYesNo asks a yes/no question.
func (c *Console) promptYesNo(prompt string, def bool) bool {
	defaultChar := "Y/n"
	if !def {
		defaultChar = "y/N"
	}
	for {
		if c.eof {
			return def
		}
		fmt.Fprintf(c.out, "%s (%s): ", prompt, defaultChar)
		response := strings.ToLower(c.readLine())
		switch response {
		case "":
			return def
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		fmt.Fprintln(c.out, "Please answer y or n.")
	}
}

// selectResult is the outcome of promptSelect: either an index into the
// item list, an extra-option key, or cancellation.
type selectResult struct {
	index     int
	extra     string
	cancelled bool
}

// promptSelect renders a numbered pick list with optional extra lettered
// options and a cancel entry. An empty input picks the first item.
func (c *Console) promptSelect(header string, labels []string, extras []menuItem) selectResult {
	if len(labels) == 0 {
		fmt.Fprintln(c.out, "No items available.")
		return selectResult{cancelled: true}
	}
	fmt.Fprintf(c.out, "\n%s\n", header)
	for i, label := range labels {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, label)
	}
	for _, extra := range extras {
		fmt.Fprintf(c.out, "  %s) %s\n", extra.key, extra.label)
	}
	fmt.Fprintln(c.out, "  Q) Cancel")

	for {
		if c.eof {
			return selectResult{cancelled: true}
		}
		fmt.Fprint(c.out, "Select an option: ")
		choice := c.readLine()
		if choice == "" {
			choice = "1"
		}
		switch strings.ToLower(choice) {
		case "q", "quit", "exit":
			return selectResult{cancelled: true}
		}
		for _, extra := range extras {
			if strings.EqualFold(choice, extra.key) {
				return selectResult{extra: strings.ToUpper(extra.key)}
			}
		}
		position, err := strconv.Atoi(choice)
		if err != nil {
			fmt.Fprintln(c.out, "Please enter a valid option.")
			continue
		}
		if position >= 1 && position <= len(labels) {
			return selectResult{index: position - 1}
		}
		fmt.Fprintln(c.out, "Selection out of range. Try again.")
	}
}

// waitForEnter pauses until the user acknowledges.
func (c *Console) waitForEnter() {
	fmt.Fprint(c.out, "Press Enter to continue...")
	c.readLine()
}
