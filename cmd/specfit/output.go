package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// printStatus prints a status line with color to stderr, leaving stdout
// for reports.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(os.Stderr, "%s %s\n", c.Sprint(symbol), message)
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("✗"), err)
}

// scoreColor picks green at or above target, yellow within a quarter of
// it, red otherwise.
func scoreColor(score, target float64) color.Attribute {
	switch {
	case score >= target:
		return color.FgGreen
	case score >= target*0.75:
		return color.FgYellow
	default:
		return color.FgRed
	}
}
