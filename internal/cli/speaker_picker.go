package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// pickerInput is where the interactive picker reads answers from.
var pickerInput io.Reader = os.Stdin

var errPickCancelled = errors.New("cancelled")

// pickSpeaker shows a numbered list of speakers and returns the chosen one.
// The first speaker is preselected: an empty answer picks it.
func pickSpeaker(speakers []string) (string, error) {
	if len(speakers) == 0 {
		return "", fmt.Errorf("no speakers to choose from")
	}

	fmt.Println("\nSpeakers found in the chat log:")
	fmt.Println()
	for i, s := range speakers {
		marker := " "
		if i == 0 {
			marker = ">"
		}
		fmt.Printf("  %s %-3d %s\n", marker, i+1, s)
	}
	fmt.Println()

	reader := bufio.NewReader(pickerInput)
	for {
		fmt.Printf("Select speaker [1-%d] (enter for %s, 'q' to cancel): ", len(speakers), speakers[0])
		input, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && input != "") {
			return "", fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			return speakers[0], nil
		case "q", "Q":
			return "", errPickCancelled
		}

		num, err := strconv.Atoi(input)
		if err != nil || num < 1 || num > len(speakers) {
			fmt.Printf("  Invalid selection. Enter a number between 1 and %d.\n", len(speakers))
			continue
		}
		return speakers[num-1], nil
	}
}
