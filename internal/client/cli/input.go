package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// GetSimpleText prints a prompt to w and reads a single line of input from reader.
// The trailing newline is trimmed. If EOF occurs after some input was read,
// the partial line is returned.
//
//	Prompt text
//	> _
func GetSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n> "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// GetPassword reads a password from the terminal without echo.
// The caller should wipe the returned slice.
func GetPassword(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Enter password: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// ExamEntry is one "subject=rank" line of the signup exam form.
type ExamEntry struct {
	Subject string
	Rank    int
}

var errBadExamLine = errors.New(`expected "subject=rank"`)

func parseExamLine(line string) (ExamEntry, error) {
	subject, rank, ok := strings.Cut(line, "=")
	subject = strings.ToLower(strings.TrimSpace(subject))
	if !ok || subject == "" {
		return ExamEntry{}, fmt.Errorf("%w: %q", errBadExamLine, line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(rank))
	if err != nil || n <= 0 {
		return ExamEntry{}, fmt.Errorf("%w: rank must be a positive number in %q", errBadExamLine, line)
	}
	return ExamEntry{Subject: subject, Rank: n}, nil
}

// GetExamEntries reads "subject=rank" lines until an empty line or EOF.
// Malformed lines are reported to w and skipped.
func GetExamEntries(reader *bufio.Reader, w io.Writer) ([]ExamEntry, error) {
	fmt.Fprintln(w, "Enter exam ranks as subject=rank, e.g. jee=1520 (empty line to finish)")

	entries := make([]ExamEntry, 0)
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			break
		}
		e, perr := parseExamLine(line)
		if perr != nil {
			fmt.Fprintln(w, perr)
		} else {
			entries = append(entries, e)
		}
		if err != nil {
			break
		}
	}
	return entries, nil
}
