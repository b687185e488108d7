package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"

	"github.com/xiaoyaoyouzizai/logfile-transfer/internal/tracker"
)

type statusKind int

const (
	statusOK statusKind = iota
	statusError
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiBlue  = "\x1b[34m"
)

const (
	statusLabelWidth = 24
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag := "OK"
	color := ansiGreen
	if kind == statusError {
		tag = "ERROR"
		color = ansiRed
	}
	text := fmt.Sprintf("[%s]", tag)
	if message != "" {
		text = fmt.Sprintf("[%s] %s", tag, message)
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", text)
	if colorize {
		return color + line + ansiReset
	}
	return line
}

// renderStatus prints a status reply with the tracked files as a table.
// Lines that do not parse as file entries are printed verbatim.
func renderStatus(out io.Writer, lines []string, colorize bool) error {
	if len(lines) == 0 {
		return nil
	}
	head := lines[0]
	if colorize {
		head = ansiGreen + head + ansiReset
	}
	fmt.Fprintln(out, head)
	if len(lines) < 2 {
		return nil
	}
	ident := lines[1]
	if colorize {
		ident = ansiBlue + ident + ansiReset
	}
	fmt.Fprintln(out, ident)

	rows := make([][]string, 0, len(lines)-2)
	for _, line := range lines[2:] {
		st, err := tracker.ParseStatus(line)
		if err != nil {
			fmt.Fprintln(out, line)
			continue
		}
		rows = append(rows, []string{st.LogPath, st.OffsetPath, st.OpenedAt.Format(tracker.StatusTimeLayout), strconv.Itoa(st.Lines)})
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No open log files")
		return nil
	}
	fmt.Fprintln(out, renderTable([]column{
		{title: "Log file"},
		{title: "Offset file"},
		{title: "Opened"},
		{title: "Lines", numeric: true},
	}, rows))
	return nil
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
