// aioq-shell is an interactive CLI for driving an aioq request queue.
//
// Usage:
//
//	aioq-shell [--config path]
//
// Commands (in REPL):
//
//	open <path> [deadline]            Submit an open request
//	read <fd> <size> <offset> [deadline]  Submit a positional read
//	wait <id>                         Block until a request completes
//	poll <id>                         Check completion without blocking
//	cancel <id>                       Cancel one request
//	cancelfd <fd>                     Cancel all reads on a descriptor
//	close <fd>                        Close a descriptor
//	chunk [bytes]                     Show or set the worker chunk limit
//	help                              Show this help
//	exit / quit / q                   Exit
//
// Deadlines are in seconds; omit or pass -1 for none.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/aioq/internal/config"
	"github.com/calvinalkan/aioq/pkg/aioq"
	"github.com/calvinalkan/aioq/pkg/sysio"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.StringP("config", "c", "", "path to config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: aioq-shell [--config path]\n\n")
		fmt.Fprintf(os.Stderr, "Interactive shell for the aioq request queue.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	cfg, _, err := config.Load(wd, *configPath)
	if err != nil {
		return err
	}

	platform := sysio.NewReal()

	q, err := aioq.New(aioq.Options{
		Platform:   platform,
		ChunkLimit: cfg.ChunkLimitBytes,
	})
	if err != nil {
		return fmt.Errorf("creating queue: %w", err)
	}
	defer q.Close()

	sh := &shell{
		queue:    q,
		platform: platform,
		history:  cfg.HistoryFile,
		bufs:     make(map[aioq.RequestID][]byte),
	}

	return sh.Run()
}

// shell is the interactive command loop.
type shell struct {
	queue    *aioq.Queue
	platform sysio.Platform
	history  string
	liner    *liner.State

	// bufs holds the destination buffer of every outstanding read so
	// wait can print the data once the request completes.
	bufs map[aioq.RequestID][]byte
}

// historyFile returns the history path, preferring the configured one.
func (s *shell) historyFile() string {
	if s.history != "" {
		return s.history
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".aioq_history")
}

// Run starts the REPL loop.
func (s *shell) Run() error {
	s.liner = liner.NewLiner()
	defer s.liner.Close()

	s.liner.SetCtrlCAborts(true)
	s.liner.SetCompleter(s.completer)

	if f, err := os.Open(s.historyFile()); err == nil {
		s.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("aioq - async I/O queue shell")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := s.liner.Prompt("aioq> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")

			s.saveHistory()

			return nil

		case "help", "?":
			s.printHelp()

		case "open":
			s.cmdOpen(args)

		case "read":
			s.cmdRead(args)

		case "wait":
			s.cmdWait(args)

		case "poll":
			s.cmdPoll(args)

		case "cancel":
			s.cmdCancel(args)

		case "cancelfd":
			s.cmdCancelFD(args)

		case "close":
			s.cmdClose(args)

		case "chunk":
			s.cmdChunk(args)

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	s.saveHistory()

	return nil
}

// saveHistory persists command history to disk.
func (s *shell) saveHistory() {
	if path := s.historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			s.liner.WriteHistory(f)
			f.Close()
		}
	}
}

// completer provides tab completion for commands.
func (s *shell) completer(line string) []string {
	commands := []string{
		"open", "read", "wait", "poll",
		"cancel", "cancelfd", "close", "chunk",
		"clear", "cls", "help", "exit", "quit", "q",
	}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (s *shell) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  open <path> [deadline]                Submit an open request")
	fmt.Println("  read <fd> <size> <offset> [deadline]  Submit a positional read")
	fmt.Println("  wait <id>                             Block until a request completes")
	fmt.Println("  poll <id>                             Check completion without blocking")
	fmt.Println("  cancel <id>                           Cancel one request")
	fmt.Println("  cancelfd <fd>                         Cancel all reads on a descriptor")
	fmt.Println("  close <fd>                            Close a descriptor")
	fmt.Println("  chunk [bytes]                         Show or set the worker chunk limit")
	fmt.Println("  help                                  Show this help")
	fmt.Println("  exit / quit / q                       Exit")
	fmt.Println()
	fmt.Println("Deadlines are in seconds (e.g. 0.5); omit or pass -1 for none.")
	fmt.Println("Requests with sooner deadlines run before deadline-free ones.")
}

// parseDeadline reads an optional trailing deadline argument.
func parseDeadline(args []string, at int) (float64, error) {
	if len(args) <= at {
		return -1, nil
	}

	d, err := strconv.ParseFloat(args[at], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid deadline %q", args[at])
	}

	return d, nil
}

func (s *shell) cmdOpen(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: open <path> [deadline]")

		return
	}

	deadline, err := parseDeadline(args, 1)
	if err != nil {
		fmt.Println(err)

		return
	}

	id, err := s.queue.SubmitOpen(args[0], unix.O_RDONLY, deadline)
	if err != nil {
		fmt.Printf("submit failed: %v\n", err)

		return
	}

	fmt.Printf("request %d (open %s)\n", id, args[0])
}

func (s *shell) cmdRead(args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: read <fd> <size> <offset> [deadline]")

		return
	}

	fd, err1 := strconv.Atoi(args[0])
	size, err2 := strconv.Atoi(args[1])
	offset, err3 := strconv.ParseInt(args[2], 10, 64)

	if err1 != nil || err2 != nil || err3 != nil || size < 0 {
		fmt.Println("Usage: read <fd> <size> <offset> [deadline]")

		return
	}

	deadline, err := parseDeadline(args, 3)
	if err != nil {
		fmt.Println(err)

		return
	}

	buf := make([]byte, size)

	id, err := s.queue.SubmitRead(fd, buf, offset, deadline)
	if err != nil {
		fmt.Printf("submit failed: %v\n", err)

		return
	}

	s.bufs[id] = buf

	fmt.Printf("request %d (read %d bytes at %d from fd %d)\n", id, size, offset, fd)
}

func (s *shell) cmdWait(args []string) {
	id, ok := parseID(args)
	if !ok {
		fmt.Println("Usage: wait <id>")

		return
	}

	n, err := s.queue.Wait(id)

	buf := s.bufs[id]
	delete(s.bufs, id)

	if err != nil {
		fmt.Printf("request %d failed: %v (result %d)\n", id, err, n)

		return
	}

	if buf == nil {
		// Open request: the result is a descriptor.
		fmt.Printf("request %d done: fd %d\n", id, aioq.HandleFromResult(n))

		return
	}

	fmt.Printf("request %d done: %d bytes\n", id, n)

	if n > 0 {
		fmt.Printf("%q\n", buf[:n])
	}
}

func (s *shell) cmdPoll(args []string) {
	id, ok := parseID(args)
	if !ok {
		fmt.Println("Usage: poll <id>")

		return
	}

	if s.queue.Poll(id) {
		fmt.Printf("request %d is complete (use 'wait %d' to collect it)\n", id, id)
	} else {
		fmt.Printf("request %d is still in flight\n", id)
	}
}

func (s *shell) cmdCancel(args []string) {
	id, ok := parseID(args)
	if !ok {
		fmt.Println("Usage: cancel <id>")

		return
	}

	if err := s.queue.Cancel(id); err != nil {
		fmt.Printf("cancel failed: %v\n", err)

		return
	}

	fmt.Printf("request %d canceled (use 'wait %d' to release it)\n", id, id)
}

func (s *shell) cmdCancelFD(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: cancelfd <fd>")

		return
	}

	fd, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("Usage: cancelfd <fd>")

		return
	}

	s.queue.CancelFD(fd)

	fmt.Printf("canceled all reads on fd %d\n", fd)
}

func (s *shell) cmdClose(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: close <fd>")

		return
	}

	fd, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("Usage: close <fd>")

		return
	}

	if err := s.platform.Close(fd); err != nil {
		fmt.Printf("close failed: %v\n", err)

		return
	}

	fmt.Printf("closed fd %d\n", fd)
}

func (s *shell) cmdChunk(args []string) {
	if len(args) == 0 {
		fmt.Printf("chunk limit: %d bytes\n", s.queue.ChunkLimit())

		return
	}

	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Println("Usage: chunk [bytes]")

		return
	}

	if err := s.queue.SetChunkLimit(n); err != nil {
		fmt.Printf("invalid chunk limit: %v\n", err)

		return
	}

	fmt.Printf("chunk limit set to %d bytes\n", n)
}

func parseID(args []string) (aioq.RequestID, bool) {
	if len(args) < 1 {
		return 0, false
	}

	n, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, false
	}

	return aioq.RequestID(n), true
}
