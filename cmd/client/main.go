package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
)

type programRunner interface {
	Run() (tea.Model, error)
}

type programFactory func(tea.Model, ...tea.ProgramOption) programRunner

type options struct {
	server string
	user   string
	peer   string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("parley", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := fs.String("server", os.Getenv("PARLEY_SERVER"), "parley server address")
	username := fs.String("user", os.Getenv("PARLEY_USER"), "username to log in as")
	peer := fs.String("peer", "", "username of the person to chat with")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return options{
		server: strings.TrimRight(strings.TrimSpace(*server), "/"),
		user:   strings.TrimSpace(*username),
		peer:   strings.TrimSpace(*peer),
	}, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, newProgram programFactory) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	api := NewAPIClient(opts.server)
	m := newRootModel(api, opts)

	if newProgram == nil {
		newProgram = func(model tea.Model, options ...tea.ProgramOption) programRunner {
			return tea.NewProgram(model, options...)
		}
	}

	p := newProgram(m, tea.WithAltScreen(), tea.WithInput(stdin), tea.WithOutput(stdout))
	_, err = p.Run()
	return err
}

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
