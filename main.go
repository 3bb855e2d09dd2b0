package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/exserverd/mcmitm/tui"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("mcmitm", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "mcmitm — watch a running mcmitmd's events in real-time\n\nUsage:\n  mcmitm [flags] <watch-addr>\n\nFlags:\n")
		fs.PrintDefaults()
	}

	showVersion := fs.Bool("version", false, "show version and exit")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("mcmitm %s\n", version)
		return
	}

	addr := "127.0.0.1:8090"
	if fs.NArg() > 0 {
		addr = fs.Arg(0)
	}

	monitor(addr)
}

func monitor(addr string) {
	p := tea.NewProgram(tui.New(addr))
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}
