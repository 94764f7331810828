// ema-tales is a tabletop role-playing game master in the terminal. A
// language model narrates the chosen story, keeps a status sheet for the
// player and can read its replies out loud.
//
// The project directory (Gameplay, Log, Save and key.txt) is found by walking
// up from the working directory, or set with --root.
//
// Usage:
//
//	ema-tales [flags]
//	ema-tales --headless --rule COC --story manor
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

const (
	defaultRule  = "DET"
	defaultStory = "THE_FIRSTMURDER"
)

type flags struct {
	configPath string
	root       string
	rule       string
	story      string
	model      string
	headless   bool
	narration  bool
	noAudio    bool
	noAutoSave bool
	resume     bool
	list       bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var f flags
	flagSet := pflag.NewFlagSet("ema-tales", pflag.ContinueOnError)
	flagSet.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file (default: $EMA_CONFIG)")
	flagSet.StringVar(&f.root, "root", "", "project directory holding Gameplay, Log, Save and key.txt")
	flagSet.StringVarP(&f.rule, "rule", "r", "", "rule set to play (default: "+defaultRule+")")
	flagSet.StringVarP(&f.story, "story", "s", "", "story to play (default: "+defaultStory+")")
	flagSet.StringVar(&f.model, "model", "", "chat model to use")
	flagSet.BoolVar(&f.headless, "headless", false, "plain line mode on stdin and stdout instead of the terminal UI")
	flagSet.BoolVar(&f.narration, "narration", false, "read replies out loud from the start")
	flagSet.BoolVar(&f.noAudio, "no-audio", false, "do not open an audio device, narration stays unavailable")
	flagSet.BoolVar(&f.noAutoSave, "no-auto-save", false, "do not save after every turn")
	flagSet.BoolVar(&f.resume, "resume", false, "continue from the latest save")
	flagSet.BoolVar(&f.list, "list", false, "list rules and stories and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, f, flagSet)
	if err != nil {
		return err
	}
	defer a.close()

	if f.list {
		return a.printCatalog(os.Stdout)
	}
	if f.headless {
		return a.runHeadless(ctx, os.Stdin, os.Stdout)
	}
	return a.runTUI(ctx)
}
