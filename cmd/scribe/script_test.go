package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"rsc.io/script"
	"rsc.io/script/scripttest"
)

// TestCLIScripts drives the CLI end to end from testdata/*.txt scripts.
// Each script gets a fresh working directory; the "scribe" command runs
// the real command tree in-process.
func TestCLIScripts(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no scripts under testdata/")
	}

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".txt")
		t.Run(name, func(t *testing.T) {
			data, err := os.ReadFile(file)
			if err != nil {
				t.Fatal(err)
			}

			engine := script.NewEngine()
			engine.Quiet = !testing.Verbose()
			engine.Cmds["scribe"] = scribeScriptCmd()

			workdir := t.TempDir()
			state, err := script.NewState(context.Background(), workdir, []string{
				"HOME=" + workdir,
				"NO_COLOR=1",
				"SCRIBE_NO_EMOJI=1",
			})
			if err != nil {
				t.Fatal(err)
			}
			scripttest.Run(t, engine, state, filepath.Base(file), bytes.NewReader(data))
		})
	}
}

// scribeScriptCmd exposes the CLI as a script command. The command's
// exit status is the RunE error, so `!` negation works as usual.
func scribeScriptCmd() script.Cmd {
	return script.Command(
		script.CmdUsage{
			Summary: "run the scribe CLI in-process",
			Args:    "args...",
		},
		func(s *script.State, args ...string) (script.WaitFunc, error) {
			var stdout, stderr bytes.Buffer
			err := runScribe(s.Getwd(), &stdout, &stderr, args)
			return func(*script.State) (string, string, error) {
				return stdout.String(), stderr.String(), err
			}, nil
		},
	)
}

// cliMu serializes in-process invocations: the CLI keeps package-level
// state and the working directory is process-global.
var cliMu sync.Mutex

func runScribe(dir string, stdout, stderr io.Writer, args []string) error {
	cliMu.Lock()
	defer cliMu.Unlock()

	prev, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := os.Chdir(dir); err != nil {
		return err
	}
	defer os.Chdir(prev)
	defer closeRuntime()
	defer resetFlags(rootCmd)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "scribe:", err)
		return err
	}
	return nil
}

// resetFlags restores every changed flag to its default so one script
// step never leaks flag state into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().Visit(reset)
	cmd.PersistentFlags().Visit(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
