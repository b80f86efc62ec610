// Command gojvm runs the main method of a single JVM class file.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jvmgo/gojvm-core/pkg/classload"
	"github.com/jvmgo/gojvm-core/pkg/interp"
)

var (
	jmodPath string
	verbose  bool
)

func findJmodPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gojvm <classfile>",
		Short: "Run the main method of a single JVM class file",
		Args:  cobra.ExactArgs(1),
		RunE:  runGojvm,
	}
	cmd.Flags().StringVar(&jmodPath, "jmod", "", "path to java.base.jmod (defaults to JAVA_BASE_JMOD, then $JAVA_HOME/jmods/java.base.jmod)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every instruction fetch at debug level")
	return cmd
}

func runGojvm(cmd *cobra.Command, args []string) error {
	logger := log.New()
	if verbose {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.WarnLevel)
	}

	filename := args[0]
	dir := filepath.Dir(filename)
	className := strings.TrimSuffix(filepath.Base(filename), ".class")

	resolvedJmod := findJmodPath(jmodPath)
	var bootstrap classload.ClassFinder
	if resolvedJmod != "" {
		bootstrap = classload.NewJmodFinder(resolvedJmod)
	} else {
		logger.Warn("no java.base.jmod found; only classes under the given directory will load")
	}

	finder := &classload.ChainFinder{
		Primary:  bootstrap,
		Fallback: &classload.DirFinder{Dir: dir},
	}

	registry := classload.NewRegistry(finder, logger)
	machine := interp.New(registry, logger)

	if err := machine.ExecuteMain(className); err != nil {
		return errors.Wrapf(err, "executing %s", className)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
