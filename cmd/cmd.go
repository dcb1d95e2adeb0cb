// Package cmd defines the alarmd command-line interface.
package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"
)

// BuildArgs carries version metadata injected at link time.
type BuildArgs struct {
	Version   string
	Commit    string
	Date      string
	BuildType string
}

var currentBuildArgs BuildArgs

// Execute runs the CLI with the given arguments.
func Execute(args []string, bArgs BuildArgs) error {
	currentBuildArgs = bArgs
	app := cli.App{
		Name:      "alarmd",
		HelpName:  "alarmd",
		Usage:     "Background alarm engine with an offline-first resource cache.",
		Version:   fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText: "alarmd <command> [arguments...]",
		Commands: []cli.Command{
			{
				Name:   "daemon",
				Usage:  "run the alarm daemon in the foreground",
				Action: daemon,
				Flags:  daemonFlags,
			},
			{
				Name:    "version",
				Aliases: []string{"v"},
				Usage:   "print the installed version",
				Action:  printVersion,
			},
		},
		Action:      daemon,
		Flags:       daemonFlags,
		HideVersion: true,
	}
	return app.Run(args)
}

func printVersion(_ *cli.Context) error {
	fmt.Printf("alarmd %s-%s (%s_%s)\nBuild: %s=%s\n",
		currentBuildArgs.Version,
		currentBuildArgs.BuildType,
		runtime.GOOS,
		runtime.GOARCH,
		currentBuildArgs.Date,
		currentBuildArgs.Commit,
	)
	return nil
}
