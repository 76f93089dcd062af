package main

import (
	"github.com/go-go-golems/chatwidget/cmd/chatwidget/cmds"
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatwidget",
	Short: "Terminal client for a Socket.IO chat bot",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.InitLoggerFromCobra(cmd); err != nil {
			return err
		}
		if f := cmd.Flags(); f != nil {
			lvl, _ := f.GetString("log-level")
			if lvl != "" {
				if l, err := zerolog.ParseLevel(lvl); err == nil {
					zerolog.SetGlobalLevel(l)
				}
			}
			withCaller, _ := f.GetBool("with-caller")
			if withCaller {
				log.Logger = log.Logger.With().Caller().Logger()
			}
			logFile, _ := f.GetString("log-file")
			cmds.LogsToFile = logFile != ""
		}
		return nil
	},
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Inspect persisted transcripts",
}

func main() {
	if err := clay.InitGlazed("chatwidget", rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	chatCmd, err := cmds.NewChatCommand()
	cobra.CheckErr(err)
	command, err := cli.BuildCobraCommand(chatCmd)
	cobra.CheckErr(err)
	rootCmd.AddCommand(command)

	uploadCmd, err := cmds.NewUploadCommand()
	cobra.CheckErr(err)
	command, err = cli.BuildCobraCommand(uploadCmd)
	cobra.CheckErr(err)
	rootCmd.AddCommand(command)

	tailCmd, err := cmds.NewTailCommand()
	cobra.CheckErr(err)
	command, err = cli.BuildCobraCommand(tailCmd)
	cobra.CheckErr(err)
	rootCmd.AddCommand(command)

	listCmd, err := cmds.NewTranscriptListCommand()
	cobra.CheckErr(err)
	command, err = cli.BuildCobraCommand(listCmd)
	cobra.CheckErr(err)
	transcriptCmd.AddCommand(command)

	showCmd, err := cmds.NewTranscriptShowCommand()
	cobra.CheckErr(err)
	command, err = cli.BuildCobraCommand(showCmd)
	cobra.CheckErr(err)
	transcriptCmd.AddCommand(command)
	rootCmd.AddCommand(transcriptCmd)

	cobra.CheckErr(rootCmd.Execute())
}
