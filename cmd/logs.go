package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tail "github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/dimasma0305/hackforge/internal/hackforge/config"
)

var logsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the server log",
	Long: `Print the server log file. With --follow, keep streaming new lines
as the server writes them, surviving log rotation.`,
	Example: `  # Print the whole log
  hackforge logs

  # Stream new entries
  hackforge logs -f`,
	RunE: func(_ *cobra.Command, _ []string) error {
		conf, err := config.Load(config.ResolvePath(configPath))
		if err != nil {
			return err
		}
		if conf.Server.LogFile == "" {
			return fmt.Errorf("no log file configured")
		}

		if !logsFollow {
			data, err := os.ReadFile(conf.Server.LogFile)
			if err != nil {
				return fmt.Errorf("failed to read log file: %w", err)
			}
			fmt.Print(string(data))
			return nil
		}

		return followLogs(conf.Server.LogFile)
	},
}

// followLogs streams the log file until interrupted
func followLogs(logFile string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Re-open and poll so rotation does not end the stream
	t, err := tail.TailFile(logFile, tail.Config{
		ReOpen:    true,
		Follow:    true,
		MustExist: false,
		Poll:      true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
	})
	if err != nil {
		return fmt.Errorf("failed to tail log file: %w", err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-sigChan:
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return fmt.Errorf("log tail channel closed")
			}
			if line == nil || strings.TrimSpace(line.Text) == "" {
				continue
			}
			fmt.Println(line.Text)
		}
	}
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Stream new log lines")
}
