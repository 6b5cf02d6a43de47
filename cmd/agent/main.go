// CodeHive developer agent: watches a project tree and relays changes,
// chat and coordination signals through a shared room.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CodeHiveAPP/codehive/internal/agent"
	"github.com/CodeHiveAPP/codehive/internal/config"
	"github.com/CodeHiveAPP/codehive/internal/hive"
	"github.com/CodeHiveAPP/codehive/internal/logging"
	"github.com/CodeHiveAPP/codehive/internal/protocol"
	"github.com/CodeHiveAPP/codehive/internal/watcher"
)

func main() {
	_ = godotenv.Load()
	logging.Init("agent")
	defer logging.Sync()

	var projectFlag string
	var nameFlag string
	var branchFlag string

	root := &cobra.Command{
		Use:   "hive",
		Short: "codehive — real-time collaboration agent for your source tree",
	}
	root.PersistentFlags().StringVar(&projectFlag, "project", "", "Project directory to watch (default: cwd)")
	root.PersistentFlags().StringVar(&nameFlag, "name", "", "Display name (default: DEV_NAME or $USER)")
	root.PersistentFlags().StringVar(&branchFlag, "branch", "", "Git branch to report (default: read from .git/HEAD)")

	root.AddCommand(
		createCmd(&projectFlag, &nameFlag, &branchFlag),
		joinCmd(&projectFlag, &nameFlag, &branchFlag),
		roomsCmd(&projectFlag),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(projectFlag, nameFlag string) config.AgentConfig {
	cfg, err := config.LoadAgent(projectFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if nameFlag != "" {
		cfg.Name = nameFlag
	}
	return cfg
}

func createCmd(projectFlag, nameFlag, branchFlag *string) *cobra.Command {
	var password string
	var public bool
	var expires int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room and start collaborating",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*projectFlag, *nameFlag)
			branch := resolveBranch(*branchFlag, cfg.ProjectDir)

			client := agent.NewClient(cfg, hive.GenerateDeviceID())
			if err := client.Connect(); err != nil {
				return err
			}

			reply := client.CreateRoom(agent.CreateRoomOptions{
				Password:       password,
				IsPublic:       public,
				ExpiresInHours: expires,
				Branch:         branch,
			})
			if reply == nil {
				return fmt.Errorf("no reply from relay")
			}
			if reply.Type == protocol.MsgError {
				return fmt.Errorf("create failed: %s", reply.Message)
			}
			fmt.Printf("room created: %s\n", reply.Code)
			if reply.InviteLink != "" {
				fmt.Printf("invite: %s\n", reply.InviteLink)
			}
			return runSession(client, cfg)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Protect the room with a password")
	cmd.Flags().BoolVar(&public, "public", false, "List the room in public discovery")
	cmd.Flags().IntVar(&expires, "expires", 0, "Expire the room after this many idle hours (0 = never)")
	return cmd
}

func joinCmd(projectFlag, nameFlag, branchFlag *string) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "join <code>",
		Short: "Join an existing room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			if !hive.IsValidRoomCode(code) {
				return fmt.Errorf("invalid room code: %s", code)
			}
			cfg := loadConfig(*projectFlag, *nameFlag)
			branch := resolveBranch(*branchFlag, cfg.ProjectDir)

			client := agent.NewClient(cfg, hive.GenerateDeviceID())
			if err := client.Connect(); err != nil {
				return err
			}

			reply := client.JoinRoom(code, password, branch)
			if reply == nil {
				return fmt.Errorf("no reply from relay")
			}
			if reply.Type == protocol.MsgError {
				return fmt.Errorf("join failed: %s", reply.Message)
			}
			fmt.Printf("joined %s as %s\n", code, cfg.Name)
			return runSession(client, cfg)
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Room password")
	return cmd
}

func roomsCmd(projectFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List public rooms on the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*projectFlag, "")
			client := agent.NewClient(cfg, hive.GenerateDeviceID())
			if err := client.Connect(); err != nil {
				return err
			}
			defer client.Disconnect()

			reply := client.ListRooms()
			if reply == nil {
				return fmt.Errorf("no reply from relay")
			}
			if len(reply.Rooms) == 0 {
				fmt.Println("no public rooms")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tCREATED BY\tMEMBERS\tAGE")
			for _, room := range reply.Rooms {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
					room.Code, room.CreatedBy, room.MemberCount, hive.FormatRelativeTime(room.CreatedAt))
			}
			return tw.Flush()
		},
	}
}

func resolveBranch(flag, projectDir string) string {
	if flag != "" {
		return flag
	}
	return agent.GitBranch(projectDir)
}

// runSession wires the watcher into the client and blocks until interrupted.
func runSession(client *agent.Client, cfg config.AgentConfig) error {
	name := cfg.Name
	deviceID := client.DeviceID()

	client.OnMessage = func(msg *protocol.Message) {
		switch msg.Type {
		case protocol.MsgChatReceived:
			fmt.Printf("[%s] %s\n", msg.Name, msg.Content)
		case protocol.MsgMemberJoined:
			fmt.Printf("* %s joined\n", msg.Name)
		case protocol.MsgMemberLeft:
			fmt.Printf("* %s left\n", msg.Name)
		case protocol.MsgConflictWarning:
			fmt.Printf("! conflict on %s (%v)\n", msg.File, msg.Authors)
		case protocol.MsgBranchWarning:
			fmt.Printf("! %s\n", msg.Message)
		case protocol.MsgFileLocked:
			fmt.Printf("* %s locked %s\n", msg.Name, msg.File)
		case protocol.MsgFileUnlocked:
			fmt.Printf("* %s unlocked %s\n", msg.Name, msg.File)
		}
	}

	w := watcher.New(cfg.ProjectDir, cfg.ExtraIgnore, func(change protocol.FileChange) {
		change.Author = name
		change.DeviceID = deviceID
		client.ReportFileChange(change)
	})
	if err := w.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.L().Info("shutting down", zap.String("room", client.CurrentRoom()))
	client.Disconnect()
	return nil
}
