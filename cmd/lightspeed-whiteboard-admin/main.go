package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-whiteboard/board"
	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/persistence"
	"github.com/tcriess/lightspeed-whiteboard/room"
	"github.com/tcriess/lightspeed-whiteboard/session"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// A very simple CLI tool for the administration of lightspeed-whiteboard rooms and snapshots.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

// adminAuthorizer allows every action, the admin acts with the rights of the room owner.
type adminAuthorizer struct{}

func (adminAuthorizer) Allowed(string, *types.Room, *types.User) (bool, error) {
	return true, nil
}

func printJSON(v interface{}) {
	r, err := json.Marshal(v)
	if err != nil {
		globals.AppLogger.Error("could not marshal result", "error", err)
		return
	}
	fmt.Println(string(r))
}

// decodeRoom reads a room definition from the argument, "-" reads it from STDIN.
func decodeRoom(arg string, stdin io.Reader) (types.Room, error) {
	var r io.Reader
	if arg == "-" {
		r = stdin
	} else {
		r = bytes.NewReader([]byte(arg))
	}
	room := types.Room{}
	if err := json.NewDecoder(r).Decode(&room); err != nil {
		return room, err
	}
	if room.Id == "" {
		return room, fmt.Errorf("no room id")
	}
	return room, nil
}

// prepareRoom fills in the defaults of a room definition, keeping the creation time of an existing room.
func prepareRoom(room types.Room, existing *types.Room, defaultMaxUsers int, now time.Time) types.Room {
	room.ApplyDefaults(defaultMaxUsers)
	if existing != nil && room.CreatedAt.IsZero() {
		room.CreatedAt = existing.CreatedAt
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	return room
}

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)

	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	rooms, err := room.NewRegistry(persister, globalConfig.RoomConfig.CacheSize, globalConfig.RoomConfig.CacheTTL, globalConfig.RoomConfig.DefaultMaxUsers)
	if err != nil {
		panic(err)
	}
	elements := board.NewElementStore(persister, rooms)
	snapshots := board.NewSnapshotManager(elements, adminAuthorizer{})
	admin := &types.User{Id: globalConfig.AdminUser, Nick: globalConfig.AdminUser}

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show rooms and their contents",
		Long:  `show is for printing room, element, participant, presence and snapshot information.`,
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Show rooms",
		Long:  `show rooms lists all available rooms.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			rooms, err := persister.GetRooms()
			if err != nil {
				globals.AppLogger.Error("could not get rooms", "error", err)
				return
			}
			printJSON(rooms)
		},
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Show room",
		Long:  `show room prints detail information about the room with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{Id: args[0]}
			if err := persister.GetRoom(&room); err != nil {
				globals.AppLogger.Error("could not get room", "room", args[0], "error", err)
				return
			}
			printJSON(room)
		},
	}
	var cmdShowElements = &cobra.Command{
		Use:   "elements [room id]",
		Short: "Show elements",
		Long:  `show elements prints the current elements of the room in painter's order.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			current, err := elements.QueryCurrent(args[0])
			if err != nil {
				globals.AppLogger.Error("could not get elements", "room", args[0], "error", err)
				return
			}
			printJSON(current)
		},
	}
	var cmdShowParticipants = &cobra.Command{
		Use:   "participants [room id]",
		Short: "Show participants",
		Long:  `show participants prints all participants of the room, active or not.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			participants, err := persister.GetParticipants(args[0], false)
			if err != nil {
				globals.AppLogger.Error("could not get participants", "room", args[0], "error", err)
				return
			}
			printJSON(participants)
		},
	}
	var cmdShowSnapshots = &cobra.Command{
		Use:   "snapshots [room id]",
		Short: "Show snapshots",
		Long:  `show snapshots lists the snapshots of the room, newest first.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			list, err := snapshots.List(args[0])
			if err != nil {
				globals.AppLogger.Error("could not get snapshots", "room", args[0], "error", err)
				return
			}
			printJSON(list)
		},
	}
	var cmdShowPresence = &cobra.Command{
		Use:   "presence [room id]",
		Short: "Show presence",
		Long:  `show presence prints the participants of the room that are online according to the redis presence mirror.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if globalConfig.PresenceConfig.RedisAddr == "" {
				globals.AppLogger.Error("no redis presence mirror configured")
				return
			}
			mirror := session.NewRedisMirror(globalConfig.PresenceConfig.RedisAddr, globalConfig.PresenceConfig.RedisPassword,
				globalConfig.PresenceConfig.RedisDB, globalConfig.PresenceConfig.TTL)
			defer mirror.Close()
			online, err := mirror.OnlineParticipants(context.Background(), args[0], time.Now())
			if err != nil {
				globals.AppLogger.Error("could not get presence", "room", args[0], "error", err)
				return
			}
			printJSON(online)
		},
	}
	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "delete room",
		Long:  `delete removes rooms.`,
	}
	var cmdDeleteRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Delete room",
		Long:  `delete room removes the room with the given id together with its participants, elements and snapshots.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{Id: args[0]}
			if err := persister.DeleteRoom(&room); err != nil {
				globals.AppLogger.Error("could not delete room", "room", args[0], "error", err)
				return
			}
			globals.AppLogger.Info("room deleted", "room", args[0])
		},
	}
	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "create/update room",
		Long:  `set creates or updates a room.`,
	}
	var cmdSetRoom = &cobra.Command{
		Use:   "room [room definition]",
		Short: "Set room",
		Long:  `set room creates or updates a room. If the room definition is "-", the definition is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room, err := decodeRoom(args[0], os.Stdin)
			if err != nil {
				globals.AppLogger.Error("could not decode room", "error", err)
				return
			}
			var existing *types.Room
			oldRoom := types.Room{Id: room.Id}
			if err := persister.GetRoom(&oldRoom); err == nil {
				existing = &oldRoom
			} else {
				globals.AppLogger.Info("room does not exist, creating", "room", room.Id)
			}
			if room.OwnerId == "" {
				globals.AppLogger.Warn("no owner set", "room", room.Id)
			}
			room = prepareRoom(room, existing, globalConfig.RoomConfig.DefaultMaxUsers, time.Now().UTC())
			if err := persister.StoreRoom(room); err != nil {
				globals.AppLogger.Error("could not store room", "error", err)
				return
			}
			printJSON(room.Public())
		},
	}
	var cmdSnapshot = &cobra.Command{
		Use:   "snapshot",
		Short: "capture/restore snapshots",
		Long:  `snapshot captures or restores room snapshots, acting as the configured admin user.`,
	}
	var snapshotDescription string
	var cmdSnapshotCapture = &cobra.Command{
		Use:   "capture [room id] [name]",
		Short: "Capture snapshot",
		Long:  `snapshot capture stores the current elements of the room as a new snapshot. Without a name, "Snapshot <n>" is used.`,
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			name := ""
			if len(args) > 1 {
				name = args[1]
			}
			snapshot, err := snapshots.Capture(args[0], admin, name, snapshotDescription)
			if err != nil {
				globals.AppLogger.Error("could not capture snapshot", "room", args[0], "error", err)
				return
			}
			printJSON(snapshot)
		},
	}
	cmdSnapshotCapture.Flags().StringVarP(&snapshotDescription, "description", "d", "", "snapshot description")
	var cmdSnapshotRestore = &cobra.Command{
		Use:   "restore [room id] [snapshot id]",
		Short: "Restore snapshot",
		Long: `snapshot restore replaces the current elements of the room with copies of the snapshot's elements.
Clients connected to a running server only see the result after reconnecting.`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			restored, err := snapshots.Restore(args[0], admin, args[1])
			if err != nil {
				globals.AppLogger.Error("could not restore snapshot", "room", args[0], "snapshot", args[1], "error", err)
				return
			}
			printJSON(restored)
		},
	}
	var rootCmd = &cobra.Command{Use: "lightspeed-whiteboard-admin"}
	rootCmd.AddCommand(cmdShow, cmdDelete, cmdSet, cmdSnapshot)
	cmdShow.AddCommand(cmdShowRooms, cmdShowRoom, cmdShowElements, cmdShowParticipants, cmdShowPresence, cmdShowSnapshots)
	cmdDelete.AddCommand(cmdDeleteRoom)
	cmdSet.AddCommand(cmdSetRoom)
	cmdSnapshot.AddCommand(cmdSnapshotCapture, cmdSnapshotRestore)
	rootCmd.SetArgs(pflag.Args())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
