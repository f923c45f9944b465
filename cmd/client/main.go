package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"realtime_go/internal/dedup"
	"realtime_go/internal/event"
	"realtime_go/internal/logging"
	"realtime_go/internal/room"
	"realtime_go/internal/unread"
	"realtime_go/internal/wsclient"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "realtime-client",
	Short: "Command line client for the realtime server",
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect as a user and print unread totals as they change",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return watch(ctx, cmd)
	},
}

func init() {
	logging.Init(logging.Config{Level: "info"})

	flags := watchCmd.Flags()
	flags.String("url", "ws://localhost:8000/ws", "websocket endpoint")
	flags.String("token", "", "bearer token (env REALTIME_TOKEN)")
	flags.String("user", "", "username the token was issued for")
	flags.String("store", "ekv", "unread store: ekv or bolt")
	flags.String("dir", defaultDir(), "directory for the unread store")
	flags.String("password", "", "ekv store password (env REALTIME_STORE_PASSWORD)")
	flags.StringSlice("community", nil, "community ids to join")

	v := viper.GetViper()
	v.SetEnvPrefix("REALTIME")
	v.AutomaticEnv()
	for _, name := range []string{"url", "token", "user", "store", "dir", "password", "community"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
	_ = v.BindEnv("password", "REALTIME_STORE_PASSWORD")

	rootCmd.AddCommand(watchCmd)
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".realtime"
	}
	return filepath.Join(home, ".realtime")
}

func openStore(kind, dir, password string) (unread.Store, func(), error) {
	switch kind {
	case "bolt":
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, errors.WithStack(err)
		}
		s, err := unread.OpenBoltStore(filepath.Join(dir, "unread.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "ekv":
		if password == "" {
			return nil, nil, errors.New("ekv store requires --password")
		}
		s, err := unread.OpenKVStore(filepath.Join(dir, "unread"), password)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return nil, nil, errors.Errorf("unknown store %q", kind)
	}
}

func watch(ctx context.Context, cmd *cobra.Command) error {
	v := viper.GetViper()
	user, token := v.GetString("user"), v.GetString("token")
	if user == "" || token == "" {
		return errors.New("--user and --token are required")
	}
	log := logging.WithUser(logging.WithComponent("client"), user)

	store, closeStore, err := openStore(v.GetString("store"), v.GetString("dir"), v.GetString("password"))
	if err != nil {
		return err
	}
	defer closeStore()

	svc := unread.NewService(store, dedup.New(8*time.Second), log)
	client, err := wsclient.Dial(ctx, v.GetString("url"), token, wsclient.WithUnread(svc), wsclient.WithLogger(log))
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	show := func(s unread.Snapshot) {
		fmt.Fprintf(out, "%s unread=%d total=%d\n", s.Kind, s.Total, svc.Total())
	}
	defer svc.Subscribe(unread.KindChat, show)()
	defer svc.Subscribe(unread.KindCommunity, show)()

	client.On(event.TypeOnlineUsers, func(env event.Envelope) {
		var snap event.OnlineUsers
		if err := env.Into(&snap); err == nil {
			log.Info().Strs("users", snap.Users).Msg("online")
		}
	})
	client.On(event.TypeError, func(env event.Envelope) {
		var e event.Error
		if err := env.Into(&e); err == nil {
			log.Warn().Str("ref", string(e.Ref)).Msg(e.Message)
		}
	})

	if err := client.Register(user); err != nil {
		return err
	}
	for _, id := range v.GetStringSlice("community") {
		if err := client.Join(event.RoomRef{Kind: room.KindCommunity, CommunityID: id}); err != nil {
			return err
		}
	}

	err = client.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
