package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/config"
	"github.com/mossy-p/meshcall/internal/call"
	"github.com/mossy-p/meshcall/internal/cli"
	"github.com/mossy-p/meshcall/internal/codec"
	"github.com/mossy-p/meshcall/internal/logger"
	"github.com/mossy-p/meshcall/internal/media"
	"github.com/mossy-p/meshcall/internal/peer"
	"github.com/mossy-p/meshcall/internal/presence"
	"github.com/mossy-p/meshcall/internal/redis"
	"github.com/mossy-p/meshcall/internal/signaling"
)

type joinOptions struct {
	room    string
	user    string
	token   string
	backend string
	codec   string
	manual  bool
}

func newJoinCmd() *cobra.Command {
	var opts joinOptions
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room and wait for calls",
		Long: `Join a room and drive the call from an interactive prompt.

Examples:
  meshcall join --room lobby --user alice
  meshcall join --room lobby --user bob --manual
  meshcall join --room lobby --user carol --backend redis`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return join(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.room, "room", "r", "", "room to join")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "participant id")
	cmd.Flags().StringVar(&opts.token, "token", "", "relay token (default: log in as --user)")
	cmd.Flags().StringVar(&opts.backend, "backend", "", "signaling backend: websocket or redis (default $SIGNAL_BACKEND)")
	cmd.Flags().StringVar(&opts.codec, "codec", "", "wire codec: json or msgpack (default $SIGNAL_CODEC)")
	cmd.Flags().BoolVar(&opts.manual, "manual", false, "wait for 'start' before acquiring media")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func join(ctx context.Context, opts joinOptions) error {
	cfg := config.Load()
	if opts.backend != "" {
		cfg.Client.SignalBackend = opts.backend
	}
	if opts.codec != "" {
		cfg.Client.Codec = opts.codec
	}
	manual := opts.manual || cfg.Client.CallMode == "manual"

	// Logs go to a file only, so they do not interleave with the prompt.
	if cfg.Log.Filename == "" {
		cfg.Log.Filename = "meshcall.log"
	}
	if err := logger.Init(cfg.Log, "client"); err != nil {
		return fmt.Errorf("invalid log configuration: %w", err)
	}
	defer logger.Sync()
	log := logger.Named("meshcall").With(zap.String("room", opts.room), zap.String("user", opts.user))

	c, err := codec.ByName(cfg.Client.Codec)
	if err != nil {
		return err
	}

	bus, gate, cleanup, err := connectBackend(ctx, cfg, opts, c, log)
	if err != nil {
		return err
	}
	defer cleanup()

	capturer, err := media.NewDeviceCapturer(log)
	if err != nil {
		return fmt.Errorf("prepare capture: %w", err)
	}

	api, err := peer.NewAPI()
	if err != nil {
		return fmt.Errorf("prepare webrtc: %w", err)
	}

	console := cli.NewConsole(os.Stdout)
	session, err := call.New(call.Options{
		RoomID:     opts.room,
		LocalID:    opts.user,
		Manual:     manual,
		ICEServers: iceServers(cfg.Client.STUNServers),
	}, call.Deps{
		Media:    media.NewManager(capturer, media.NopRenderer{}, log),
		Bus:      bus,
		Codec:    c,
		Peers:    peer.NewFactory(api),
		Presence: gate,
		Sink:     peer.NewDrainSink(log),
		Observer: console,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	repl := &cli.REPL{Room: opts.room, LocalID: opts.user, Session: session, Console: console}
	err = repl.Run(ctx, os.Stdin)

	hangup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, cerr := session.Cleanup(hangup); cerr != nil && !errors.Is(cerr, call.ErrClosed) {
		log.Warn("cleanup on exit", zap.Error(cerr))
	}
	return err
}

// connectBackend returns the bus and presence gate for the configured
// backend, and a func releasing them.
func connectBackend(ctx context.Context, cfg *config.Config, opts joinOptions, c codec.Codec, log *zap.Logger) (signaling.Bus, presence.Gate, func(), error) {
	switch cfg.Client.SignalBackend {
	case "websocket", "ws":
		token := opts.token
		if token == "" {
			var err error
			if token, err = login(ctx, cfg.Client.ServerURL, opts.user); err != nil {
				return nil, nil, nil, err
			}
		}
		// The relay records presence while our websocket is open.
		bus := signaling.NewWSBus(cfg.Client.SignalURL, token, c, log)
		return bus, presence.NewHTTP(cfg.Client.ServerURL), func() {}, nil

	case "redis":
		if err := redis.Connect(ctx, cfg.Redis); err != nil {
			return nil, nil, nil, err
		}
		store := presence.NewRedis(redis.GetClient())
		if err := store.Join(ctx, opts.room, opts.user); err != nil {
			_ = redis.Close()
			return nil, nil, nil, fmt.Errorf("announce presence: %w", err)
		}
		cleanup := func() {
			leave, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Leave(leave, opts.room, opts.user); err != nil {
				log.Warn("presence leave failed", zap.Error(err))
			}
			if err := redis.Close(); err != nil {
				log.Debug("close redis", zap.Error(err))
			}
		}
		return signaling.NewRedisBus(redis.GetClient()), store, cleanup, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown signaling backend %q", cfg.Client.SignalBackend)
	}
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

type loginResponse struct {
	Token string `json:"token"`
}

// login obtains a relay token for user. The demo relay accepts any
// password.
func login(ctx context.Context, serverURL, user string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": user, "password": user})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("login to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login to %s: %s", serverURL, resp.Status)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.Token, nil
}
