package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinal-call/config"
	"sentinal-call/internal/client"
	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/peer"
	"sentinal-call/internal/services"
	"sentinal-call/internal/session"
	"sentinal-call/internal/snapshot"
	sentinal_errors "sentinal-call/pkg/errors"
	"sentinal-call/pkg/logger"

	"github.com/google/uuid"
)

func main() {
	profileFlag := flag.String("profile", "", "profile file (default: user config dir)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.LoadConfig()
	profilePath := *profileFlag
	if profilePath == "" {
		path, err := defaultProfilePath()
		if err != nil {
			fail(err)
		}
		profilePath = path
	}

	if args[0] == "token" {
		cmdToken(cfg, profilePath, args[1:])
		return
	}

	prof, err := loadProfile(profilePath)
	if err != nil {
		fail(err)
	}
	rt, err := newRuntime(cfg, prof)
	if err != nil {
		fail(err)
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "call":
		err = cmdCall(ctx, rt, args[1:])
	case "listen":
		err = cmdListen(ctx, rt, args[1:])
	case "hangup":
		err = cmdHangup(ctx, rt)
	case "status":
		err = cmdStatus(ctx, rt)
	case "history":
		err = cmdHistory(ctx, rt, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		rt.close()
		fail(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: callctl [--profile <file>] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  token <user-id>              Issue a dev token and store the profile")
	fmt.Fprintln(os.Stderr, "  call [-video] <user-id>      Call a user and stay until hangup")
	fmt.Fprintln(os.Stderr, "  listen [-auto accept|reject] Wait for incoming calls")
	fmt.Fprintln(os.Stderr, "  hangup                       End the call remembered from a previous run")
	fmt.Fprintln(os.Stderr, "  status                       Show the remembered call")
	fmt.Fprintln(os.Stderr, "  history [-limit n]           List past calls")
}

func fail(err error) {
	if party, ok := sentinal_errors.BusyParty(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s is busy\n", party)
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

// runtime is everything a command needs to drive calls as the profile user.
type runtime struct {
	log    *logger.Logger
	client *client.Client
	cache  *snapshot.FileCache
	agent  *session.Agent
	events chan string
}

func newRuntime(cfg *config.Config, prof profile) (*runtime, error) {
	log := logger.New(cfg.LogMode)

	cachePath := cfg.SnapshotPath
	if cachePath == "" {
		path, err := snapshot.DefaultPath()
		if err != nil {
			return nil, err
		}
		cachePath = path
	}

	backendURL := prof.BackendURL
	if backendURL == "" {
		backendURL = cfg.BackendURL
	}
	c := client.New(client.Config{
		BaseURL: backendURL,
		Token:   prof.Token,
		UserID:  prof.userID(),
		Logger:  log,
	})

	rt := &runtime{
		log:    log,
		client: c,
		cache:  snapshot.NewFileCache(cachePath),
		events: make(chan string, 32),
	}
	rt.agent = session.NewAgent(session.Config{
		UserID:               prof.userID(),
		Backend:              c,
		Push:                 c,
		Media:                peer.StaticSource{},
		Peers:                peer.PionFactory(peer.Options{ICEServers: cfg.ICEServers, Logger: log}),
		Cache:                rt.cache,
		Listener:             rt.listener(),
		Logger:               log,
		IncomingPollInterval: cfg.IncomingPollInterval,
		IncomingWindow:       cfg.IncomingWindow,
		StatusPollInterval:   cfg.StatusPollInterval,
		SignalPollInterval:   cfg.SignalPollInterval,
	})
	return rt, nil
}

func (rt *runtime) close() {
	rt.agent.Stop()
	_ = rt.client.Close()
	_ = rt.log.Sync()
}

func (rt *runtime) listener() session.Funcs {
	return session.Funcs{
		OnIncoming: func(c call.Call) {
			fmt.Printf("incoming %s call %s from %s\n", c.Type, c.ID, c.CallerID)
			rt.notify("incoming")
		},
		OnStatusChanged: func(c call.Call) {
			fmt.Printf("call %s is %s\n", c.ID, c.Status)
		},
		OnConnected: func() {
			fmt.Println("media connected")
		},
		OnEnded: func(d int) {
			fmt.Printf("call ended after %ds\n", d)
		},
		OnFailed: func(err error) {
			fmt.Printf("call failed: %v\n", err)
		},
		OnUnavailable: func(err error) {
			fmt.Printf("server unreachable: %v\n", err)
		},
		OnRecovered: func() {
			fmt.Println("server reachable again")
		},
	}
}

func (rt *runtime) notify(event string) {
	select {
	case rt.events <- event:
	default:
	}
}

func cmdToken(cfg *config.Config, path string, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: callctl token <user-id>")
		os.Exit(1)
	}
	userID, err := uuid.Parse(args[0])
	if err != nil {
		fail(fmt.Errorf("bad user id: %w", err))
	}
	auth := services.NewAuthService(cfg.JWTSecret, time.Duration(cfg.JWTExpiryMin)*time.Minute)
	token, expires, err := auth.IssueAccessToken(userID)
	if err != nil {
		fail(err)
	}
	if err := saveProfile(path, profile{BackendURL: cfg.BackendURL, UserID: userID.String(), Token: token}); err != nil {
		fail(err)
	}
	fmt.Printf("profile written to %s (token expires %s)\n", path, expires.Format(time.RFC3339))
}

func cmdCall(ctx context.Context, rt *runtime, args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	video := fs.Bool("video", false, "place a video call")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: callctl call [-video] <user-id>")
	}
	receiverID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("bad user id: %w", err)
	}
	t := call.TypeAudio
	if *video {
		t = call.TypeVideo
	}

	co, err := rt.agent.Dial(ctx, receiverID, t)
	if err != nil {
		return err
	}
	fmt.Printf("ringing %s (call %s), ctrl-c to hang up\n", receiverID, co.Call().ID)
	return waitOrHangup(ctx, co)
}

func cmdListen(ctx context.Context, rt *runtime, args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	auto := fs.String("auto", "accept", "what to do with incoming calls: accept or reject")
	_ = fs.Parse(args)
	if *auto != "accept" && *auto != "reject" {
		return fmt.Errorf("bad -auto value %q", *auto)
	}

	if co, ok, err := rt.agent.Resume(ctx); err != nil {
		return err
	} else if ok {
		fmt.Printf("resumed call %s (%s)\n", co.Call().ID, co.Call().Status)
	}

	rt.agent.Start(ctx)
	fmt.Println("waiting for calls, ctrl-c to stop")
	for {
		select {
		case <-ctx.Done():
			if co := rt.agent.Active(); co != nil {
				return hangup(co)
			}
			return nil
		case <-rt.events:
			co := rt.agent.Active()
			if co == nil {
				continue
			}
			var err error
			if *auto == "accept" {
				err = co.Accept(ctx)
			} else {
				err = co.Reject(ctx)
			}
			if err != nil {
				fmt.Printf("%s failed: %v\n", *auto, err)
			}
		}
	}
}

func cmdHangup(ctx context.Context, rt *runtime) error {
	co, ok, err := rt.agent.Resume(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no call in progress")
		return nil
	}
	return hangup(co)
}

func cmdStatus(ctx context.Context, rt *runtime) error {
	snap, ok, err := rt.cache.Load()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("no call remembered")
		return nil
	}
	fmt.Printf("Call:     %s\n", snap.CallID)
	fmt.Printf("Role:     %s\n", snap.Role)
	fmt.Printf("Type:     %s\n", snap.Type)
	fmt.Printf("Saved as: %s at %s\n", snap.Status, snap.SavedAt.Format(time.RFC3339))

	id, err := uuid.Parse(snap.CallID)
	if err != nil {
		return err
	}
	current, err := rt.client.GetCall(ctx, id)
	if err != nil {
		return fmt.Errorf("server record: %w", err)
	}
	fmt.Printf("Server:   %s\n", current.Status)
	return nil
}

func cmdHistory(ctx context.Context, rt *runtime, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of calls")
	_ = fs.Parse(args)

	calls, total, err := rt.client.History(ctx, 1, *limit)
	if err != nil {
		return err
	}
	for _, c := range calls {
		duration := "-"
		if c.DurationSeconds != nil {
			duration = fmt.Sprintf("%ds", *c.DurationSeconds)
		}
		fmt.Printf("%s  %-5s  %-8s  %s -> %s  %s\n",
			c.StartedAt.Local().Format(time.DateTime), c.Type, c.Status, c.CallerID, c.ReceiverID, duration)
	}
	fmt.Printf("%d of %d\n", len(calls), total)
	return nil
}

func waitOrHangup(ctx context.Context, co *session.Coordinator) error {
	select {
	case <-co.Done():
		return nil
	case <-ctx.Done():
		return hangup(co)
	}
}

// hangup runs on its own deadline since the command context is usually
// already cancelled by the interrupt.
func hangup(co *session.Coordinator) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := co.Hangup(ctx); err != nil && !errors.Is(err, sentinal_errors.ErrCallTerminated) {
		return err
	}
	return nil
}
