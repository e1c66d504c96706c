// leadctl drives the lead service from a terminal through the same store
// and syncer a dashboard uses.
//
//	leadctl login --username ann --password ...
//	leadctl whoami
//	leadctl list
//	leadctl get <id>
//	leadctl create --name Ann --email ann@example.com --message "hi"
//	leadctl update <id> --name "Ann B."
//	leadctl delete <id>
//	leadctl watch
//	leadctl logout
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/isdelr/leadboard-be/internal/client/api"
	"github.com/isdelr/leadboard-be/internal/client/store"
	"github.com/isdelr/leadboard-be/internal/client/syncer"
	"github.com/isdelr/leadboard-be/internal/common"
	"github.com/isdelr/leadboard-be/internal/logger"
	"github.com/isdelr/leadboard-be/internal/models"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		server    string
		tokenFile string
		logLevel  string
		retries   uint64
	)

	flagSet := pflag.NewFlagSet("leadctl", pflag.ContinueOnError)
	flagSet.StringVar(&server, "server", envOr("LEADCTL_SERVER", "http://localhost:8080"), "lead service base URL")
	flagSet.StringVar(&tokenFile, "token-file", defaultTokenFile(), "where the session token is kept between invocations")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flagSet.Uint64Var(&retries, "retries", 3, "retries for requests that could not reach the service")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() == 0 {
		printUsage(flagSet)
		return errors.New("missing command")
	}
	logger.Init(logLevel, false)

	client, err := api.New(server, nil)
	if err != nil {
		return err
	}

	st := store.New()
	go st.Run()
	defer st.Stop()

	sy := syncer.New(client, st, syncer.WithRetry(retries, 200*time.Millisecond))
	defer sy.Close()

	sess := &session{path: tokenFile}
	if saved, err := sess.load(); err != nil {
		return err
	} else if saved != nil {
		if err := st.SetAuth(saved.Token, saved.User); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, cmdArgs := flagSet.Arg(0), flagSet.Args()[1:]
	err = dispatch(ctx, cmd, cmdArgs, client, sy, st, sess, out)
	if errors.Is(err, syncer.ErrReauthRequired) {
		_ = sess.remove()
		return fmt.Errorf("%w; run 'leadctl login' again", err)
	}
	return err
}

func dispatch(ctx context.Context, cmd string, args []string, client *api.Client, sy *syncer.Syncer, st *store.Store, sess *session, out io.Writer) error {
	switch cmd {
	case "login":
		return cmdLogin(ctx, args, sy, st, sess, out)
	case "logout":
		if err := sy.Logout(ctx); err != nil {
			return err
		}
		return sess.remove()
	case "whoami":
		user, err := client.Me(ctx, st.Token())
		if common.IsAuthError(err) {
			_ = st.ClearAuth()
			return fmt.Errorf("%w: %w", syncer.ErrReauthRequired, err)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%s)\n", user.Username, user.ID)
		return nil
	case "list":
		if err := wait(ctx, sy.List()); err != nil {
			return err
		}
		printLeads(out, st.Snapshot().Leads())
		return nil
	case "get":
		if len(args) != 1 {
			return errors.New("usage: leadctl get <id>")
		}
		op := sy.Get(args[0])
		if err := wait(ctx, op); err != nil {
			return err
		}
		printLeads(out, []models.Lead{op.Lead()})
		return nil
	case "create":
		return cmdCreate(ctx, args, sy, out)
	case "update":
		return cmdUpdate(ctx, args, sy, out)
	case "delete":
		if len(args) != 1 {
			return errors.New("usage: leadctl delete <id>")
		}
		if err := wait(ctx, sy.Delete(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %s\n", args[0])
		return nil
	case "watch":
		if err := wait(ctx, sy.List()); err != nil {
			return err
		}
		unsubscribe, err := st.Subscribe(func(s store.State) {
			fmt.Fprintln(out, "---")
			printLeads(out, s.Leads())
		})
		if err != nil {
			return err
		}
		defer unsubscribe()
		err = sy.Watch(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdLogin(ctx context.Context, args []string, sy *syncer.Syncer, st *store.Store, sess *session, out io.Writer) error {
	var username, password string
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.StringVarP(&username, "username", "u", "", "identity username")
	fs.StringVarP(&password, "password", "p", os.Getenv("LEADCTL_PASSWORD"), "password (or LEADCTL_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if username == "" || password == "" {
		return errors.New("usage: leadctl login --username <name> --password <password>")
	}

	user, err := sy.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if err := sess.save(savedSession{Token: st.Token(), User: user}); err != nil {
		return err
	}
	fmt.Fprintf(out, "logged in as %s\n", user.Username)
	return nil
}

func cmdCreate(ctx context.Context, args []string, sy *syncer.Syncer, out io.Writer) error {
	var input models.LeadInput
	fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
	fs.StringVar(&input.Name, "name", "", "lead name")
	fs.StringVar(&input.Email, "email", "", "lead email")
	fs.StringVar(&input.Message, "message", "", "optional message")
	if err := fs.Parse(args); err != nil {
		return err
	}

	op := sy.Create(input)
	if err := wait(ctx, op); err != nil {
		return err
	}
	printLeads(out, []models.Lead{op.Lead()})
	return nil
}

func cmdUpdate(ctx context.Context, args []string, sy *syncer.Syncer, out io.Writer) error {
	fs := pflag.NewFlagSet("update", pflag.ContinueOnError)
	name := fs.String("name", "", "new name")
	message := fs.String("message", "", "new message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: leadctl update <id> [--name ...] [--message ...]")
	}

	var patch models.LeadPatch
	if fs.Changed("name") {
		patch.Name = name
	}
	if fs.Changed("message") {
		patch.Message = message
	}

	op := sy.Update(fs.Arg(0), patch)
	if err := wait(ctx, op); err != nil {
		return err
	}
	printLeads(out, []models.Lead{op.Lead()})
	return nil
}

func wait(ctx context.Context, op *syncer.Operation) error {
	err := op.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		op.Cancel()
	}
	return err
}

func printLeads(out io.Writer, leads []models.Lead) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tCREATED\tMESSAGE")
	for _, l := range leads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.ID, l.Name, l.Email, l.CreatedAt.Local().Format(time.DateTime), l.Message)
	}
	_ = tw.Flush()
}

func printUsage(fs *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: leadctl [flags] <login|logout|whoami|list|get|create|update|delete|watch> [args]")
	fmt.Fprintln(os.Stderr)
	fs.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".leadctl-token"
	}
	return filepath.Join(dir, "leadctl", "session.json")
}
