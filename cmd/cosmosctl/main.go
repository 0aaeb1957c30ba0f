package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/bus"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/config"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/daemon"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/session"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
	intsync "github.com/Osvaldoduarte/cosmos-copilot/internal/sync"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", session.ConfigPath(), "path to config.toml")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	internalFlag := flag.Bool("internal", false, "ask: send the question as an internal query")
	timeoutFlag := flag.Duration("timeout", 90*time.Second, "overall command timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Resolve(*configFlag)
	if err != nil {
		fatal(err)
	}
	sessionName := session.Resolve(*sessionFlag, cfg.DefaultSession)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}
	// One-shot commands do not need the push channel.
	cfg.Sync.Push = false

	var (
		engine *intsync.Engine
		events *bus.Bus
	)
	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Program:     "cosmosctl",
			Config:      cfg,
			Quiet:       true,
		}),
		fx.Populate(&engine, &events),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		fatal(fmt.Errorf("cannot open session %q: %w", sessionName, err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		fatal(err)
	}
	cmdErr := run(ctx, engine, events, args, *jsonFlag, *internalFlag)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = app.Stop(stopCtx)

	if cmdErr != nil {
		fatal(cmdErr)
	}
}

func run(ctx context.Context, e *intsync.Engine, events *bus.Bus, args []string, jsonOut, internal bool) error {
	switch args[0] {
	case "conversations":
		return cmdConversations(ctx, e, jsonOut)
	case "messages":
		if len(args) < 2 {
			return usageError("messages <conversation-id>")
		}
		return cmdMessages(ctx, e, args[1], jsonOut)
	case "send":
		if len(args) < 3 {
			return usageError("send <conversation-id> <text>")
		}
		return cmdSend(ctx, e, args[1], strings.Join(args[2:], " "), jsonOut)
	case "ask":
		if len(args) < 3 {
			return usageError("ask <conversation-id> <question>")
		}
		kind := store.QueryAnalysis
		if internal {
			kind = store.QueryInternal
		}
		if _, err := e.Select(ctx, args[1]); err != nil {
			return err
		}
		st, err := e.Ask(ctx, args[1], strings.Join(args[2:], " "), kind)
		if err != nil {
			return err
		}
		printSuggestion(st, jsonOut)
		return nil
	case "analyze":
		if len(args) < 3 {
			return usageError("analyze <conversation-id> <message-id>")
		}
		return cmdAnalyze(ctx, e, events, args[1], args[2], jsonOut)
	case "delete":
		if len(args) < 2 {
			return usageError("delete <conversation-id>")
		}
		if err := e.DeleteConversation(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[1])
		return nil
	case "start":
		if len(args) < 3 {
			return usageError("start <number> <text>")
		}
		id, err := e.StartConversation(ctx, args[1], strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("Started %s\n", id)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func cmdConversations(ctx context.Context, e *intsync.Engine, jsonOut bool) error {
	if err := e.RefreshConversations(ctx); err != nil {
		return err
	}
	rows := e.Conversations()
	if jsonOut {
		outputJSON(rows)
		return nil
	}
	if len(rows) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, r := range rows {
		unread := ""
		if r.Unread > 0 {
			unread = fmt.Sprintf(" (%d)", r.Unread)
		}
		fmt.Printf("%-32s %-24s %s%s\n", r.ID, r.DisplayName, r.Preview, unread)
	}
	totals := e.TotalUnread()
	fmt.Printf("\n%d unread messages in %d conversations\n", totals.Messages, totals.Conversations)
	return nil
}

func cmdMessages(ctx context.Context, e *intsync.Engine, convID string, jsonOut bool) error {
	if _, err := e.Select(ctx, convID); err != nil {
		return err
	}
	list, _ := e.Messages(convID)
	if jsonOut {
		outputJSON(list)
		return nil
	}
	for _, m := range list {
		ts := time.Unix(m.Timestamp, 0).Format("2006-01-02 15:04")
		content := m.Content
		if content == "" {
			content = "[" + string(m.MediaType) + "]"
		}
		fmt.Printf("%s  %-8s %s\n", ts, m.Sender, content)
	}
	return nil
}

func cmdSend(ctx context.Context, e *intsync.Engine, convID, text string, jsonOut bool) error {
	id, err := e.Send(ctx, convID, text)
	if err != nil {
		return err
	}
	if jsonOut {
		outputJSON(map[string]string{"message_id": id})
		return nil
	}
	fmt.Printf("Sent %s\n", id)
	return nil
}

func cmdAnalyze(ctx context.Context, e *intsync.Engine, events *bus.Bus, convID, msgID string, jsonOut bool) error {
	if _, err := e.Select(ctx, convID); err != nil {
		return err
	}
	ch, unsubscribe := events.Subscribe(bus.CopilotChanged, 16)
	defer unsubscribe()

	if err := e.Analyze(convID, msgID); err != nil {
		return err
	}
	for {
		st := e.Copilot(convID)
		if st.Status != store.CopilotLoading {
			printSuggestion(st, jsonOut)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func printSuggestion(st store.CopilotState, jsonOut bool) {
	if jsonOut {
		outputJSON(st)
		return
	}
	if st.Result == nil {
		fmt.Printf("Status: %s\n", st.Status)
		return
	}
	fmt.Println(st.Result.Answer)
	for _, f := range st.Result.FollowUps {
		mark := " "
		if f.Recommended {
			mark = "*"
		}
		fmt.Printf("  %s %s\n", mark, f.Text)
	}
	if v := st.Result.Video; v != nil {
		fmt.Printf("  video: %s %s\n", v.Title, v.URL)
	}
}

func usageError(usage string) error {
	return errors.New("usage: cosmosctl " + usage)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: cosmosctl [--session <name>] [--json] [--internal] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  conversations              List conversations")
	fmt.Fprintln(os.Stderr, "  messages <id>              Show a conversation's history")
	fmt.Fprintln(os.Stderr, "  send <id> <text>           Send a message")
	fmt.Fprintln(os.Stderr, "  ask <id> <question>        Ask the copilot")
	fmt.Fprintln(os.Stderr, "  analyze <id> <msg-id>      Suggest a reply to a customer message")
	fmt.Fprintln(os.Stderr, "  delete <id>                Delete a conversation")
	fmt.Fprintln(os.Stderr, "  start <number> <text>      Start a conversation")
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
